package config

import "time"

// Config represents the complete murmur configuration.
type Config struct {
	Service    ServiceConfig         `yaml:"service" envPrefix:"SERVICE_"`
	Account    AccountConfig         `yaml:"account" envPrefix:"ACCOUNT_"`
	Command    CommandConfig         `yaml:"command" envPrefix:"COMMAND_"`
	ThreadPool ThreadPoolConfig      `yaml:"thread_pool" envPrefix:"THREAD_POOL_"`
	Timer      TimerConfig           `yaml:"timer" envPrefix:"TIMER_"`
	Debug      DebugConfig           `yaml:"debug" envPrefix:"DEBUG_"`
	State      StateConfig           `yaml:"state" envPrefix:"STATE_"`
	Transport  TransportConfig       `yaml:"transport" envPrefix:"TRANSPORT_"`
	Watchdog   WatchdogConfig        `yaml:"auto_restart_onebot" envPrefix:"AUTO_RESTART_ONEBOT_"`
	Plugins    map[string]PluginConf `yaml:"plugins"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" env:"NAME"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// AccountConfig identifies the bot account on the chat backend.
type AccountConfig struct {
	UserID   int64  `yaml:"user_id" env:"USER_ID"`
	NickName string `yaml:"nick_name" env:"NICK_NAME"`
}

// CommandConfig holds command parsing defaults.
type CommandConfig struct {
	// CommandStart lists the default command prefixes.
	CommandStart []string `yaml:"command_start" env:"COMMAND_START" envSeparator:","`
}

// ThreadPoolConfig sizes the worker pool.
type ThreadPoolConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	MaxWorkers int  `yaml:"max_workers" env:"MAX_WORKERS"`
	// QueueSize is the backlog above which the pool warns. The queue is
	// unbounded.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// TimerConfig tunes the timer loop.
type TimerConfig struct {
	IdleWait time.Duration `yaml:"idle_wait" env:"IDLE_WAIT"`
	// StatusInterval logs a runtime status line periodically. Zero disables it.
	StatusInterval time.Duration `yaml:"status_interval" env:"STATUS_INTERVAL"`
}

// DebugConfig toggles diagnostics.
type DebugConfig struct {
	SaveDump bool `yaml:"save_dump" env:"SAVE_DUMP"`
}

// StateConfig defines where the diagnostics database lives.
type StateConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// TransportConfig selects how events reach murmur.
type TransportConfig struct {
	HTTP HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	WS   WebSocketConfig `yaml:"ws" envPrefix:"WS_"`
}

// HTTPConfig configures the HTTP POST event receiver and outbound API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen" env:"LISTEN"`
	Path    string `yaml:"path" env:"PATH"`
	// Secret verifies the X-Signature header of inbound posts.
	Secret string `yaml:"secret" env:"SECRET"`
	// APIURL is the backend's HTTP API used for outbound actions.
	APIURL      string        `yaml:"api_url" env:"API_URL"`
	AccessToken string        `yaml:"access_token" env:"ACCESS_TOKEN"`
	MaxBodySize string        `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
	DedupeSize  int           `yaml:"dedupe_size" env:"DEDUPE_SIZE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WebSocketConfig configures the forward WebSocket client.
type WebSocketConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	URL               string        `yaml:"url" env:"URL"`
	AccessToken       string        `yaml:"access_token" env:"ACCESS_TOKEN"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	DedupeSize        int           `yaml:"dedupe_size" env:"DEDUPE_SIZE"`
}

// WatchdogConfig tunes the backend heartbeat watchdog. Abnormal or missing
// heartbeats are always logged; Enable also asks the backend to restart.
type WatchdogConfig struct {
	Enable        bool          `yaml:"enable" env:"ENABLE"`
	CheckInterval time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	RestartDelay  time.Duration `yaml:"restart_delay" env:"RESTART_DELAY"`
}

// PluginConf defines configuration for a single plugin.
type PluginConf struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// IsEnabled reports whether the plugin may load. Plugins without an entry
// or without an explicit flag are enabled.
func (c *Config) IsEnabled(plugin string) bool {
	pc, ok := c.Plugins[plugin]
	if !ok || pc.Enabled == nil {
		return true
	}
	return *pc.Enabled
}

// PluginConfig returns the free-form config map of a plugin, never nil.
func (c *Config) PluginConfig(plugin string) map[string]any {
	if pc, ok := c.Plugins[plugin]; ok && pc.Config != nil {
		return pc.Config
	}
	return map[string]any{}
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "murmur",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Command: CommandConfig{
			CommandStart: []string{"/"},
		},
		ThreadPool: ThreadPoolConfig{
			Enabled:    true,
			MaxWorkers: 4,
			QueueSize:  64,
		},
		Timer: TimerConfig{
			IdleWait: time.Second,
		},
		State: StateConfig{
			Path: "./data/murmur.db",
		},
		Transport: TransportConfig{
			HTTP: HTTPConfig{
				Listen:      "127.0.0.1:5700",
				Path:        "/",
				MaxBodySize: "1MB",
				DedupeSize:  256,
				Timeout:     10 * time.Second,
			},
			WS: WebSocketConfig{
				URL:               "ws://127.0.0.1:3001",
				ReconnectInterval: 5 * time.Second,
				DedupeSize:        256,
			},
		},
		Watchdog: WatchdogConfig{
			CheckInterval: 5 * time.Second,
			RestartDelay:  2 * time.Second,
		},
		Plugins: make(map[string]PluginConf),
	}
}
