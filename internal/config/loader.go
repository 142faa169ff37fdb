package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MURMUR_SERVICE_LOG_LEVEL.
const EnvPrefix = "MURMUR_"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a YAML file, applies environment overrides
// and defaults, and validates the result. A directory path loads
// config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded from
// the environment before parsing, then MURMUR_* variables override fields.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Fingerprint returns the BLAKE3 hash of the config file at path, hex encoded.
func Fingerprint(path string) (string, error) {
	absPath, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// applyConfigDefaults fills zero values the YAML may have cleared.
func applyConfigDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Command.CommandStart == nil {
		cfg.Command.CommandStart = d.Command.CommandStart
	}
	if cfg.ThreadPool.MaxWorkers <= 0 {
		cfg.ThreadPool.MaxWorkers = d.ThreadPool.MaxWorkers
	}
	if cfg.ThreadPool.QueueSize <= 0 {
		cfg.ThreadPool.QueueSize = cfg.ThreadPool.MaxWorkers * 16
	}
	if cfg.Timer.IdleWait <= 0 {
		cfg.Timer.IdleWait = d.Timer.IdleWait
	}
	if cfg.Transport.HTTP.Path == "" {
		cfg.Transport.HTTP.Path = d.Transport.HTTP.Path
	}
	if cfg.Transport.HTTP.MaxBodySize == "" {
		cfg.Transport.HTTP.MaxBodySize = d.Transport.HTTP.MaxBodySize
	}
	if cfg.Transport.HTTP.Timeout <= 0 {
		cfg.Transport.HTTP.Timeout = d.Transport.HTTP.Timeout
	}
	if cfg.Transport.WS.ReconnectInterval <= 0 {
		cfg.Transport.WS.ReconnectInterval = d.Transport.WS.ReconnectInterval
	}
	if cfg.Watchdog.CheckInterval <= 0 {
		cfg.Watchdog.CheckInterval = d.Watchdog.CheckInterval
	}
	if cfg.Watchdog.RestartDelay <= 0 {
		cfg.Watchdog.RestartDelay = d.Watchdog.RestartDelay
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave the placeholder; validation reports it.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}

	for i, p := range cfg.Command.CommandStart {
		if strings.ContainsAny(p, "[]") {
			return fmt.Errorf("command.command_start[%d] %q must not contain [ or ]", i, p)
		}
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	http := cfg.Transport.HTTP
	if http.Enabled {
		if http.Listen == "" {
			return fmt.Errorf("transport.http.listen is required when transport.http.enabled is true")
		}
		if !strings.HasPrefix(http.Path, "/") {
			return fmt.Errorf("transport.http.path must start with / (got %q)", http.Path)
		}
		if _, err := ParseSize(http.MaxBodySize); err != nil {
			return fmt.Errorf("transport.http.max_body_size: %w", err)
		}
	}
	ws := cfg.Transport.WS
	if ws.Enabled {
		if !strings.HasPrefix(ws.URL, "ws://") && !strings.HasPrefix(ws.URL, "wss://") {
			return fmt.Errorf("transport.ws.url must be a ws:// or wss:// URL (got %q)", ws.URL)
		}
	}
	if envVarPattern.MatchString(http.Secret) || envVarPattern.MatchString(http.AccessToken) || envVarPattern.MatchString(ws.AccessToken) {
		return fmt.Errorf("transport: environment variable %s is not set", envVarPattern.FindString(http.Secret+http.AccessToken+ws.AccessToken))
	}

	for name, pc := range cfg.Plugins {
		if err := checkUnresolvedEnvVars(pc.Config, name); err != nil {
			return err
		}
	}
	return nil
}

func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if matches := envVarPattern.FindStringSubmatch(v); len(matches) > 1 {
				return fmt.Errorf("plugin %q: environment variable ${%s} is not set (config.%s)", pluginName, matches[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseSize parses sizes such as "512KB" or "1MB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}, {"B", 1}} {
		if strings.HasSuffix(s, unit.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			mult = unit.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// ParseInterval parses a Go duration or one of the words "hourly" and
// "daily".
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %q", interval)
	}
	return d, nil
}
