package plugin

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotEnabled is returned when a disabled plugin is asked to load.
	ErrNotEnabled = errors.New("plugin is not enabled")
	// ErrNotFound is returned when a required plugin is not registered.
	ErrNotFound = errors.New("plugin not found")
)

// Identity is the stable key a plugin owns registrations and state under.
type Identity string

// Command documents one chat command a plugin answers to.
type Command struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Commands is a list of documented commands.
//
// Accepted formats:
//   - string array: commands: [help, echo]
//   - object array: commands: [{name: help, aliases: [h], description: ...}]
type Commands []Command

func (c *Commands) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]Command, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, Command{Name: strings.TrimSpace(item.Value)})
		case yaml.MappingNode:
			var tmp Command
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid command object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid command entry (must be string or object)")
		}
	}

	*c = out
	return nil
}

// Info describes a plugin. Built-in plugins usually embed it as YAML.
type Info struct {
	Name        string         `yaml:"name"`
	Author      string         `yaml:"author,omitempty"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description,omitempty"`
	Help        string         `yaml:"help,omitempty"`
	Disabled    bool           `yaml:"disabled,omitempty"`
	Hidden      bool           `yaml:"hidden,omitempty"`
	Requires    []string       `yaml:"requires,omitempty"`
	Commands    Commands       `yaml:"commands,omitempty"`
	Extra       map[string]any `yaml:"extra,omitempty"`
}

// Identity returns the identity the plugin registers under.
func (i Info) Identity() Identity {
	return Identity(i.Name)
}

// ParseInfo decodes and validates a YAML plugin description.
func ParseInfo(data []byte) (Info, error) {
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("failed to parse plugin info YAML: %w", err)
	}
	if err := info.Validate(); err != nil {
		return Info{}, fmt.Errorf("invalid plugin info: %w", err)
	}
	if info.Extra == nil {
		info.Extra = map[string]any{}
	}
	return info, nil
}

// MustParseInfo is ParseInfo for embedded descriptions known at build time.
func MustParseInfo(data []byte) Info {
	info, err := ParseInfo(data)
	if err != nil {
		panic(err)
	}
	return info
}

// Validate checks required fields.
func (i Info) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(i.Name, "/\\ ") {
		return fmt.Errorf("name %q must not contain path separators or spaces", i.Name)
	}
	if i.Version == "" {
		return fmt.Errorf("version is required")
	}
	for _, req := range i.Requires {
		if req == i.Name {
			return fmt.Errorf("plugin %q cannot require itself", i.Name)
		}
	}
	for _, cmd := range i.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("command name is required")
		}
	}
	return nil
}
