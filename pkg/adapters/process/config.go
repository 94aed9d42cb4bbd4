package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Command is an allow-listed external program exposed as an action.
type Command struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
}

// ConfigFile represents the structure of actions.yaml
type ConfigFile struct {
	Actions []Command `yaml:"actions" json:"actions"`
}

// LoadCommands reads a configuration file (YAML or JSON) and returns the commands by name.
func LoadCommands(path string) (map[string]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read actions config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		// Default to YAML
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	commands := make(map[string]Command, len(cfg.Actions))
	for i, c := range cfg.Actions {
		if c.Name == "" || c.Command == "" {
			return nil, fmt.Errorf("%s: actions[%d]: name and command are required", path, i)
		}
		if _, dup := commands[c.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate action %q", path, c.Name)
		}
		commands[c.Name] = c
	}
	return commands, nil
}
