package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProgramConfig describes one helper program the host may spawn as a peer.
type ProgramConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile represents the structure of peers.yaml
type ConfigFile struct {
	Programs []ProgramConfig `yaml:"programs" json:"programs"`
}

// LoadPrograms reads a configuration file (YAML or JSON) and returns a map of
// program names to configs. A missing file means "no local peers configured"
// and yields an empty map.
func LoadPrograms(path string) (map[string]ProgramConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ProgramConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read peers config: %w", err)
	}

	var cfg ConfigFile
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse peers.json: %w", err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse peers.yaml: %w", err)
		}
	}

	programs := make(map[string]ProgramConfig)
	for _, program := range cfg.Programs {
		if program.Name == "" {
			continue
		}
		programs[program.Name] = program
	}

	return programs, nil
}
