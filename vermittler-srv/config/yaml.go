package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func loadYAMLData(path string) (map[string]any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var data map[string]any
	if err := yaml.Unmarshal(src, &data); err != nil {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
