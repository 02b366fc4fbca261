package recon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.Verbosity < 0 || c.Verbosity > 2 {
		return fmt.Errorf("verbosity must be 0, 1 or 2, got %d", c.Verbosity)
	}
	if c.CameraThreshold <= 0 {
		return fmt.Errorf("cameraThreshold must be positive, got %g", c.CameraThreshold)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if _, err := ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Poisson.Depth < 1 {
		return fmt.Errorf("poisson.depth must be at least 1, got %d", c.Poisson.Depth)
	}
	if c.Normals.Neighbors != 0 && c.Normals.Neighbors < 3 {
		return fmt.Errorf("normals.neighbors must be at least 3, got %d", c.Normals.Neighbors)
	}
	if c.MQTT.Broker != "" && c.MQTT.PublishPrefix == "" {
		return fmt.Errorf("mqtt.publishPrefix is required when mqtt.broker is set")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
