// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen       = ":9217"
	DefaultPollInterval = 30 * time.Second
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Device is one battery to poll.
type Device struct {
	Name      string `yaml:"name"`
	Driver    string `yaml:"driver"`
	Address   string `yaml:"address"`
	Reconnect bool   `yaml:"reconnect"`
}

type Config struct {
	Listen       string   `yaml:"listen"`
	PollInterval Duration `yaml:"poll_interval"`
	Devices      []Device `yaml:"devices"`
}

// Load reads and validates the YAML file at path, applying defaults for
// listen address and poll interval.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(DefaultPollInterval)
	}
	seen := map[string]struct{}{}
	for i, dev := range cfg.Devices {
		if dev.Name == "" {
			return nil, fmt.Errorf("device %d: name is required", i)
		}
		if dev.Driver == "" {
			return nil, fmt.Errorf("device %q: driver is required", dev.Name)
		}
		if _, dup := seen[dev.Name]; dup {
			return nil, fmt.Errorf("duplicate device name %q", dev.Name)
		}
		seen[dev.Name] = struct{}{}
	}
	return cfg, nil
}
