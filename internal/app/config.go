package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPath points at a single .hcl file or a directory of .hcl files.
	ConfigPath string

	// LogFormat and LogLevel override the runtime block when non-empty.
	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
