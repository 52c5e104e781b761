package main

import (
	"fmt"
	"os"

	tinycan "github.com/MechLabEngineering/CarPC"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device     string         `yaml:"device"`
	Bitrate    int            `yaml:"bitrate"`
	PollTimeMs int            `yaml:"polltime_ms"`
	LogFile    string         `yaml:"logfile"`
	LogLevel   string         `yaml:"loglevel"`
	OptionFile string         `yaml:"option_file"`
	Section    string         `yaml:"option_section"`
	Options    map[string]any `yaml:"options"`
}

func defaultConfig() *Config {
	return &Config{
		Device:     "virtual",
		Bitrate:    250,
		PollTimeMs: 500,
		LogFile:    "CANlog.txt",
		LogLevel:   "info",
		Options: map[string]any{
			tinycan.OptCanRxDMode:  1,
			tinycan.OptAutoConnect: 1,
		},
	}
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed: %w", err)
		}
	}
	if !tinycan.ValidBitrate(cfg.Bitrate) {
		return nil, fmt.Errorf("invalid can bitrate %d", cfg.Bitrate)
	}
	if cfg.PollTimeMs < 10 {
		return nil, fmt.Errorf("polltime too short, must be at least 10ms")
	}
	// Options from an ini option file are merged under the inline options.
	if cfg.OptionFile != "" {
		fileOptions, err := tinycan.LoadOptionFile(cfg.OptionFile, cfg.Section)
		if err != nil {
			return nil, err
		}
		for key, value := range fileOptions {
			if _, set := cfg.Options[key]; !set {
				cfg.Options[key] = value
			}
		}
	}
	return cfg, nil
}
