package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Session.StateDir == "" {
		cfg.Session.StateDir = "./state"
	}
	if cfg.Session.EvidenceDir == "" {
		cfg.Session.EvidenceDir = "./evidence"
	}
	if cfg.Session.EvidencePolicy == "" {
		cfg.Session.EvidencePolicy = "on_failure"
	}
	if cfg.Session.EvidenceRetention == 0 {
		cfg.Session.EvidenceRetention = 7 * 24 * time.Hour
	}
	if cfg.Browser.Driver == "" {
		cfg.Browser.Driver = "playwright"
	}
	if cfg.Browser.NavTimeout == 0 {
		cfg.Browser.NavTimeout = 30 * time.Second
	}
	if cfg.Browser.ActionTimeout == 0 {
		cfg.Browser.ActionTimeout = 10 * time.Second
	}
	if cfg.Collect.GateWait == 0 {
		cfg.Collect.GateWait = 45 * time.Second
	}
	if cfg.Collect.SettleInterval == 0 {
		cfg.Collect.SettleInterval = 800 * time.Millisecond
	}
	if cfg.Collect.EnsureTimeout == 0 {
		cfg.Collect.EnsureTimeout = 20 * time.Second
	}
	if cfg.Collect.BaseCooldown == 0 {
		cfg.Collect.BaseCooldown = 20 * time.Second
	}
	if cfg.Collect.MaxCooldown == 0 {
		cfg.Collect.MaxCooldown = 5 * time.Minute
	}
	if cfg.Collect.SaveEvery == 0 {
		cfg.Collect.SaveEvery = 5
	}
	if cfg.Collect.PerSearchMax == 0 {
		cfg.Collect.PerSearchMax = 30
	}
	if cfg.Collect.MaxRounds == 0 {
		cfg.Collect.MaxRounds = 20
	}
	if cfg.Collect.Retry.MaxAttempts == 0 {
		cfg.Collect.Retry.MaxAttempts = 3
	}
	if cfg.Collect.Retry.BaseDelay == 0 {
		cfg.Collect.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Collect.Retry.MaxDelay == 0 {
		cfg.Collect.Retry.MaxDelay = 30 * time.Second
	}
}

func validate(cfg *AppConfig) error {
	names := make(map[string]bool, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		names[p.Name] = true
	}

	for _, r := range cfg.Runs {
		if r.SessionID == "" {
			return fmt.Errorf("run with empty session_id")
		}
		if !names[r.Profile] {
			return fmt.Errorf("run %q references unknown profile %q", r.SessionID, r.Profile)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("run %q has no keywords", r.SessionID)
		}
	}

	return nil
}
