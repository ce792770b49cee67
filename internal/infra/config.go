package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Kraken struct {
			WSURL        string   `yaml:"ws_url"`
			WSPrivateURL string   `yaml:"ws_private_url"`
			APIKey       string   `yaml:"api_key"`
			APISecret    string   `yaml:"api_secret"`
			Pairs        []string `yaml:"pairs"`
		} `yaml:"kraken"`
	} `yaml:"api"`

	State struct {
		FilePath string `yaml:"file_path"`
	} `yaml:"state"`

	Storage struct {
		DBPath string `yaml:"db_path"`
		// RetentionDays prunes balance history older than this many days.
		// 0 keeps everything.
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"storage"`

	Strategy struct {
		Enabled   bool     `yaml:"enabled"`
		Pairs     []string `yaml:"pairs"`
		FastMA    int      `yaml:"fast_ma"`
		SlowMA    int      `yaml:"slow_ma"`
		MinVolume string   `yaml:"min_volume"`
	} `yaml:"strategy"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	k := &c.API.Kraken
	if !strings.HasPrefix(k.WSURL, "ws://") && !strings.HasPrefix(k.WSURL, "wss://") {
		return fmt.Errorf("invalid Kraken WS URL: %s", k.WSURL)
	}
	if k.WSPrivateURL != "" && !strings.HasPrefix(k.WSPrivateURL, "ws://") && !strings.HasPrefix(k.WSPrivateURL, "wss://") {
		return fmt.Errorf("invalid Kraken private WS URL: %s", k.WSPrivateURL)
	}
	if len(k.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	if c.Strategy.Enabled {
		if c.Strategy.FastMA <= 0 || c.Strategy.SlowMA <= 0 {
			return fmt.Errorf("strategy MA periods must be positive")
		}
		if c.Strategy.FastMA >= c.Strategy.SlowMA {
			return fmt.Errorf("fast MA period must be shorter than slow MA period")
		}
	}
	return nil
}

// overrideWithEnv replaces credential values when environment variables are set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MARKETHUB_API_KEY"); key != "" {
		cfg.API.Kraken.APIKey = key
	}
	if secret := os.Getenv("MARKETHUB_API_SECRET"); secret != "" {
		cfg.API.Kraken.APISecret = secret
	}
}
