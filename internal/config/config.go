// Package config loads and validates the single YAML configuration file
// (spec §6), following the LoadConfig/ApplyDefaults/Validate shape used
// throughout the retrieval pack's ingestion services.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
)

// TokenConfig describes one indexed ICRC token.
type TokenConfig struct {
	Symbol     string `yaml:"symbol"`
	Name       string `yaml:"name"`
	CanisterID string `yaml:"canister_id"`
	Decimals   *uint8 `yaml:"decimals,omitempty"`
}

// LogConfig controls the zap + lumberjack logging stack.
type LogConfig struct {
	Level        string `yaml:"level"`
	ConsoleLevel string `yaml:"console_level"`
	File         string `yaml:"file"`
	FileEnabled  bool   `yaml:"file_enabled"`
	MaxSize      int    `yaml:"max_size"`
	MaxFiles     int    `yaml:"max_files"`
}

// APIServerConfig controls the thin read-only HTTP surface.
type APIServerConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	CORSEnabled bool `yaml:"cors_enabled"`
}

// Config is the full parsed configuration.
type Config struct {
	MongoDBURL string          `yaml:"mongodb_url"`
	Database   string          `yaml:"database"`
	ICURL      string          `yaml:"ic_url"`
	Tokens     []TokenConfig   `yaml:"tokens"`
	Log        LogConfig       `yaml:"log"`
	APIServer  APIServerConfig `yaml:"api_server"`
}

// Load reads path, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewConfigError("read config file", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, model.NewConfigError("parse config file", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, model.NewConfigError("validate config", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills in defaults for the optional fields the YAML may have
// omitted; required fields are left for Validate to reject.
func (c *Config) ApplyDefaults() {
	if c.ICURL == "" {
		c.ICURL = "https://ic0.app"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.ConsoleLevel == "" {
		c.Log.ConsoleLevel = c.Log.Level
	}
	if c.Log.File == "" {
		c.Log.File = "indexer.log"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxFiles == 0 {
		c.Log.MaxFiles = 5
	}
	if c.APIServer.Port == 0 {
		c.APIServer.Port = 8080
	}
	for i := range c.Tokens {
		if c.Tokens[i].Decimals == nil {
			d := uint8(8)
			c.Tokens[i].Decimals = &d
		}
	}
}

// Validate reports the first missing-required-field or out-of-range setting
// it finds, mirroring the enum-listing style of the pack's richer config validators.
func (c *Config) Validate() error {
	if c.MongoDBURL == "" {
		return fmt.Errorf("mongodb_url is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one token must be configured under tokens[]")
	}
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("tokens[%d].symbol is required", i)
		}
		if t.CanisterID == "" {
			return fmt.Errorf("tokens[%d].canister_id is required", i)
		}
	}
	if c.APIServer.Port < 1 || c.APIServer.Port > 65535 {
		return fmt.Errorf("api_server.port %d out of range 1-65535", c.APIServer.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q invalid, expected one of: debug, info, warn, error", c.Log.Level)
	}
	return nil
}
