package gateway

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon-facing service configuration, deliberately separate
// from the protocol TOML: operators rotate tokens and endpoints without
// touching ledger parameters.
type Config struct {
	ListenAddress   string        `yaml:"listenAddress"`
	Environment     string        `yaml:"environment"`
	DatabasePath    string        `yaml:"databasePath"`
	ProtocolConfig  string        `yaml:"protocolConfig"`
	APITokens       []string      `yaml:"apiTokens"`
	AdminTokens     []string      `yaml:"adminTokens"`
	RatePerSecond   float64       `yaml:"ratePerSecond"`
	RateBurst       int           `yaml:"rateBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Log struct {
		FilePath   string `yaml:"filePath"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
	} `yaml:"log"`

	Telemetry struct {
		Endpoint string `yaml:"endpoint"`
		Insecure bool   `yaml:"insecure"`
		Headers  string `yaml:"headers"`
		Traces   bool   `yaml:"traces"`
		Metrics  bool   `yaml:"metrics"`
	} `yaml:"telemetry"`
}

// LoadConfig reads and validates the YAML service configuration.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gateway: read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("gateway: parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8680"
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		c.DatabasePath = "stakevault.db"
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate rejects configurations that would silently disable authentication.
func (c *Config) Validate() error {
	if len(c.APITokens) == 0 {
		return fmt.Errorf("gateway: at least one API token is required")
	}
	for i, token := range c.APITokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("gateway: apiTokens[%d] is empty", i)
		}
	}
	for i, token := range c.AdminTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("gateway: adminTokens[%d] is empty", i)
		}
	}
	if strings.TrimSpace(c.ProtocolConfig) == "" {
		return fmt.Errorf("gateway: protocolConfig path is required")
	}
	return nil
}
