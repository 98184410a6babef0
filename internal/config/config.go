package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config describes everything the daemon needs at startup.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Journal    JournalConfig    `json:"journal"`
	Events     EventsConfig     `json:"events"`
	Vault      VaultConfig      `json:"vault"`
	Extensions ExtensionsConfig `json:"extensions"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig controls log level, format and the audit trail.
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the rotating audit log file.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// JournalConfig selects the chain-run journal backend.
type JournalConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

// ConnLifetime parses the configured connection lifetime.
func (c JournalConfig) ConnLifetime() time.Duration {
	if c.ConnMaxLifetime == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ConnMaxLifetime)
	if err != nil {
		return 0
	}
	return d
}

// EventsConfig selects the outbound event transport.
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig holds the Redis list transport settings.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	List     string `json:"list"`
}

// RabbitMQConfig holds the RabbitMQ queue transport settings.
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// GrantConfig seeds one identity's capabilities.
type GrantConfig struct {
	Identity     string   `json:"identity"`
	Capabilities []string `json:"capabilities"`
}

// VaultConfig describes the custody ledger and its asset.
type VaultConfig struct {
	Name               string        `json:"name"`
	AssetSymbol        string        `json:"asset_symbol"`
	AssetDecimals      uint8         `json:"asset_decimals"`
	ShareSymbol        string        `json:"share_symbol"`
	MaxAllowedDeltaBps uint64        `json:"max_allowed_delta_bps"`
	Grants             []GrantConfig `json:"grants"`
}

// ExtensionsConfig points at the YAML definitions file.
type ExtensionsConfig struct {
	Definitions string `json:"definitions"`
}

// Load parses the JSON configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Vault.Name == "" {
		c.Vault.Name = "main"
	}
	if c.Vault.AssetSymbol == "" {
		c.Vault.AssetSymbol = "USDC"
	}
	if c.Vault.AssetDecimals == 0 {
		c.Vault.AssetDecimals = 6
	}
	if c.Vault.ShareSymbol == "" {
		c.Vault.ShareSymbol = "v" + c.Vault.AssetSymbol
	}

	if c.Extensions.Definitions != "" && !filepath.IsAbs(c.Extensions.Definitions) {
		c.Extensions.Definitions = filepath.Join(baseDir, c.Extensions.Definitions)
	}
}
