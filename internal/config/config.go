package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Mock    MockConfig    `yaml:"mock" mapstructure:"mock"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Host        string   `yaml:"host" mapstructure:"host"`
	AdminPort   int      `yaml:"adminPort" mapstructure:"adminPort"`
	CORSOrigins []string `yaml:"corsOrigins" mapstructure:"corsOrigins"`
	UIDir       string   `yaml:"uiDir" mapstructure:"uiDir"` // Built admin UI served at /, empty to disable
}

// MockConfig holds the mock HTTP server configuration
type MockConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"` // 0 uses the port from persisted settings
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type string `yaml:"type" mapstructure:"type"` // memory, file, postgres or mysql
	Path string `yaml:"path" mapstructure:"path"` // Path for file storage
	DSN  string `yaml:"dsn" mapstructure:"dsn"`   // Connection string for SQL storage
}

// HistoryConfig holds request history configuration
type HistoryConfig struct {
	MaxRecords int `yaml:"maxRecords" mapstructure:"maxRecords"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			AdminPort:   3000,
			CORSOrigins: []string{"*"},
		},
		Mock: MockConfig{
			Host: "0.0.0.0",
			Port: 0,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			Path: "./data",
		},
		History: HistoryConfig{
			MaxRecords: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageMemory, StorageFile:
	case StoragePostgres, StorageMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid server.adminPort %d", c.Server.AdminPort)
	}
	if len(c.Server.CORSOrigins) == 0 {
		return fmt.Errorf("server.corsOrigins must not be empty")
	}
	if c.Mock.Port < 0 || c.Mock.Port > 65535 {
		return fmt.Errorf("invalid mock.port %d", c.Mock.Port)
	}
	if c.History.MaxRecords < 0 {
		return fmt.Errorf("invalid history.maxRecords %d", c.History.MaxRecords)
	}
	return nil
}
