package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Server.AdminPort)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Mock port 0 defers to persisted settings
	assert.Zero(t, cfg.Mock.Port)

	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, 1000, cfg.History.MaxRecords)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)

	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  host: localhost
  adminPort: 4000
  corsOrigins:
    - http://localhost:5173
  uiDir: ./ui/dist
mock:
  host: 127.0.0.1
  port: 9090
storage:
  type: postgres
  dsn: postgres://mockpit@localhost/mockpit
history:
  maxRecords: 50
logging:
  level: debug
  format: text
metrics:
  enabled: false
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.AdminPort)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "./ui/dist", cfg.Server.UIDir)
	assert.Equal(t, 9090, cfg.Mock.Port)
	assert.Equal(t, "127.0.0.1", cfg.Mock.Host)
	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://mockpit@localhost/mockpit", cfg.Storage.DSN)
	assert.Equal(t, 50, cfg.History.MaxRecords)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_PartialConfig(t *testing.T) {
	configPath := writeConfig(t, `
mock:
  port: 3001
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Mock.Port)
	assert.Equal(t, 3000, cfg.Server.AdminPort, "unset keys keep their defaults")
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err, "missing file")

	_, err = Load(writeConfig(t, `
server:
  adminPort: [invalid yaml
`))
	assert.Error(t, err, "invalid yaml")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.AdminPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"file storage", func(c *Config) { c.Storage.Type = StorageFile }, ""},
		{"mysql with dsn", func(c *Config) {
			c.Storage.Type = StorageMySQL
			c.Storage.DSN = "user:pass@tcp(localhost:3306)/mockpit"
		}, ""},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StoragePostgres }, "dsn"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, "redis"},
		{"admin port out of range", func(c *Config) { c.Server.AdminPort = 70000 }, "adminPort"},
		{"no cors origins", func(c *Config) { c.Server.CORSOrigins = nil }, "corsOrigins"},
		{"negative mock port", func(c *Config) { c.Mock.Port = -1 }, "port"},
		{"negative max records", func(c *Config) { c.History.MaxRecords = -5 }, "maxRecords"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
