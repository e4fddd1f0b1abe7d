package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/config"
)

func TestWriteInitFiles(t *testing.T) {
	dir := t.TempDir()

	files, err := writeInitFiles(dir, false)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	info, err := os.Stat(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.StorageFile, cfg.Storage.Type)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.Equal(t, 3000, cfg.Server.AdminPort)
}

func TestWriteInitFiles_ExistingConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("mock:\n  port: 1234\n"), 0644))

	_, err := writeInitFiles(dir, false)
	require.Error(t, err)

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1234", "existing config must be kept")

	_, err = writeInitFiles(dir, true)
	require.NoError(t, err)

	cfg, err := config.Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Mock.Port)
}
