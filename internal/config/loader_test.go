package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.Relay.DefaultModel)
		assert.Equal(t, 10*time.Second, cfg.Upstream.ConnectTimeout)
		assert.Len(t, cfg.Models, 2)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"upstream": {
				"base_url": "http://localhost:1234/v1",
				"api_key": "sk-test-key",
				"response_timeout": "2m"
			},
			"relay": {"default_model": "local-model"},
			"models": [{"id": "local-model", "name": "Local"}],
			"server": {"port": 9000}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "http://localhost:1234/v1", cfg.Upstream.BaseURL)
		assert.Equal(t, "sk-test-key", cfg.Upstream.APIKey)
		assert.Equal(t, 2*time.Minute, cfg.Upstream.ResponseTimeout)
		assert.Equal(t, 10*time.Second, cfg.Upstream.ConnectTimeout)
		assert.Equal(t, "local-model", cfg.Relay.DefaultModel)
		assert.Equal(t, "New chat", cfg.Relay.DefaultTitle)
		assert.Equal(t, []ModelConfig{{ID: "local-model", Name: "Local"}}, cfg.Models)
		assert.Equal(t, 9000, cfg.Server.Port)
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("CHATRELAY_UPSTREAM_API_KEY", "sk-from-env")
		t.Setenv("CHATRELAY_SERVER_PORT", "7000")

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Upstream.APIKey)
		assert.Equal(t, 7000, cfg.Server.Port)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "chatrelay.log"), cfg.Logging.File)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "chatrelay.json")

	cfg := DefaultConfig()
	cfg.Upstream.APIKey = "sk-saved"
	cfg.Upstream.ResponseTimeout = 90 * time.Second
	cfg.Server.Port = 6000

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"1m30s"`)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-saved", loaded.Upstream.APIKey)
	assert.Equal(t, 90*time.Second, loaded.Upstream.ResponseTimeout)
	assert.Equal(t, 6000, loaded.Server.Port)
	assert.Equal(t, cfg.Models, loaded.Models)
}

func TestLoaderWatch(t *testing.T) {
	t.Run("requires load first", func(t *testing.T) {
		err := NewLoader(filepath.Join(t.TempDir(), "c.json")).Watch(func(*Config) {})
		assert.Error(t, err)
	})

	t.Run("reloads models on change", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"models":[{"id":"a"}],"relay":{"default_model":"a"}}`), 0644))

		loader := NewLoader(configPath)
		_, err := loader.Load()
		require.NoError(t, err)

		changes := make(chan *Config, 4)
		require.NoError(t, loader.Watch(func(c *Config) { changes <- c }))

		require.NoError(t, os.WriteFile(configPath, []byte(`{"models":[{"id":"a"},{"id":"b"}],"relay":{"default_model":"a"}}`), 0644))

		select {
		case c := <-changes:
			assert.Len(t, c.Models, 2)
		case <-time.After(5 * time.Second):
			t.Skip("no file change notification received on this platform")
		}
	})
}
