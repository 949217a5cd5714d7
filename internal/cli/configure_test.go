package cli

import (
	"path/filepath"
	"testing"

	"github.com/harun/chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		found := false
		for _, c := range GetRootCmd().Commands() {
			if c.Name() == "configure" {
				found = true
				break
			}
		}
		assert.True(t, found, "configure command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		out, err := executeRoot(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "interactive configuration wizard")
	})

	t.Run("saves answers to the config path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "chatrelay.json")
		answers := "http://localhost:8080/v1\nsk-local-test-key\nllama3\n6000\ndebug\n"

		out, err := executeRoot(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)
		assert.Contains(t, out, "chatrelay serve")

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/v1", cfg.Upstream.BaseURL)
		assert.Equal(t, "sk-local-test-key", cfg.Upstream.APIKey)
		assert.Equal(t, "llama3", cfg.Relay.DefaultModel)
		assert.Equal(t, 6000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("keeps existing values on empty answers", func(t *testing.T) {
		srv := sseUpstream(t)
		path := writeTestConfig(t, srv.URL, map[string]interface{}{
			"server": map[string]interface{}{"port": 7100},
		})

		_, err := executeRoot(t, "\n\n\n\n\n", "configure", "--config", path)
		require.NoError(t, err)

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, srv.URL, cfg.Upstream.BaseURL)
		assert.Equal(t, 7100, cfg.Server.Port)
	})

	t.Run("fails when input ends early", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chatrelay.json")

		_, err := executeRoot(t, "", "configure", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration failed")
		assert.NoFileExists(t, path)
	})
}
