package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("applies answers", func(t *testing.T) {
		answers := strings.Join([]string{
			"http://localhost:1234/v1",
			"sk-local",
			"local-model",
			"8081",
			"debug",
		}, "\n") + "\n"

		var out bytes.Buffer
		cfg, err := NewWizardWithIO(strings.NewReader(answers), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "http://localhost:1234/v1", cfg.Upstream.BaseURL)
		assert.Equal(t, "sk-local", cfg.Upstream.APIKey)
		assert.Equal(t, "local-model", cfg.Relay.DefaultModel)
		assert.Equal(t, 8081, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("keeps defaults on empty answers", func(t *testing.T) {
		base := DefaultConfig()
		base.Upstream.APIKey = "sk-existing"

		cfg, err := NewWizardWithIO(strings.NewReader("\n\n\n\n\n"), &bytes.Buffer{}).Run(base)

		require.NoError(t, err)
		assert.Equal(t, "sk-existing", cfg.Upstream.APIKey)
		assert.Equal(t, 5001, cfg.Server.Port)
	})

	t.Run("re-prompts on invalid base URL", func(t *testing.T) {
		answers := "ftp://nope\nhttps://example.com/v1\n\n\n\n\n"
		var out bytes.Buffer

		cfg, err := NewWizardWithIO(strings.NewReader(answers), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "https://example.com/v1", cfg.Upstream.BaseURL)
		assert.Contains(t, out.String(), "Error:")
	})

	t.Run("fails on closed input", func(t *testing.T) {
		_, err := NewWizardWithIO(strings.NewReader(""), &bytes.Buffer{}).Run(nil)
		assert.Error(t, err)
	})
}
