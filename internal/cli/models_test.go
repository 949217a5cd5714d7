package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelsCommand(t *testing.T) {
	t.Run("lists the configured catalog", func(t *testing.T) {
		srv := sseUpstream(t)
		path := writeTestConfig(t, srv.URL, map[string]interface{}{
			"relay": map[string]interface{}{"default_model": "llama3"},
			"models": []map[string]string{
				{"id": "llama3", "name": "Llama 3", "description": "Local model"},
				{"id": "qwen"},
			},
		})

		out, err := executeRoot(t, "", "models", "--config", path)
		require.NoError(t, err)

		assert.Contains(t, out, "ID")
		assert.Contains(t, out, "llama3 (default)")
		assert.Contains(t, out, "Llama 3")
		assert.Contains(t, out, "Local model")
		assert.Contains(t, out, "qwen")
		assert.NotContains(t, out, "gpt-4o")
	})
}
