package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp(t *testing.T) {
	t.Run("creates the default session", func(t *testing.T) {
		cfg := testServeConfig(t, "http://127.0.0.1:1/v1")
		a, err := newApp(cfg, io.Discard)
		require.NoError(t, err)
		defer a.Close()

		id, err := a.createDefaultSession(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, id)

		view, err := a.relay.GetSession(id)
		require.NoError(t, err)
		assert.Equal(t, "Default chat", view.Title)
		assert.Equal(t, "gpt-4o", view.Model)
	})

	t.Run("skips the default session when disabled", func(t *testing.T) {
		cfg := testServeConfig(t, "http://127.0.0.1:1/v1")
		cfg.Relay.DefaultSession = false
		a, err := newApp(cfg, io.Discard)
		require.NoError(t, err)
		defer a.Close()

		id, err := a.createDefaultSession(context.Background())
		require.NoError(t, err)
		assert.Empty(t, id)
		assert.Empty(t, a.relay.ListSessions())
	})

	t.Run("writes spans to the trace file", func(t *testing.T) {
		cfg := testServeConfig(t, "http://127.0.0.1:1/v1")
		cfg.Tracing.Enabled = true
		cfg.Tracing.File = filepath.Join(cfg.DataDir, "traces.json")
		a, err := newApp(cfg, io.Discard)
		require.NoError(t, err)

		_, err = a.createDefaultSession(context.Background())
		require.NoError(t, err)
		a.Close()

		info, err := os.Stat(cfg.Tracing.File)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})

	t.Run("rejects a duplicate model catalog", func(t *testing.T) {
		cfg := testServeConfig(t, "http://127.0.0.1:1/v1")
		cfg.Models = []config.ModelConfig{{ID: "a"}, {ID: "a"}}
		_, err := newApp(cfg, io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid model catalog")
	})
}

func TestReloadCatalog(t *testing.T) {
	cfg := testServeConfig(t, "http://127.0.0.1:1/v1")
	a, err := newApp(cfg, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	next := *cfg
	next.Models = []config.ModelConfig{{ID: "llama3", Name: "Llama 3"}}
	a.reloadCatalog(&next)

	models := a.relay.ListModels()
	require.Len(t, models, 1)
	assert.Equal(t, "llama3", models[0].ID)

	bad := *cfg
	bad.Models = []config.ModelConfig{{ID: ""}}
	a.reloadCatalog(&bad)
	assert.Len(t, a.relay.ListModels(), 1, "invalid reload keeps the previous catalog")
}

func TestModelsFromConfig(t *testing.T) {
	models := modelsFromConfig([]config.ModelConfig{{ID: "x", Name: "X", Description: "d"}})
	require.Len(t, models, 1)
	assert.Equal(t, "x", models[0].ID)
	assert.Equal(t, "X", models[0].Name)
	assert.Equal(t, "d", models[0].Description)
}
