package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testServeConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Logging.File = filepath.Join(dir, "chatrelay.log")
	cfg.Logging.Console = false
	cfg.Tracing.Enabled = false
	cfg.Tracing.AuditFile = filepath.Join(dir, "audit.log")
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServe(t *testing.T) {
	t.Run("serves until the context is cancelled", func(t *testing.T) {
		srv := sseUpstream(t, "pong")
		cfg := testServeConfig(t, srv.URL)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- serve(ctx, nil, cfg, io.Discard)
		}()

		base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		var health struct {
			Status   string `json:"status"`
			Sessions int    `json:"sessions"`
		}
		require.Eventually(t, func() bool {
			resp, err := http.Get(base + "/healthz")
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&health) == nil
		}, 5*time.Second, 20*time.Millisecond)

		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, 1, health.Sessions, "default session is created at startup")

		resp, err := http.Get(base + "/api/sessions")
		require.NoError(t, err)
		var list []struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		resp.Body.Close()
		require.Len(t, list, 1)
		assert.Equal(t, "Default chat", list[0].Title)

		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not return after cancel")
		}
		assert.FileExists(t, cfg.Tracing.AuditFile)
	})

	t.Run("fails when the port is taken", func(t *testing.T) {
		srv := sseUpstream(t)
		cfg := testServeConfig(t, srv.URL)

		ln, err := net.Listen("tcp", cfg.Addr())
		require.NoError(t, err)
		defer ln.Close()

		err = serve(context.Background(), nil, cfg, io.Discard)
		require.Error(t, err)
	})
}
