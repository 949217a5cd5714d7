package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// sseUpstream answers every chat completion with the given deltas
func sseUpstream(t *testing.T, deltas ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "cmpl-1",
				"object": "chat.completion",
				"model":  "gpt-4o",
				"choices": []map[string]interface{}{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": strings.Join(deltas, "")},
				}},
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			b, _ := json.Marshal(map[string]interface{}{
				"choices": []map[string]interface{}{{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTestConfig writes a config file with logs and data under a temp dir
func writeTestConfig(t *testing.T, upstreamURL string, extra map[string]interface{}) string {
	t.Helper()
	dir := t.TempDir()
	raw := map[string]interface{}{
		"data_dir": dir,
		"upstream": map[string]interface{}{"base_url": upstreamURL},
		"logging":  map[string]interface{}{"console": false, "file": filepath.Join(dir, "chatrelay.log")},
		"tracing":  map[string]interface{}{"enabled": false},
	}
	for k, v := range extra {
		raw[k] = v
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)

	path := filepath.Join(dir, "chatrelay.json")
	require.NoError(t, os.WriteFile(path, b, 0600))
	return path
}

// executeRoot runs the root command with args and stdin, resetting flag state first
func executeRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	out := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
