package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/harun/chatrelay/pkg/relay"
	"github.com/harun/chatrelay/pkg/session"
	"github.com/harun/chatrelay/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoUpstream replies with the last user message, split into words
type echoUpstream struct {
	mu     sync.Mutex
	err    error
	models []string
}

func (u *echoUpstream) Stream(ctx context.Context, model string, messages []session.APIMessage) (*upstream.Stream, error) {
	u.mu.Lock()
	u.models = append(u.models, model)
	err := u.err
	u.mu.Unlock()

	last := messages[len(messages)-1].Content
	return upstream.NewStream(ctx, func(ctx context.Context, send func(string) bool) error {
		if err != nil {
			return err
		}
		for i, word := range strings.Fields("echo: " + last) {
			if i > 0 {
				word = " " + word
			}
			if !send(word) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

func (u *echoUpstream) Complete(ctx context.Context, model string, messages []session.APIMessage) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.models = append(u.models, model)
	if u.err != nil {
		return "", u.err
	}
	return "whole: " + messages[len(messages)-1].Content, nil
}

func setupTestConsole(t *testing.T, up *echoUpstream, input string, mutate func(*Config)) (*Console, *relay.Relay, *bytes.Buffer) {
	t.Helper()

	r, err := relay.New(relay.Config{
		Store:    session.NewStore(session.StoreConfig{}),
		Upstream: up,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	cfg := Config{Relay: r, In: strings.NewReader(input), Out: out, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)
	return c, r, out
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "relay is required")
}

func TestRunStreamsReplies(t *testing.T) {
	c, r, out := setupTestConsole(t, &echoUpstream{}, "hello there\n\n/quit\nnever sent\n", nil)

	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "You: ")
	assert.Contains(t, text, "Assistant: echo: hello there\n")
	assert.Contains(t, text, "Goodbye!")
	assert.NotContains(t, text, "never sent")

	view, err := r.GetSession(c.SessionID())
	require.NoError(t, err)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "hello there", view.Messages[0].Content)
	assert.Equal(t, "echo: hello there", view.Messages[1].Content)
}

func TestRunNoStream(t *testing.T) {
	c, _, out := setupTestConsole(t, &echoUpstream{}, "hi\nexit\n", func(cfg *Config) {
		cfg.NoStream = true
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "Assistant: whole: hi\n")
}

func TestRunEndOfInput(t *testing.T) {
	c, _, out := setupTestConsole(t, &echoUpstream{}, "hi", nil)

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "echo: hi")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRunUpstreamError(t *testing.T) {
	up := &echoUpstream{err: &upstream.Error{Kind: upstream.KindTimeout}}
	c, r, out := setupTestConsole(t, up, "hi\n/quit\n", nil)

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "Error: request timed out")

	view, err := r.GetSession(c.SessionID())
	require.NoError(t, err)
	assert.Empty(t, view.Messages, "failed turn leaves no trace")
}

func TestRunNoStreamError(t *testing.T) {
	up := &echoUpstream{err: &upstream.Error{Kind: upstream.KindConnection}}
	c, _, out := setupTestConsole(t, up, "hi\n/quit\n", func(cfg *Config) {
		cfg.NoStream = true
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "Error: connection error")
}

func TestCommands(t *testing.T) {
	up := &echoUpstream{}
	input := strings.Join([]string{
		"first",
		"/history",
		"/title  Weekend plans ",
		"/model gemini-2.5-pro-exp-03-25",
		"/model",
		"/models",
		"second",
		"clear",
		"/history",
		"/bogus",
		"/title",
		"/help",
		"quit",
	}, "\n") + "\n"

	c, r, out := setupTestConsole(t, up, input, nil)
	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "You: first\nAssistant: echo: first\n")
	assert.Contains(t, text, "Title set to: Weekend plans")
	assert.Contains(t, text, "Model set to: gemini-2.5-pro-exp-03-25")
	assert.Contains(t, text, "Current model: gemini-2.5-pro-exp-03-25")
	assert.Contains(t, text, " * gemini-2.5-pro-exp-03-25")
	assert.Contains(t, text, "   gpt-4o - GPT-4o")
	assert.Contains(t, text, "History cleared.")
	assert.Contains(t, text, "No messages yet.")
	assert.Contains(t, text, "Error: unknown command: /bogus")
	assert.Contains(t, text, "Error: usage: /title <text>")
	assert.Contains(t, text, "Available commands:")

	view, err := r.GetSession(c.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "Weekend plans", view.Title)
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", view.Model)
	assert.Empty(t, view.Messages)

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, []string{"gpt-4o", "gemini-2.5-pro-exp-03-25"}, up.models)
}

func TestResumeSession(t *testing.T) {
	t.Run("existing session", func(t *testing.T) {
		r, err := relay.New(relay.Config{Store: session.NewStore(session.StoreConfig{}), Upstream: &echoUpstream{}})
		require.NoError(t, err)
		view, err := r.CreateSession(context.Background(), relay.CreateParams{Title: "Default chat"})
		require.NoError(t, err)

		out := &bytes.Buffer{}
		c, err := New(Config{Relay: r, In: strings.NewReader("/quit\n"), Out: out, SessionID: view.ID})
		require.NoError(t, err)

		require.NoError(t, c.Run(context.Background()))
		assert.Equal(t, view.ID, c.SessionID())
		assert.Contains(t, out.String(), "Session: Default chat")
		assert.Len(t, r.ListSessions(), 1)
	})

	t.Run("unknown session", func(t *testing.T) {
		c, _, _ := setupTestConsole(t, &echoUpstream{}, "", func(cfg *Config) {
			cfg.SessionID = "missing"
		})
		assert.ErrorIs(t, c.Run(context.Background()), relay.ErrNotFound)
	})

	t.Run("new session uses requested model", func(t *testing.T) {
		c, r, _ := setupTestConsole(t, &echoUpstream{}, "/quit\n", func(cfg *Config) {
			cfg.Model = "local-model"
		})
		require.NoError(t, c.Run(context.Background()))

		view, err := r.GetSession(c.SessionID())
		require.NoError(t, err)
		assert.Equal(t, "local-model", view.Model)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _, _ := setupTestConsole(t, &echoUpstream{}, "", nil)
	c.in = blockingReader{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, c.Run(ctx))
}

func TestStylesPlainWhenDisabled(t *testing.T) {
	s := newStyles(&bytes.Buffer{}, false)
	assert.Equal(t, "You: ", s.render(s.user, "You: "))
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

// blockingReader never returns, like an idle terminal
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
