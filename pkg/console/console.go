// Package console runs an interactive chat loop over the relay.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/chatrelay/pkg/relay"
	"github.com/harun/chatrelay/pkg/session"
	"github.com/rs/zerolog"
)

// Config holds console configuration
type Config struct {
	Relay *relay.Relay
	In    io.Reader
	Out   io.Writer
	// SessionID resumes an existing session; empty creates one
	SessionID string
	// Model is used for a newly created session
	Model string
	// NoStream waits for the full reply instead of printing deltas
	NoStream bool
	// Styled enables lipgloss prompts
	Styled bool
	Logger zerolog.Logger
}

// Console is a terminal chat loop bound to one session
type Console struct {
	relay     *relay.Relay
	in        io.Reader
	out       io.Writer
	sessionID string
	model     string
	noStream  bool
	styles    *styles
	logger    zerolog.Logger
}

// New creates a console
func New(cfg Config) (*Console, error) {
	if cfg.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if cfg.In == nil {
		return nil, fmt.Errorf("input is required")
	}
	if cfg.Out == nil {
		return nil, fmt.Errorf("output is required")
	}

	return &Console{
		relay:     cfg.Relay,
		in:        cfg.In,
		out:       cfg.Out,
		sessionID: cfg.SessionID,
		model:     cfg.Model,
		noStream:  cfg.NoStream,
		styles:    newStyles(cfg.Out, cfg.Styled),
		logger:    cfg.Logger.With().Str("component", "console").Logger(),
	}, nil
}

// SessionID returns the session the console is bound to
func (c *Console) SessionID() string {
	return c.sessionID
}

// Run reads lines until quit, end of input or ctx is cancelled. Cancelling
// ctx during a reply rolls that turn back.
func (c *Console) Run(ctx context.Context) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	view, err := c.relay.GetSession(c.sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, c.styles.render(c.styles.muted, "=== chatrelay ==="))
	fmt.Fprintf(c.out, "Session: %s (%s)\n", view.Title, view.ID)
	fmt.Fprintf(c.out, "Model: %s\n", view.Model)
	fmt.Fprintln(c.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(c.out)

	done := make(chan struct{})
	defer close(done)
	lines := scanLines(c.in, done)
	for {
		fmt.Fprint(c.out, c.styles.render(c.styles.user, "You: "))

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				fmt.Fprintln(c.out, "Goodbye!")
				return nil
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}

		if isCommand(input) {
			quit, err := c.handleCommand(ctx, input)
			if err != nil {
				c.printError(err.Error())
				c.logger.Debug().Err(err).Str("command", input).Msg("Command failed")
			}
			if quit {
				fmt.Fprintln(c.out, "Goodbye!")
				return nil
			}
			continue
		}

		c.send(ctx, input)
	}
}

func (c *Console) ensureSession(ctx context.Context) error {
	if c.sessionID != "" {
		if _, err := c.relay.GetSession(c.sessionID); err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
		return nil
	}

	view, err := c.relay.CreateSession(ctx, relay.CreateParams{Model: c.model})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.sessionID = view.ID
	return nil
}

// send runs one turn and prints the reply as it arrives
func (c *Console) send(ctx context.Context, input string) {
	fmt.Fprint(c.out, c.styles.render(c.styles.assistant, "Assistant: "))

	if c.noStream {
		reply, err := c.relay.CompleteOnce(ctx, c.sessionID, input)
		if err != nil {
			fmt.Fprintln(c.out)
			c.printTurnError(err)
			return
		}
		fmt.Fprintf(c.out, "%s\n\n", reply)
		return
	}

	events, err := c.relay.Submit(ctx, c.sessionID, input)
	if err != nil {
		fmt.Fprintln(c.out)
		c.printTurnError(err)
		return
	}

	for ev := range events {
		switch ev.Type {
		case relay.EventContent:
			fmt.Fprint(c.out, ev.Content)
		case relay.EventDone:
			fmt.Fprint(c.out, "\n\n")
		case relay.EventError:
			fmt.Fprintln(c.out)
			c.printError(ev.Error)
		}
	}
}

func (c *Console) printTurnError(err error) {
	if errors.Is(err, relay.ErrNotFound) || errors.Is(err, relay.ErrInvalidInput) {
		c.printError(err.Error())
		return
	}
	_, msg := relay.Describe(err)
	c.printError(msg)
}

func (c *Console) printError(msg string) {
	fmt.Fprintln(c.out, c.styles.render(c.styles.err, "Error: "+msg))
}

func isCommand(input string) bool {
	if strings.HasPrefix(input, "/") {
		return true
	}
	switch strings.ToLower(input) {
	case "quit", "exit", "clear":
		return true
	}
	return false
}

// handleCommand handles console commands and reports whether to quit
func (c *Console) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch name {
	case "quit", "exit":
		return true, nil

	case "clear":
		if err := c.relay.ClearHistory(ctx, c.sessionID); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "History cleared.")
		return false, nil

	case "model":
		if arg == "" {
			view, err := c.relay.GetSession(c.sessionID)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(c.out, "Current model: %s\n", view.Model)
			return false, nil
		}
		if err := c.relay.SetModel(ctx, c.sessionID, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Model set to: %s\n", arg)
		return false, nil

	case "models":
		view, err := c.relay.GetSession(c.sessionID)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "Available models:")
		for _, m := range c.relay.ListModels() {
			marker := " "
			if m.ID == view.Model {
				marker = "*"
			}
			line := fmt.Sprintf(" %s %s - %s", marker, m.ID, m.Name)
			if m.Description != "" {
				line += " " + c.styles.render(c.styles.muted, "("+m.Description+")")
			}
			fmt.Fprintln(c.out, line)
		}
		return false, nil

	case "title":
		if arg == "" {
			return false, fmt.Errorf("usage: /title <text>")
		}
		if err := c.relay.SetTitle(ctx, c.sessionID, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Title set to: %s\n", strings.TrimSpace(arg))
		return false, nil

	case "history":
		view, err := c.relay.GetSession(c.sessionID)
		if err != nil {
			return false, err
		}
		if len(view.Messages) == 0 {
			fmt.Fprintln(c.out, "No messages yet.")
			return false, nil
		}
		for _, m := range view.Messages {
			label := c.styles.render(c.styles.user, "You: ")
			if m.Role == session.RoleAssistant {
				label = c.styles.render(c.styles.assistant, "Assistant: ")
			}
			fmt.Fprintf(c.out, "%s%s\n", label, m.Content)
		}
		return false, nil

	case "help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  /quit, /exit     - Exit the chat")
		fmt.Fprintln(c.out, "  /clear           - Clear the conversation history")
		fmt.Fprintln(c.out, "  /model [id]      - Show or change the model")
		fmt.Fprintln(c.out, "  /models          - List available models")
		fmt.Fprintln(c.out, "  /title <text>    - Rename this session")
		fmt.Fprintln(c.out, "  /history         - Show the conversation so far")
		fmt.Fprintln(c.out, "  /help            - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (type /help for commands)", parts[0])
	}
}

// scanLines feeds input lines into a channel so the loop can also watch ctx.
// A read blocked on the terminal is abandoned, not interrupted, once done closes.
func scanLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
