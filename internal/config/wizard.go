package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard reading answers from in and writing prompts to out
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard, starting from base
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := DefaultConfig()
	if base != nil {
		copied := *base
		cfg = &copied
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== chatrelay configuration ===")
	fmt.Fprintln(w.out)

	// Upstream
	fmt.Fprintln(w.out, "Upstream API:")
	for {
		fmt.Fprintf(w.out, "Base URL [%s]: ", cfg.Upstream.BaseURL)
		baseURL, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if baseURL == "" {
			break
		}
		if err := validator.ValidateBaseURL(baseURL); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Upstream.BaseURL = baseURL
		break
	}

	for {
		fmt.Fprint(w.out, "API key (press Enter to keep current): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Upstream.APIKey = key
		break
	}

	fmt.Fprintln(w.out)

	// Default model
	fmt.Fprintln(w.out, "Default Model:")
	fmt.Fprintf(w.out, "Model id [%s]: ", cfg.Relay.DefaultModel)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		if err := validator.ValidateModel(model); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Relay.DefaultModel)
		} else {
			cfg.Relay.DefaultModel = model
		}
	}

	fmt.Fprintln(w.out)

	// Gateway
	fmt.Fprintln(w.out, "Gateway:")
	fmt.Fprintf(w.out, "Port [%d]: ", cfg.Server.Port)
	portStr, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if portStr != "" {
		port, convErr := strconv.Atoi(portStr)
		if convErr == nil {
			convErr = validator.ValidatePort(port)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Warning: invalid port %q, keeping %d\n", portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	fmt.Fprintln(w.out)

	// Log level
	fmt.Fprintln(w.out, "Logging:")
	fmt.Fprintf(w.out, "Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
