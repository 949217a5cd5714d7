package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Config represents the main chatrelay configuration
type Config struct {
	// Upstream chat completions API
	Upstream UpstreamConfig `json:"upstream" mapstructure:"upstream"`

	// Relay behaviour
	Relay RelayConfig `json:"relay" mapstructure:"relay"`

	// Model catalog offered to clients
	Models []ModelConfig `json:"models" mapstructure:"models"`

	// HTTP / websocket gateway
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing and audit output
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory for logs and audit files
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// UpstreamConfig holds the OpenAI-compatible endpoint settings
type UpstreamConfig struct {
	BaseURL         string        `json:"base_url" mapstructure:"base_url"`
	APIKey          string        `json:"api_key" mapstructure:"api_key"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ResponseTimeout time.Duration `json:"response_timeout" mapstructure:"response_timeout"`
}

// RelayConfig holds session and turn defaults
type RelayConfig struct {
	DefaultTitle   string `json:"default_title" mapstructure:"default_title"`
	DefaultModel   string `json:"default_model" mapstructure:"default_model"`
	EventBuffer    int    `json:"event_buffer" mapstructure:"event_buffer"`
	ValidateModels bool   `json:"validate_models" mapstructure:"validate_models"`
	// DefaultSession creates one session at startup
	DefaultSession      bool   `json:"default_session" mapstructure:"default_session"`
	DefaultSessionTitle string `json:"default_session_title" mapstructure:"default_session_title"`
}

// ModelConfig is one catalog entry
type ModelConfig struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry and audit log settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// File receives exported spans; empty keeps spans in-process
	File string `json:"file" mapstructure:"file"`
	// AuditFile receives session and turn audit events; empty disables the audit log
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:         "https://api.openai.com/v1",
			ConnectTimeout:  10 * time.Second,
			ResponseTimeout: 300 * time.Second,
		},
		Relay: RelayConfig{
			DefaultTitle:        "New chat",
			DefaultModel:        "gpt-4o",
			EventBuffer:         32,
			ValidateModels:      false,
			DefaultSession:      true,
			DefaultSessionTitle: "Default chat",
		},
		Models: []ModelConfig{
			{ID: "gpt-4o", Name: "GPT-4o", Description: "Capable general-purpose model"},
			{ID: "gemini-2.5-pro-exp-03-25", Name: "gemini 2.5 pro exp 03-25", Description: "Chain-of-thought reasoning model"},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5001,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Upstream.APIKey != "" {
		masked.Upstream.APIKey = MaskSecret(masked.Upstream.APIKey)
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// MaskSecret keeps the first and last few characters of a secret
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:3] + "****" + s[len(s)-4:]
}

// Addr returns the gateway listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream base_url must be an http(s) URL, got %q", c.Upstream.BaseURL)
	}
	if c.Upstream.ConnectTimeout <= 0 {
		return fmt.Errorf("upstream connect_timeout must be positive")
	}
	if c.Upstream.ResponseTimeout <= 0 {
		return fmt.Errorf("upstream response_timeout must be positive")
	}

	if c.Relay.DefaultModel == "" {
		return fmt.Errorf("relay default_model is required")
	}
	if c.Relay.EventBuffer < 0 {
		return fmt.Errorf("relay event_buffer cannot be negative")
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model %d: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("model %s: listed more than once", m.ID)
		}
		seen[m.ID] = true
	}
	if c.Relay.ValidateModels && !seen[c.Relay.DefaultModel] {
		return fmt.Errorf("relay default_model %s is not in the model catalog", c.Relay.DefaultModel)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	return nil
}
