package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validator validates individual configuration values; used by the wizard and ValidateConfig
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL validates the upstream API root
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL has no host")
	}
	if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/chat/completions") {
		return fmt.Errorf("base URL should be the API root, without /chat/completions")
	}
	return nil
}

// ValidateAPIKey checks an API key. Empty keys are allowed for local
// OpenAI-compatible servers that do not authenticate.
func (v *Validator) ValidateAPIKey(key string) error {
	if key == "" {
		return nil
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("API key cannot contain whitespace")
	}
	if strings.HasPrefix(strings.ToLower(key), "bearer ") {
		return fmt.Errorf("API key should not include the Bearer prefix")
	}
	return nil
}

// ValidateModel validates a model id
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(model, " \t\r\n") {
		return fmt.Errorf("model name cannot contain whitespace")
	}
	return nil
}

// ValidateTimeout validates a positive timeout not exceeding max
func (v *Validator) ValidateTimeout(name string, d, max time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	if max > 0 && d > max {
		return fmt.Errorf("%s too large (max %s), got %s", name, max, d)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and returns every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateBaseURL(cfg.Upstream.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	if err := v.ValidateAPIKey(cfg.Upstream.APIKey); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	if err := v.ValidateTimeout("connect_timeout", cfg.Upstream.ConnectTimeout, 5*time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	if err := v.ValidateTimeout("response_timeout", cfg.Upstream.ResponseTimeout, time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}

	if err := v.ValidateModel(cfg.Relay.DefaultModel); err != nil {
		errs = append(errs, fmt.Errorf("relay default_model: %w", err))
	}
	for i, m := range cfg.Models {
		if err := v.ValidateModel(m.ID); err != nil {
			errs = append(errs, fmt.Errorf("model %d: %w", i, err))
		}
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
