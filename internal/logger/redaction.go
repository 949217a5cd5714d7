package logger

import (
	"io"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// minSecretLen keeps short values such as "none" from blanking ordinary log text
const minSecretLen = 8

// credentialPatterns match the credential shapes that pass through the relay:
// upstream keys and the headers or config fields that carry them.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)[^\s",}]+`),
	regexp.MustCompile(`(?i)(authorization["\s:=]+)(?:(?:Basic|Bearer)\s+)?[^\s",}]+`),
}

// Redactor strips credentials from log output
type Redactor struct {
	patterns []*regexp.Regexp
	secrets  []string
}

// NewRedactor creates a redactor for the known credential shapes. Each
// secret is additionally removed verbatim wherever it appears.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: append([]*regexp.Regexp(nil), credentialPatterns...)}
	for _, s := range secrets {
		r.AddSecret(s)
	}
	return r
}

// AddSecret redacts a literal value, such as the configured upstream key.
// Values shorter than eight characters are ignored.
func (r *Redactor) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return
	}
	r.secrets = append(r.secrets, secret)
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact removes secrets and credential-shaped values from s. A field
// name captured by a pattern is kept so the log still says what was hidden.
func (r *Redactor) Redact(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	for _, re := range r.patterns {
		if re.NumSubexp() > 0 {
			s = re.ReplaceAllString(s, "${1}"+redacted)
			continue
		}
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since redaction changes the length
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
