package console

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	blue  = lipgloss.Color("4")
	green = lipgloss.Color("10")
	red   = lipgloss.Color("9")
	grey  = lipgloss.Color("8")
)

// styles renders prompts and notices; plain text when output is not a terminal
type styles struct {
	enabled   bool
	user      lipgloss.Style
	assistant lipgloss.Style
	err       lipgloss.Style
	muted     lipgloss.Style
}

func newStyles(out io.Writer, enabled bool) *styles {
	r := lipgloss.NewRenderer(out)
	return &styles{
		enabled:   enabled,
		user:      r.NewStyle().Bold(true).Foreground(blue),
		assistant: r.NewStyle().Bold(true).Foreground(green),
		err:       r.NewStyle().Foreground(red),
		muted:     r.NewStyle().Foreground(grey),
	}
}

func (s *styles) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
