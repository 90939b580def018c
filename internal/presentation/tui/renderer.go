package tui

import (
	"github.com/charmbracelet/glamour"

	"github.com/aretw0/pergola/pkg/domain"
)

// NewRenderer returns a function that renders manifest markdown using
// glamour. An explicit theme mode picks the matching style; the zero value
// lets the terminal background decide.
func NewRenderer(mode domain.ThemeMode) func(string) (string, error) {
	style := glamour.WithAutoStyle()
	switch mode {
	case domain.ThemeDark:
		style = glamour.WithStandardStyle("dark")
	case domain.ThemeLight:
		style = glamour.WithStandardStyle("light")
	}
	r, _ := glamour.NewTermRenderer(style)

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}
