// Package style holds the ANSI text helpers used by CLI output. Escape
// codes are emitted only when stdout is a terminal.
package style

import (
	"os"

	"golang.org/x/term"
)

const reset = "\033[0m"

var enabled = term.IsTerminal(int(os.Stdout.Fd()))

// SetEnabled forces styling on or off (used by tests and --no-color).
func SetEnabled(on bool) { enabled = on }

// Style wraps text in an ANSI escape sequence when styling is enabled.
type Style struct {
	code string
}

// Render returns text wrapped in the style's escape codes, or text
// unchanged when stdout is not a terminal.
func (s Style) Render(text string) string {
	if !enabled {
		return text
	}
	return s.code + text + reset
}

var (
	Bold    = Style{"\033[1m"}
	Dim     = Style{"\033[2m"}
	Success = Style{"\033[32m"}
	Warning = Style{"\033[33m"}
)
