package session

import (
	"regexp"
	"strings"
)

var (
	// CSI sequences, e.g. colour codes and cursor movement: ESC [ params final
	csiRegex = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

	// OSC sequences terminated by BEL or ST: ESC ] ... (BEL | ESC \)
	oscRegex = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

	// Remaining two-character escapes, e.g. ESC c, ESC =
	escRegex = regexp.MustCompile(`\x1b[@-Z\\-_=>c78]?`)

	// C0 controls other than tab and newline, plus DEL
	controlRegex = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

	// Three or more consecutive newlines (after trailing whitespace is gone)
	blankRunRegex = regexp.MustCompile(`\n{3,}`)
)

// NormalizeTranscript strips terminal escape sequences and stray control
// characters, trims trailing whitespace on every line, and collapses runs of
// blank lines to exactly one blank line.
func NormalizeTranscript(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = oscRegex.ReplaceAllString(text, "")
	text = csiRegex.ReplaceAllString(text, "")
	text = escRegex.ReplaceAllString(text, "")
	text = controlRegex.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	return blankRunRegex.ReplaceAllString(text, "\n\n")
}
