package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// stderrRenderer styles status lines. It drops colors on its own when stderr
// is not a terminal.
var stderrRenderer = lipgloss.NewRenderer(os.Stderr)

var (
	labelStyle   = stderrRenderer.NewStyle().Bold(true)
	successStyle = stderrRenderer.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = stderrRenderer.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = stderrRenderer.NewStyle().Foreground(lipgloss.Color("214"))
	stepStyle    = stderrRenderer.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = stderrRenderer.NewStyle().Foreground(lipgloss.Color("39"))
)

func styled(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(successStyle, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(errorStyle, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(warningStyle, "⚠ "+fmt.Sprintf(format, args...)))
}

// printStatus prints one "label: value" line of `twin status`.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", styled(labelStyle, label+":"), fmt.Sprintf(format, args...))
}

// printStep prints answer metadata below the reply.
func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(stepStyle, "→ "+fmt.Sprintf(format, args...)))
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
