package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type ConsoleStyle int

const (
	StyleNormal ConsoleStyle = iota
	StyleError
	StyleWarning
	StyleSuccess
	StyleInfo
	StylePhase
)

// Console prints operator-facing messages. Colors are only emitted when the
// destination is a terminal.
type Console struct {
	out    io.Writer
	errOut io.Writer
	styles map[ConsoleStyle]lipgloss.Style
	// errStyles render to errOut, which may differ in terminal support.
	errStyles map[ConsoleStyle]lipgloss.Style
}

func NewConsole() *Console {
	return NewConsoleWithWriters(os.Stdout, os.Stderr)
}

// NewConsoleWithWriters builds a console writing regular output to out and
// errors and warnings to errOut.
func NewConsoleWithWriters(out, errOut io.Writer) *Console {
	return &Console{
		out:       out,
		errOut:    errOut,
		styles:    stylesFor(lipgloss.NewRenderer(out)),
		errStyles: stylesFor(lipgloss.NewRenderer(errOut)),
	}
}

func stylesFor(r *lipgloss.Renderer) map[ConsoleStyle]lipgloss.Style {
	return map[ConsoleStyle]lipgloss.Style{
		StyleNormal:  r.NewStyle(),
		StyleError:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		StyleWarning: r.NewStyle().Foreground(lipgloss.Color("11")),
		StyleSuccess: r.NewStyle().Foreground(lipgloss.Color("10")),
		StyleInfo:    r.NewStyle().Foreground(lipgloss.Color("12")),
		StylePhase:   r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
	}
}

func (c *Console) formatMessage(style ConsoleStyle, message string) string {
	return c.styles[style].Render(message)
}

func (c *Console) PrintError(message string) {
	fmt.Fprintln(c.errOut, c.errStyles[StyleError].Render("Error: "+message))
}

func (c *Console) PrintWarning(message string) {
	fmt.Fprintln(c.errOut, c.errStyles[StyleWarning].Render("Warning: "+message))
}

func (c *Console) PrintSuccess(message string) {
	fmt.Fprintln(c.out, c.formatMessage(StyleSuccess, message))
}

func (c *Console) PrintInfo(message string) {
	fmt.Fprintln(c.out, c.formatMessage(StyleInfo, message))
}

// PrintPhase announces a lifecycle phase, e.g. "[2/5] Preparing image".
func (c *Console) PrintPhase(index, total int, title string) {
	fmt.Fprintln(c.out, c.formatMessage(StylePhase, fmt.Sprintf("[%d/%d] %s", index, total, title)))
}

// PrintFields prints aligned key/value pairs in the given order.
func (c *Console) PrintFields(pairs ...string) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		width = max(width, len(pairs[i]))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(c.out, "  %-*s  %s\n", width+1, pairs[i]+":", pairs[i+1])
	}
}

func (c *Console) FormatErrorMessage(context, cause, suggestion string) string {
	var parts []string

	if context != "" {
		parts = append(parts, context)
	}

	if cause != "" {
		parts = append(parts, fmt.Sprintf("Cause: %s", cause))
	}

	if suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", suggestion))
	}

	return strings.Join(parts, "\n")
}
