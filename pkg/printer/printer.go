// Package printer renders command output as tables, JSON or YAML, and styles
// status lines.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.yaml.in/yaml/v3"
)

// OutputType selects how Print renders data.
type OutputType string

const (
	OutputTypeTable OutputType = "table"
	// OutputTypeWide is a table with the wide columns shown.
	OutputTypeWide OutputType = "wide"
	OutputTypeJSON OutputType = "json"
	OutputTypeYAML OutputType = "yaml"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes data in one output format.
type Printer struct {
	out    io.Writer
	format OutputType
}

// New returns a printer writing to stdout. An empty format means table.
func New(format OutputType) *Printer {
	if format == "" {
		format = OutputTypeTable
	}
	return &Printer{out: os.Stdout, format: format}
}

// SetOutput redirects the printer.
func (p *Printer) SetOutput(w io.Writer) { p.out = w }

// Out returns the writer the printer uses.
func (p *Printer) Out() io.Writer { return p.out }

// Print writes data as JSON or YAML. For the table formats it calls table
// to fill a TablePrinter instead, so data itself is not inspected.
func (p *Printer) Print(data any, table func(t *TablePrinter)) error {
	switch p.format {
	case OutputTypeJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputTypeYAML:
		return p.printYAML(data)
	case OutputTypeTable, OutputTypeWide:
		var opts []Option
		if p.format == OutputTypeWide {
			opts = append(opts, WithWide())
		}
		t := NewTablePrinter(p.out, opts...)
		table(t)
		return t.Render()
	}
	return fmt.Errorf("unsupported output format %q (want table, wide, json or yaml)", p.format)
}

// printYAML round-trips through JSON so field names follow the json tags.
func (p *Printer) printYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func PrintSuccess(message string) {
	_, _ = fmt.Fprintln(os.Stdout, successStyle.Render("✓ "+message))
}

func PrintError(message string) {
	_, _ = fmt.Fprintln(os.Stderr, errorStyle.Render("Error:")+" "+message)
}

// PrintWarning writes to stderr so it never mixes with JSON or YAML output.
func PrintWarning(message string) {
	_, _ = fmt.Fprintln(os.Stderr, warningStyle.Render("Warning: "+message))
}

func PrintInfo(message string) {
	_, _ = fmt.Fprintln(os.Stdout, message)
}

// Muted renders s de-emphasised.
func Muted(s string) string {
	return mutedStyle.Render(s)
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
