package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

type column struct {
	title string
	wide  bool
}

// TablePrinter collects rows and writes them as aligned columns. Columns
// added with SetWideHeaders only appear in wide output.
type TablePrinter struct {
	out       io.Writer
	columns   []column
	rows      [][]string
	noHeaders bool
	wide      bool
}

// Option customises a TablePrinter.
type Option func(*TablePrinter)

// WithNoHeaders omits the header line.
func WithNoHeaders() Option {
	return func(t *TablePrinter) { t.noHeaders = true }
}

// WithWide shows the wide columns.
func WithWide() Option {
	return func(t *TablePrinter) { t.wide = true }
}

// NewTablePrinter returns a table writing to out, or stdout when out is nil.
func NewTablePrinter(out io.Writer, opts ...Option) *TablePrinter {
	if out == nil {
		out = os.Stdout
	}
	t := &TablePrinter{out: out}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetHeaders replaces the regular columns.
func (t *TablePrinter) SetHeaders(titles ...string) {
	t.columns = t.columns[:0]
	for _, title := range titles {
		t.columns = append(t.columns, column{title: title})
	}
}

// SetWideHeaders appends columns shown only in wide output. Rows must supply
// their cells in column order either way.
func (t *TablePrinter) SetWideHeaders(titles ...string) {
	for _, title := range titles {
		t.columns = append(t.columns, column{title: title, wide: true})
	}
}

// AddRow appends one row; cells are formatted with %v.
func (t *TablePrinter) AddRow(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.rows = append(t.rows, row)
}

func (t *TablePrinter) shown(i int) bool {
	return t.wide || i >= len(t.columns) || !t.columns[i].wide
}

func (t *TablePrinter) line(cells []string) string {
	kept := make([]string, 0, len(cells))
	for i, c := range cells {
		if t.shown(i) {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, "\t")
}

// Render writes the table. An empty table writes nothing.
func (t *TablePrinter) Render() error {
	if len(t.columns) == 0 && len(t.rows) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(t.out, 0, 0, 3, ' ', 0)
	if !t.noHeaders && len(t.columns) > 0 {
		titles := make([]string, len(t.columns))
		for i, c := range t.columns {
			titles[i] = strings.ToUpper(c.title)
		}
		_, _ = fmt.Fprintln(w, t.line(titles))
	}
	for _, row := range t.rows {
		_, _ = fmt.Fprintln(w, t.line(row))
	}
	return w.Flush()
}

// TruncateString shortens s to maxLen cells, ending in "..." when there is room.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return truncate.String(s, uint(max(maxLen, 0)))
	}
	return truncate.StringWithTail(s, uint(maxLen), "...")
}

// Wrap breaks s into lines of at most width cells.
func Wrap(s string, width int) string {
	return wordwrap.String(s, width)
}

// EmptyValueOrDefault substitutes def for an empty value.
func EmptyValueOrDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
