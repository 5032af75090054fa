// Package output provides output formatting for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Tabular is implemented by values with a table rendering.
type Tabular interface {
	Table() Table
}

// Writer handles formatted output. Data goes to out, status messages to msg.
type Writer struct {
	format Format
	out    io.Writer
	msg    io.Writer
}

// NewWriter creates a writer on stdout and stderr.
func NewWriter(format string) *Writer {
	return NewWriterTo(format, os.Stdout, os.Stderr)
}

// NewWriterTo creates a writer on the given streams.
func NewWriterTo(format string, out, msg io.Writer) *Writer {
	f := Format(format)
	if f != FormatJSON && f != FormatYAML {
		f = FormatTable
	}
	return &Writer{format: f, out: out, msg: msg}
}

// Print outputs data in the configured format.
func (w *Writer) Print(data any) error {
	switch w.format {
	case FormatJSON:
		return w.printJSON(data)
	case FormatYAML:
		return w.printYAML(data)
	default:
		return w.printTable(data)
	}
}

func (w *Writer) printJSON(data any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printYAML goes through JSON first so keys follow the json tags.
func (w *Writer) printYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func (w *Writer) printTable(data any) error {
	switch v := data.(type) {
	case Table:
		return w.writeTable(v)
	case Tabular:
		return w.writeTable(v.Table())
	default:
		return w.printJSON(data)
	}
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (w *Writer) writeTable(t Table) error {
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)

	writeRow(tw, t.Headers)
	for _, row := range t.Rows {
		writeRow(tw, row)
	}

	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}

// Success prints a success message.
func (w *Writer) Success(format string, args ...any) {
	fmt.Fprintf(w.msg, "✓ "+format+"\n", args...)
}

// Error prints an error message.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.msg, "✗ "+format+"\n", args...)
}

// Info prints an info message.
func (w *Writer) Info(format string, args ...any) {
	fmt.Fprintf(w.msg, "→ "+format+"\n", args...)
}
