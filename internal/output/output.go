// Package output renders command results as coloured text, aligned tables
// or JSON.
package output

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format represents the output format type
type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatTable Format = "table"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatText, FormatTable:
		return Format(s), nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, table or json)", s)
}

// Printer writes results to Out and status lines to Err.
type Printer struct {
	Format Format
	Out    io.Writer
	Err    io.Writer
	status *log.Logger
}

func New(format Format, verbose bool) *Printer {
	return NewWithWriters(format, verbose, color.Output, os.Stderr)
}

func NewWithWriters(format Format, verbose bool, out, errOut io.Writer) *Printer {
	status := log.NewWithOptions(errOut, log.Options{ReportTimestamp: false})
	if verbose {
		status.SetLevel(log.DebugLevel)
	}
	return &Printer{Format: format, Out: out, Err: errOut, status: status}
}

// Status returns the console logger used for progress lines.
func (p *Printer) Status() *log.Logger {
	return p.status
}

// JSON reports whether results should be machine readable.
func (p *Printer) JSON() bool {
	return p.Format == FormatJSON
}

// Print outputs data in the configured format. Text and table formats use
// text when given, which lets callers supply a human rendering.
func (p *Printer) Print(data any, text func(w io.Writer)) error {
	if p.JSON() || text == nil {
		return p.writeJSON(data)
	}
	text(p.Out)
	return nil
}

// Table prints rows with bold headers, or the raw data as JSON.
func (p *Printer) Table(data any, headers []string, rows [][]string) error {
	if p.JSON() {
		return p.writeJSON(data)
	}
	if len(rows) == 0 {
		p.Info("Nothing to show")
		return nil
	}

	w := tabwriter.NewWriter(p.Out, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)
	for i, h := range headers {
		bold.Fprint(w, h)
		if i < len(headers)-1 {
			fmt.Fprint(w, "\t")
		}
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			fmt.Fprint(w, cell)
			if i < len(row)-1 {
				fmt.Fprint(w, "\t")
			}
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// Record prints ordered key/value pairs.
func (p *Printer) Record(data any, keys []string, values []string) error {
	if p.JSON() {
		return p.writeJSON(data)
	}
	bold := color.New(color.Bold)
	for i, k := range keys {
		bold.Fprint(p.Out, k+": ")
		fmt.Fprintln(p.Out, values[i])
	}
	return nil
}

func (p *Printer) writeJSON(data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.Out, string(b))
	return err
}

// Success prints a success message. Suppressed in JSON mode.
func (p *Printer) Success(msg string, args ...any) {
	p.line(color.New(color.FgGreen), msg, args...)
}

// Info prints an info message. Suppressed in JSON mode.
func (p *Printer) Info(msg string, args ...any) {
	p.line(color.New(color.FgCyan), msg, args...)
}

// Warning prints a warning to the error writer.
func (p *Printer) Warning(msg string, args ...any) {
	color.New(color.FgYellow).Fprintf(p.Err, "Warning: "+msg+"\n", args...)
}

// Error prints an error message to the error writer.
func (p *Printer) Error(msg string, args ...any) {
	color.New(color.FgRed).Fprintf(p.Err, "Error: "+msg+"\n", args...)
}

func (p *Printer) line(c *color.Color, msg string, args ...any) {
	if p.JSON() {
		return
	}
	c.Fprintf(p.Out, msg+"\n", args...)
}
