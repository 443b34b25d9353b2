// Package output formats operator-facing CLI output: status lines, the
// index status report, run summaries and retrieved passages.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Writer renders CLI output to a single stream. Write errors are dropped:
// there is nowhere better to report a broken terminal.
type Writer struct {
	out    io.Writer
	color  bool
	styles Styles
}

// New creates a Writer. Color is used when out is a terminal and NO_COLOR
// is unset.
func New(out io.Writer) *Writer {
	color := false
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		fd := f.Fd()
		color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &Writer{out: out, color: color, styles: NewStyles(color)}
}

// Color reports whether styled output is enabled.
func (w *Writer) Color() bool { return w.color }

func (w *Writer) mark(style lipgloss.Style, icon, msg string) {
	_, _ = fmt.Fprintln(w.out, style.Render(icon), msg)
}

// Line prints an indented message without an icon.
func (w *Writer) Line(msg string) {
	_, _ = fmt.Fprintln(w.out, "  ", msg)
}

func (w *Writer) Linef(format string, args ...any) { w.Line(fmt.Sprintf(format, args...)) }

func (w *Writer) Success(msg string) { w.mark(w.styles.Success, "✓", msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

func (w *Writer) Warning(msg string) { w.mark(w.styles.Warning, "!", msg) }

func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

func (w *Writer) Error(msg string) { w.mark(w.styles.Error, "✗", msg) }

func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }

// Progress redraws a single-line bar in place; the line is ended once
// current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	ratio := float64(current) / float64(total)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", progressBar(ratio, 30), ratio*100, msg)
	if current >= total {
		w.Newline()
	}
}

// progressBar draws ratio, clamped to [0,1], as width cells.
func progressBar(ratio float64, width int) string {
	filled := max(0, min(int(ratio*float64(width)), width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
