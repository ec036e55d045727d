package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes UI components to a writer, sized to the terminal.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a printer for out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, width: GetTerminalWidth()}
}

// Header prints a command header followed by a blank line
func (p *Printer) Header(title, command string, params ...Field) {
	fmt.Fprintln(p.out, NewHeader(title, command, params...).SetWidth(p.width).Render())
	fmt.Fprintln(p.out)
}

// Success prints a success box
func (p *Printer) Success(title string, details ...Field) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

// Failure prints a failure box with troubleshooting tips
func (p *Printer) Failure(title string, err error, troubleshooting ...string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, NewFailureResult(title, err, troubleshooting...).SetWidth(p.width).Render())
}

// Warning prints a warning box
func (p *Printer) Warning(title string, details ...Field) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, NewWarningResult(title, details...).SetWidth(p.width).Render())
}

// PleaseWait prints a note for operations that block for a while, e.g.
// ("Scanning for coordinators", "5s").
func (p *Printer) PleaseWait(message, durationHint string) {
	style := lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true).PaddingLeft(2)
	hint := lipgloss.NewStyle().Foreground(MutedColor).Italic(true)

	line := style.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + hint.Render("("+durationHint+")")
	}
	line += style.Render("...")

	fmt.Fprintln(p.out, line)
	fmt.Fprintln(p.out)
}

// Line prints pre-rendered content
func (p *Printer) Line(s string) {
	fmt.Fprintln(p.out, s)
}

// Stdout is the printer commands use by default.
var Stdout = NewPrinter(os.Stdout)
