// Package console renders batch progress for the terminal. Whether color
// is emitted is an injected setting; nothing here touches global state.
package console

import (
	"fmt"
	"io"
	"os"

	"saberforge/internal/pipeline"
)

const (
	codeGreen  = "\033[92m"
	codeYellow = "\033[93m"
	codeBlue   = "\033[94m"
	codeCyan   = "\033[96m"
	codeBold   = "\033[1m"
	codeReset  = "\033[0m"
)

// Printer writes progress lines for one batch.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter builds a printer. Pass color=false to emit plain text.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

// StdoutSupportsColor reports whether stdout is attached to a terminal.
func StdoutSupportsColor() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Processing announces the start of one file's run.
func (p *Printer) Processing(index, total int, file string) {
	fmt.Fprintf(p.out, "\n%s %s\n",
		p.wrap(codeBold, fmt.Sprintf("Processing file %d/%d:", index, total)),
		p.wrap(codeBlue, file))
}

// Skip reports a file whose output already exists.
func (p *Printer) Skip(file string) {
	fmt.Fprintln(p.out, p.wrap(codeYellow, fmt.Sprintf("Skipping %s - output already exists", file)))
}

// Stage prints a progress line for a pipeline state transition.
func (p *Printer) Stage(state pipeline.State) {
	switch state {
	case pipeline.StateMetadataRead:
		fmt.Fprintln(p.out, p.wrap(codeYellow, "Read audio metadata"))
	case pipeline.StateSubmitted:
		fmt.Fprintln(p.out, p.wrap(codeYellow, "Uploaded audio file"))
	case pipeline.StatePolling:
		fmt.Fprintln(p.out, p.wrap(codeYellow, "Generating map..."))
	case pipeline.StateTimedOut:
		fmt.Fprintln(p.out, p.wrap(codeYellow, "Generation timed out"))
	}
}

// Failure reports a file that reached a failed terminal state.
func (p *Printer) Failure(file string, err error) {
	fmt.Fprintln(p.out, p.wrap(codeYellow, fmt.Sprintf("Error processing %s: %v", file, err)))
}

// Done reports a successfully generated map and where it landed.
func (p *Printer) Done(name, dir string) {
	fmt.Fprintf(p.out, "%s saved in %s\n", p.wrap(codeBlue, name), p.wrap(codeCyan, dir))
	fmt.Fprintln(p.out, p.wrap(codeBold, "---------------------------"))
}

// Summary closes out a batch.
func (p *Printer) Summary(processed, skipped, failed int) {
	line := fmt.Sprintf("Batch finished: %d generated, %d skipped, %d failed", processed, skipped, failed)
	code := codeGreen
	if failed > 0 {
		code = codeYellow
	}
	fmt.Fprintf(p.out, "\n%s\n", p.wrap(code, line))
}

func (p *Printer) wrap(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + codeReset
}
