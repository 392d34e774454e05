package output

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Reporter reports progress of a counted job.
type Reporter interface {
	Start(total int, description string)
	Add(n int)
	Finish()
}

// NewReporter returns a progress bar reporter when out is an interactive
// terminal and a line reporter otherwise.
func NewReporter(out io.Writer) Reporter {
	if IsTTY(out) && !DetectCI() {
		return &BarReporter{out: out}
	}
	return &LineReporter{out: out}
}

// BarReporter draws a progress bar.
type BarReporter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// Start implements Reporter.
func (r *BarReporter) Start(total int, description string) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Add implements Reporter.
func (r *BarReporter) Add(n int) {
	if r.bar != nil {
		_ = r.bar.Add(n)
	}
}

// Finish implements Reporter.
func (r *BarReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

// LineReporter prints one line per update, for logs and pipes.
type LineReporter struct {
	out         io.Writer
	total       int
	done        int
	description string
}

// Start implements Reporter.
func (r *LineReporter) Start(total int, description string) {
	r.total, r.done, r.description = total, 0, description
	_, _ = fmt.Fprintf(r.out, "%s: %d records\n", description, total)
}

// Add implements Reporter.
func (r *LineReporter) Add(n int) {
	r.done += n
	_, _ = fmt.Fprintf(r.out, "[%d/%d] %s\n", r.done, r.total, r.description)
}

// Finish implements Reporter.
func (r *LineReporter) Finish() {
	_, _ = fmt.Fprintf(r.out, "%s: done\n", r.description)
}
