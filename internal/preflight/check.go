// Package preflight checks that the host can run crawldex before a long
// ingestion or serving session starts.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, preflight.Target{LogDir: "logs"})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CheckStatus is the outcome of a check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the upper-case status name.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the status by name.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(s.String()))
}

// UnmarshalJSON parses a status name written by MarshalJSON.
func (s *CheckStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch strings.ToUpper(name) {
	case "PASS":
		*s = StatusPass
	case "WARN":
		*s = StatusWarn
	case "FAIL":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", name)
	}
	return nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Probe is a named connectivity check supplied by the caller, such as a
// round trip to the index engine.
type Probe struct {
	Name     string
	Required bool
	Run      func(ctx context.Context) error
}

// Target describes what to check.
type Target struct {
	// LogDir must be writable.
	LogDir string
	// DataDir, when set, must be writable and have free space.
	DataDir string
	Probes  []Probe
}

// Checker runs checks and prints their results.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check for target in a fixed order.
func (c *Checker) RunAll(ctx context.Context, target Target) []CheckResult {
	var results []CheckResult

	results = append(results, c.CheckWritePermissions("log_dir", target.LogDir))
	spaceDir := target.LogDir
	if target.DataDir != "" {
		results = append(results, c.CheckWritePermissions("data_dir", target.DataDir))
		spaceDir = target.DataDir
	}
	// A failed walk leaves a partial footprint; the limits only grow with it.
	fp, _ := MeasureFootprint(target.DataDir)
	results = append(results, c.CheckDiskSpace(spaceDir, fp))
	results = append(results, c.CheckFileDescriptors(fp))

	for _, p := range target.Probes {
		results = append(results, c.runProbe(ctx, p))
	}
	return results
}

func (c *Checker) runProbe(ctx context.Context, p Probe) CheckResult {
	result := CheckResult{Name: p.Name, Required: p.Required}
	if err := p.Run(ctx); err != nil {
		result.Status = StatusFail
		if !p.Required {
			result.Status = StatusWarn
		}
		result.Message = "unreachable"
		result.Details = describe(err)
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// describe renders err with its direct cause when the message omits it.
func describe(err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil && !strings.Contains(msg, cause.Error()) {
		msg += ": " + cause.Error()
	}
	return msg
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a human-readable report.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "crawldex system check")
	_, _ = fmt.Fprintln(c.output, "=====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var errs, warnings []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errs = append(errs, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	printList(c.output, "error(s)", errs)
	printList(c.output, "warning(s)", warnings)
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s:\n", len(items), label)
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", item)
	}
}

// CheckWritePermissions creates dir if needed and writes a scratch file in it.
func (c *Checker) CheckWritePermissions(name, dir string) CheckResult {
	result := CheckResult{Name: name, Required: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}
	testFile := filepath.Join(dir, ".crawldex-preflight")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = dir
	return result
}
