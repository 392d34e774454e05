package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stream selects which crawldex log a LogFile appends to.
type Stream int

const (
	// StreamServer is dir/server.log. It is cut by size into server.log.1,
	// server.log.2 and so on.
	StreamServer Stream = iota
	// StreamParser is dir/yyyy_MM_dd_parser.log. Each day gets its own file
	// and a run that crosses midnight continues in the new day's file.
	StreamParser
)

// String returns the log source name the viewer uses for the stream.
func (s Stream) String() string {
	if s == StreamParser {
		return string(LogSourceParser)
	}
	return string(LogSourceServer)
}

// LogFile is an io.Writer over one crawldex log stream. MaxFiles bounds the
// numbered server logs kept, or the daily parser logs kept.
type LogFile struct {
	dir      string
	stream   Stream
	maxSize  int64
	maxFiles int
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	path    string
	written int64
	sync    bool
}

// OpenLogFile opens the current file of stream in dir, creating dir.
// Every write is synced so `crawldex logs -f` sees it at once.
func OpenLogFile(dir string, stream Stream, maxSizeMB, maxFiles int) (*LogFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &LogFile{
		dir:      dir,
		stream:   stream,
		maxSize:  int64(maxSizeMB) << 20,
		maxFiles: maxFiles,
		now:      time.Now,
		sync:     true,
	}
	if err := w.switchTo(w.pathAt(w.now())); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the file currently written.
func (w *LogFile) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// SetSync enables or disables the sync after each write.
func (w *LogFile) SetSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sync = enabled
}

func (w *LogFile) pathAt(t time.Time) string {
	if w.stream == StreamParser {
		return ParserLogPath(w.dir, t)
	}
	return ServerLogPath(w.dir)
}

// Write appends p to the stream's current file, moving to a new day's
// parser log or cutting the server log first when due.
func (w *LogFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}

	switch {
	case w.stream == StreamParser:
		if path := w.pathAt(w.now()); path != w.path {
			if err := w.switchTo(path); err != nil {
				return 0, err
			}
		}
	case w.written > 0 && w.written+int64(len(p)) > w.maxSize:
		if err := w.cutServerLog(); err != nil {
			// Keep logging into the oversized file.
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.sync {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes the current file to disk.
func (w *LogFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the current file. Writes after Close fail.
func (w *LogFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// switchTo closes the open file, if any, and appends to path instead.
// Moving to a parser log prunes the oldest days.
func (w *LogFile) switchTo(path string) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file, w.path, w.written = f, path, info.Size()

	if w.stream == StreamParser {
		w.pruneDays()
	}
	return nil
}

// pruneDays removes daily parser logs beyond the newest maxFiles.
func (w *LogFile) pruneDays() {
	if w.maxFiles <= 0 {
		return
	}
	days, err := filepath.Glob(filepath.Join(w.dir, "*"+parserLogSuffix))
	if err != nil || len(days) <= w.maxFiles {
		return
	}
	// yyyy_MM_dd sorts lexically.
	slices.Sort(days)
	for _, p := range days[:len(days)-w.maxFiles] {
		if p != w.path {
			_ = os.Remove(p)
		}
	}
}

// cutServerLog shifts server.log.N to N+1, drops numbers past maxFiles and
// starts an empty server.log.
func (w *LogFile) cutServerLog() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	for _, n := range w.numberedLogs() {
		old := fmt.Sprintf("%s.%d", w.path, n)
		if n >= w.maxFiles {
			_ = os.Remove(old)
			continue
		}
		_ = os.Rename(old, fmt.Sprintf("%s.%d", w.path, n+1))
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		// Reopen so later writes still land somewhere.
		_ = w.switchTo(w.path)
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return w.switchTo(w.path)
}

// numberedLogs returns the suffixes of path.N files, highest first.
func (w *LogFile) numberedLogs() []int {
	matches, _ := filepath.Glob(w.path + ".*")
	var nums []int
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(m, w.path+"."))
		if err == nil && n > 0 {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	slices.Reverse(nums)
	return nums
}
