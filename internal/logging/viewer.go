package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxLineSize bounds a single log line read by the viewer.
const maxLineSize = 1024 * 1024

// LogEntry represents a parsed JSON log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Source  string         // "server" or "parser"
	Attrs   map[string]any // Remaining attributes
	Raw     string         // Original line
	IsValid bool           // Whether JSON parsing succeeded
}

// ViewerConfig configures the log viewer.
type ViewerConfig struct {
	Level      string         // Minimum level to show
	Pattern    *regexp.Regexp // Raw line must match
	NoColor    bool
	ShowSource bool
}

// Viewer reads, filters and prints crawldex log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a new log viewer.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the last n matching entries across paths, ordered by time.
// Unreadable files are skipped when more than one path is given.
func (v *Viewer) Tail(paths []string, n int) ([]LogEntry, error) {
	var all []LogEntry
	for _, path := range paths {
		lines, err := lastLines(path, n)
		if err != nil {
			if len(paths) == 1 {
				return nil, err
			}
			continue
		}
		source := sourceFromPath(path)
		for _, line := range lines {
			entry := v.parseLine(line, source)
			if v.matchesFilter(entry) {
				all = append(all, entry)
			}
		}
	}

	if len(paths) > 1 {
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Time.Before(all[j].Time)
		})
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Follow polls paths for appended lines and sends matching entries until
// ctx is cancelled.
func (v *Viewer) Follow(ctx context.Context, paths []string, entries chan<- LogEntry) error {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		files = append(files, f)
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("failed to seek to end: %w", err)
		}
	}

	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(f *os.File, source string) {
			defer wg.Done()
			v.follow(ctx, f, source, entries)
		}(f, sourceFromPath(paths[i]))
	}
	wg.Wait()
	return nil
}

func (v *Viewer) follow(ctx context.Context, f *os.File, source string, entries chan<- LogEntry) {
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					break
				}
				line = strings.TrimSuffix(line, "\n")
				if line == "" {
					continue
				}
				entry := v.parseLine(line, source)
				if !v.matchesFilter(entry) {
					continue
				}
				select {
				case entries <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// FormatEntry formats a log entry for display.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	sourceLabel := ""
	if v.config.ShowSource && entry.Source != "" {
		sourceLabel = v.color(sourceColor(entry.Source), "["+entry.Source+"]") + " "
	}

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var attrs strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&attrs, " %s=%v", k, entry.Attrs[k])
	}

	return fmt.Sprintf("%s %s %s%s%s",
		entry.Time.Format("15:04:05.000"),
		v.formatLevel(entry.Level),
		sourceLabel,
		entry.Msg,
		attrs.String())
}

// Print prints entries to the output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// parseLine parses a JSON log line into LogEntry.
func (v *Viewer) parseLine(line, source string) LogEntry {
	entry := LogEntry{Raw: line, Source: source}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level, _ = data["level"].(string)
	entry.Msg, _ = data["msg"].(string)

	entry.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		switch k {
		case "time", "level", "msg":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

// matchesFilter checks if an entry matches the configured filters.
func (v *Viewer) matchesFilter(entry LogEntry) bool {
	if v.config.Level != "" && entry.IsValid {
		if LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// formatLevel pads the level to five columns and colors it.
func (v *Viewer) formatLevel(level string) string {
	levelStr := strings.ToUpper(level)
	if len(levelStr) > 5 {
		levelStr = levelStr[:5]
	}
	levelStr = fmt.Sprintf("%-5s", levelStr)

	switch strings.ToLower(level) {
	case "debug":
		return v.color("90", levelStr)
	case "info":
		return v.color("32", levelStr)
	case "warn", "warning":
		return v.color("33", levelStr)
	case "error":
		return v.color("31", levelStr)
	default:
		return levelStr
	}
}

func sourceColor(source string) string {
	switch source {
	case string(LogSourceServer):
		return "36"
	case string(LogSourceParser):
		return "35"
	default:
		return "90"
	}
}

func (v *Viewer) color(code, s string) string {
	if v.config.NoColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// lastLines returns up to n trailing lines of the file at path.
func lastLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return lines, nil
}
