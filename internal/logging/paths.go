package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	serverLogName   = "server.log"
	parserLogSuffix = "_parser.log"
	parserDayLayout = "2006_01_02"
)

// DefaultLogDir returns the default log directory (./logs).
func DefaultLogDir() string {
	return "logs"
}

// ServerLogPath returns the HTTP service log path inside dir.
func ServerLogPath(dir string) string {
	return filepath.Join(dir, serverLogName)
}

// ParserLogPath returns the ingestion log path for the day of t.
func ParserLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(parserDayLayout)+parserLogSuffix)
}

// LogSource selects which log files the viewer reads.
type LogSource string

const (
	// LogSourceServer is the HTTP service log (default).
	LogSourceServer LogSource = "server"
	// LogSourceParser is the most recent daily ingestion log.
	LogSourceParser LogSource = "parser"
	// LogSourceAll combines both.
	LogSourceAll LogSource = "all"
)

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) (LogSource, error) {
	switch LogSource(s) {
	case LogSourceServer, LogSourceParser, LogSourceAll:
		return LogSource(s), nil
	case "":
		return LogSourceServer, nil
	}
	return "", fmt.Errorf("unknown log source: %s (use: server, parser, all)", s)
}

// LatestParserLog returns the newest daily ingestion log in dir.
func LatestParserLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+parserLogSuffix))
	if err != nil {
		return "", fmt.Errorf("failed to list parser logs: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no parser log found in %s", dir)
	}
	// yyyy_MM_dd sorts lexically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// FindLogFiles resolves the log files for source.
// An explicit path takes precedence over the source.
func FindLogFiles(dir string, source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	var paths, checked []string
	if source == LogSourceServer || source == LogSourceAll {
		p := ServerLogPath(dir)
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if source == LogSourceParser || source == LogSourceAll {
		checked = append(checked, filepath.Join(dir, "*"+parserLogSuffix))
		if p, err := LatestParserLog(dir); err == nil {
			paths = append(paths, p)
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %s", source, strings.Join(checked, ", "))
	}
	return paths, nil
}

// sourceFromPath derives the viewer label from a log file name.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, serverLogName):
		return string(LogSourceServer)
	case strings.Contains(base, parserLogSuffix):
		return string(LogSourceParser)
	default:
		return "unknown"
	}
}
