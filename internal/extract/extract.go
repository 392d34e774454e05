// Package extract turns crawled files into a title and plain-text content.
//
// The format is chosen from the file extension, falling back to content
// sniffing for extensionless crawl output. HTML loses its boilerplate
// (navigation, headers, footers, scripts) before tag stripping; Markdown is
// parsed with goldmark. Extracted content always has whitespace runs
// collapsed to a single space.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	cerrors "github.com/crawldex/crawldex/internal/errors"
)

// DefaultMaxFileSize bounds the bytes read from one file.
const DefaultMaxFileSize = 10 * 1024 * 1024

// sniffLen is how much of a file is inspected for format detection.
const sniffLen = 512

// Result is the outcome of extracting one file. Empty fields mean the
// document had no such value.
type Result struct {
	Title   string
	Content string
	Format  Format
}

// Format identifies how a file was interpreted.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Extractor converts the file at path into a Result.
// A non-nil error means the file could not be read or interpreted.
type Extractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// Default is the multi-format extractor used by the crawl walker.
type Default struct {
	maxFileSize int64
	md          goldmark.Markdown
}

var _ Extractor = (*Default)(nil)

// Option configures a Default extractor.
type Option func(*Default)

// WithMaxFileSize limits the size of files accepted for extraction.
// Zero or negative keeps the default.
func WithMaxFileSize(n int64) Option {
	return func(d *Default) {
		if n > 0 {
			d.maxFileSize = n
		}
	}
}

// New creates a Default extractor.
func New(opts ...Option) *Default {
	d := &Default{
		maxFileSize: DefaultMaxFileSize,
		md:          goldmark.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Extract reads and interprets the file at path.
func (d *Default) Extract(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, cerrors.New(cerrors.ErrCodeFileNotFound, fmt.Sprintf("cannot stat %s", path), err).
			WithDetail("path", path)
	}
	if info.Size() > d.maxFileSize {
		return Result{}, cerrors.New(cerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, limit is %d", path, info.Size(), d.maxFileSize), nil).
			WithDetail("path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, cerrors.ExtractionError(path, err)
	}

	format, err := detectFormat(path, data)
	if err != nil {
		return Result{}, cerrors.New(cerrors.ErrCodeUnsupportedType, err.Error(), nil).WithDetail("path", path)
	}

	var res Result
	switch format {
	case FormatHTML:
		res = extractHTML(data)
	case FormatMarkdown:
		res, err = d.extractMarkdown(data)
		if err != nil {
			return Result{}, cerrors.ExtractionError(path, err)
		}
	default:
		res = Result{Content: collapseSpace(string(data))}
	}
	res.Format = format
	return res, nil
}

// detectFormat picks a format from the extension, then from content.
func detectFormat(path string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml", ".shtml":
		return FormatHTML, nil
	case ".md", ".markdown", ".mdown":
		return FormatMarkdown, nil
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(trimPartialRune(head)) {
		return "", fmt.Errorf("%s looks like a binary file", filepath.Base(path))
	}

	ctype := http.DetectContentType(head)
	switch {
	case strings.HasPrefix(ctype, "text/html"), strings.HasPrefix(ctype, "text/xml"):
		return FormatHTML, nil
	case strings.HasPrefix(ctype, "text/"):
		return FormatText, nil
	}
	return "", fmt.Errorf("%s has unsupported content type %s", filepath.Base(path), ctype)
}

// trimPartialRune drops a rune cut in half by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

var whitespace = regexp.MustCompile(`\s+`)

// collapseSpace replaces each whitespace run with one space and trims the ends.
func collapseSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
