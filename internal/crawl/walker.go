// Package crawl turns a crawl job directory into IndexRecords.
//
// A crawl job directory is laid out as
//
//	<root>/<category>/<host>/<path segments...>/<file>
//
// The first directory level below the root names the category of every page
// beneath it. The remaining directory levels are joined into the page URL;
// file names do not contribute to the URL.
package crawl

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/crawldex/crawldex/internal/document"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/extract"
)

// DefaultMaxDepth bounds recursion below the crawl root.
const DefaultMaxDepth = 64

// URLScheme is prefixed to every reconstructed URL.
const URLScheme = "https://"

// Options configures a Walker.
type Options struct {
	// MaxDepth is the deepest directory level visited below the root.
	// Zero means DefaultMaxDepth.
	MaxDepth int

	// Exclude holds doublestar patterns matched against the slash-separated
	// path of each entry relative to the root.
	Exclude []string

	Logger *slog.Logger
}

// Stats summarizes one walk.
type Stats struct {
	Files     int // regular files reached
	Records   int // records emitted
	Failed    int // files whose extraction failed
	Excluded  int // entries matched by an exclude pattern
	Skipped   int // symlinked directories, special files and unreadable directories
	DepthHits int // directories not entered because of MaxDepth
}

// Walker visits a crawl job directory and extracts one record per file.
type Walker struct {
	extractor extract.Extractor
	maxDepth  int
	exclude   []string
	logger    *slog.Logger
}

// New creates a Walker. It fails if an exclude pattern is malformed.
func New(extractor extract.Extractor, opts Options) (*Walker, error) {
	if extractor == nil {
		return nil, cerrors.InternalError("crawl walker requires an extractor", nil)
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, cerrors.ConfigError(fmt.Sprintf("invalid exclude pattern %q", p), nil)
		}
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Walker{
		extractor: extractor,
		maxDepth:  maxDepth,
		exclude:   opts.Exclude,
		logger:    logger,
	}, nil
}

// category is the category assigned to a subtree. The zero value means no
// category has been assigned yet.
type category struct {
	name string
	set  bool
}

func (c category) value() string {
	if !c.set {
		return document.Unknown
	}
	return c.name
}

// Walk visits root and returns the records in directory-listing order.
func (w *Walker) Walk(ctx context.Context, root string) ([]document.IndexRecord, Stats, error) {
	var records []document.IndexRecord
	stats, err := w.WalkFunc(ctx, root, func(r document.IndexRecord) error {
		records = append(records, r)
		return nil
	})
	return records, stats, err
}

// WalkFunc visits root and calls fn for every record as soon as it is
// extracted. A non-nil error from fn stops the walk and is returned.
//
// If root is a file, fn is called once with its record; the record has no
// URL and no category.
func (w *Walker) WalkFunc(ctx context.Context, root string, fn func(document.IndexRecord) error) (Stats, error) {
	var stats Stats

	info, err := os.Stat(root)
	if err != nil {
		return stats, cerrors.New(cerrors.ErrCodeFileNotFound, "crawl root not found", err).
			WithDetail("path", root)
	}

	v := &visitor{w: w, ctx: ctx, fn: fn, stats: &stats}
	if info.IsDir() {
		err = v.dir(root, "", "", category{}, 0)
	} else {
		err = v.file(root, "", category{})
	}
	return stats, err
}

type visitor struct {
	w     *Walker
	ctx   context.Context
	fn    func(document.IndexRecord) error
	stats *Stats
}

// dir visits the children of a directory. rel is the slash path of dir
// relative to the root and is used for exclude matching only.
func (v *visitor) dir(dir, rel, urlPath string, cat category, depth int) error {
	if err := v.ctx.Err(); err != nil {
		return err
	}
	if depth > v.w.maxDepth {
		v.stats.DepthHits++
		v.w.logger.Warn("max_depth_exceeded",
			slog.String("path", dir),
			slog.Int("max_depth", v.w.maxDepth))
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		v.stats.Skipped++
		v.w.logger.Warn("read_dir_failed",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		childPath := filepath.Join(dir, name)
		childRel := path.Join(rel, name)

		if v.w.excluded(childRel) {
			v.stats.Excluded++
			v.w.logger.Debug("excluded", slog.String("path", childRel))
			continue
		}

		isDir, ok := v.classify(childPath, entry)
		if !ok {
			continue
		}

		switch {
		case isDir && !cat.set:
			err = v.dir(childPath, childRel, urlPath, category{name: name, set: true}, depth+1)
		case isDir:
			err = v.dir(childPath, childRel, urlPath+"/"+name, cat, depth+1)
		default:
			err = v.file(childPath, urlPath, cat)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// classify reports whether entry is a directory. ok is false for entries the
// walk skips: symlinked directories, dangling links and special files.
func (v *visitor) classify(p string, entry fs.DirEntry) (isDir, ok bool) {
	mode := entry.Type()
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Stat(p)
		if err != nil {
			v.stats.Skipped++
			v.w.logger.Debug("dangling_symlink", slog.String("path", p))
			return false, false
		}
		if target.IsDir() {
			v.stats.Skipped++
			v.w.logger.Debug("symlink_dir_skipped", slog.String("path", p))
			return false, false
		}
		mode = target.Mode().Type()
	}

	switch {
	case mode.IsDir():
		return true, true
	case mode.IsRegular():
		return false, true
	default:
		v.stats.Skipped++
		return false, false
	}
}

func (v *visitor) file(p, urlPath string, cat category) error {
	if err := v.ctx.Err(); err != nil {
		return err
	}
	v.stats.Files++

	result, err := v.w.extractor.Extract(v.ctx, p)
	if err != nil {
		if v.ctx.Err() != nil {
			return v.ctx.Err()
		}
		v.stats.Failed++
		attrs := append([]any{slog.String("path", p)}, cerrors.FormatForLog(err)...)
		v.w.logger.Warn("extract_failed", attrs...)
		return nil
	}

	record := document.NewIndexRecord()
	record.SetTitle(result.Title)
	record.SetContent(result.Content)
	if urlPath != "" {
		record.URL = URLScheme + strings.TrimPrefix(urlPath, "/")
	}
	record.Category = cat.value()

	v.stats.Records++
	v.w.logger.Debug("extracted",
		slog.String("path", p),
		slog.String("url", record.URL),
		slog.String("category", record.Category))
	return v.fn(record)
}

func (w *Walker) excluded(rel string) bool {
	for _, p := range w.exclude {
		// Patterns were validated in New.
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
