package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"
)

// MinFreeBytes is the free space floor for logs and a fresh index (100MB).
const MinFreeBytes = 100 << 20

// Footprint is what an on-disk index already occupies under engine.data_dir.
type Footprint struct {
	Bytes int64
	Files int
}

// MeasureFootprint sums the regular files under dataDir. An empty or
// missing directory has a zero footprint.
func MeasureFootprint(dataDir string) (Footprint, error) {
	var fp Footprint
	if dataDir == "" {
		return fp, nil
	}
	err := filepath.WalkDir(dataDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fp.Bytes += info.Size()
		fp.Files++
		return nil
	})
	return fp, err
}

// RequiredFreeBytes is the space a save of the index needs: vector graphs
// are written next to the old copy before the rename and bleve merges
// segments into new files, so up to the index size again.
func (fp Footprint) RequiredFreeBytes() uint64 {
	return max(uint64(MinFreeBytes), uint64(fp.Bytes))
}

// CheckDiskSpace checks that the filesystem holding path can absorb a save
// of an index with footprint fp.
func (c *Checker) CheckDiskSpace(path string, fp Footprint) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}
	free := stat.Bavail * uint64(stat.Bsize)
	need := fp.RequiredFreeBytes()

	result.Message = fmt.Sprintf("%s free, need %s", formatBytes(free), formatBytes(need))
	if fp.Bytes > 0 {
		result.Details = fmt.Sprintf("index holds %s in %d files", formatBytes(uint64(fp.Bytes)), fp.Files)
	}
	result.Status = StatusPass
	if free < need {
		result.Status = StatusFail
	}
	return result
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d bytes", n)
	}
	value, suffix := float64(n)/unit, "KB"
	for _, s := range []string{"MB", "GB", "TB"} {
		if value < unit {
			break
		}
		value, suffix = value/unit, s
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}
