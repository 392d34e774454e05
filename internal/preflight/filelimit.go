package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open file limit floor for serving.
const MinFileDescriptors = 1024

// RecommendedFileDescriptors is the open file limit an index with footprint
// fp needs: a serving engine keeps every segment and graph file open, with
// room left for HTTP connections and logs.
func (fp Footprint) RecommendedFileDescriptors() uint64 {
	return max(MinFileDescriptors, 2*uint64(fp.Files)+256)
}

// CheckFileDescriptors warns when the open file limit is below what the
// index with footprint fp needs.
func (c *Checker) CheckFileDescriptors(fp Footprint) CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read the open file limit: %v", err)
		return result
	}
	return fileLimitResult(result, limit.Cur, fp.RecommendedFileDescriptors())
}

func fileLimitResult(result CheckResult, limit, want uint64) CheckResult {
	result.Message = fmt.Sprintf("%d open files allowed, %d recommended", limit, want)
	if limit < want {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before 'crawldex serve'", want)
		return result
	}
	result.Status = StatusPass
	return result
}
