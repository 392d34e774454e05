package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn, Message: "low", Required: true})

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"disk_space","status":"warn","message":"low","required":true}`, string(data))

	var back CheckResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StatusWarn, back.Status)
	assert.Error(t, json.Unmarshal([]byte(`{"status":"maybe"}`), &back))
}

func TestCheckResult_IsCritical(t *testing.T) {
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusPass, Required: true}.IsCritical())
}

func TestChecker_CheckWritePermissions(t *testing.T) {
	// Given a directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "logs", "nested")
	c := New()

	// When checking it
	result := c.CheckWritePermissions("log_dir", dir)

	// Then it is created and no scratch file is left behind
	assert.Equal(t, StatusPass, result.Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	result := New().CheckWritePermissions("data_dir", file)

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_RunAll(t *testing.T) {
	// Given a target with a data dir and two probes
	root := t.TempDir()
	target := Target{
		LogDir:  filepath.Join(root, "logs"),
		DataDir: filepath.Join(root, "data"),
		Probes: []Probe{
			{Name: "engine", Required: true, Run: func(context.Context) error { return nil }},
			{Name: "embedder", Run: func(context.Context) error { return errors.New("connection refused") }},
		},
	}
	c := New()

	// When running every check
	results := c.RunAll(context.Background(), target)

	// Then checks run in order and the optional probe only warns
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"log_dir", "data_dir", "disk_space", "file_descriptors", "engine", "embedder"}, names)
	assert.Equal(t, StatusPass, results[4].Status)
	assert.Equal(t, StatusWarn, results[5].Status)
	assert.Equal(t, "connection refused", results[5].Details)
	assert.False(t, c.HasCriticalFailures(results))
	assert.NotEqual(t, "failed", c.SummaryStatus(results))
}

func TestChecker_RequiredProbeFailure(t *testing.T) {
	c := New()
	results := c.RunAll(context.Background(), Target{
		LogDir: t.TempDir(),
		Probes: []Probe{{Name: "engine", Required: true, Run: func(context.Context) error {
			return errors.New("no route to host")
		}}},
	})

	assert.True(t, c.HasCriticalFailures(results))
	assert.Equal(t, "failed", c.SummaryStatus(results))
}

func TestChecker_SummaryStatus(t *testing.T) {
	c := New()

	assert.Equal(t, "ready", c.SummaryStatus([]CheckResult{{Status: StatusPass}}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{{Status: StatusPass}, {Status: StatusWarn}}))
	assert.Equal(t, "failed", c.SummaryStatus([]CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}))
}

func TestChecker_PrintResults(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithOutput(&buf), WithVerbose(true))

	c.PrintResults([]CheckResult{
		{Name: "log_dir", Status: StatusPass, Message: "logs", Required: true},
		{Name: "embedder", Status: StatusWarn, Message: "unreachable", Details: "connection refused"},
		{Name: "engine", Status: StatusFail, Message: "unreachable", Required: true},
	})

	out := buf.String()
	assert.Contains(t, out, "[PASS] log_dir: logs")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}

func TestMeasureFootprint(t *testing.T) {
	// Given an index directory with nested segment files
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "indexes", "crawl-data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "indexes", "crawl-data", "000001.zap"), make([]byte, 300), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "indexes", "crawl-data", "content_embedding.hnsw"), make([]byte, 200), 0o644))

	// When measuring it
	fp, err := MeasureFootprint(dir)

	// Then every regular file counts
	require.NoError(t, err)
	assert.Equal(t, Footprint{Bytes: 500, Files: 2}, fp)
}

func TestMeasureFootprint_MissingOrUnset(t *testing.T) {
	fp, err := MeasureFootprint(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)
	assert.Zero(t, fp)

	fp, err = MeasureFootprint("")
	require.NoError(t, err)
	assert.Zero(t, fp)
}

func TestFootprint_Limits(t *testing.T) {
	tests := []struct {
		name     string
		fp       Footprint
		wantFree uint64
		wantFDs  uint64
	}{
		{"empty index", Footprint{}, MinFreeBytes, MinFileDescriptors},
		{"small index", Footprint{Bytes: 10 << 20, Files: 40}, MinFreeBytes, MinFileDescriptors},
		{"large index", Footprint{Bytes: 3 << 30, Files: 900}, 3 << 30, 2056},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantFree, tt.fp.RequiredFreeBytes())
			assert.Equal(t, tt.wantFDs, tt.fp.RecommendedFileDescriptors())
		})
	}
}

func TestFileLimitResult(t *testing.T) {
	low := fileLimitResult(CheckResult{Name: "file_descriptors"}, 256, 2056)
	assert.Equal(t, StatusWarn, low.Status)
	assert.False(t, low.IsCritical())
	assert.Contains(t, low.Details, "ulimit -n 2056")

	ok := fileLimitResult(CheckResult{Name: "file_descriptors"}, 4096, 1024)
	assert.Equal(t, StatusPass, ok.Status)
	assert.Equal(t, "4096 open files allowed, 1024 recommended", ok.Message)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinFreeBytes))
	assert.Equal(t, "3.0 GB", formatBytes(3<<30))
}

func TestChecker_CheckDiskSpace_ReportsFootprint(t *testing.T) {
	dir := t.TempDir()

	result := New().CheckDiskSpace(dir, Footprint{Bytes: 2048, Files: 3})

	assert.Contains(t, result.Message, "need 100.0 MB")
	assert.Equal(t, "index holds 2.0 KB in 3 files", result.Details)
}
