package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/engine"
)

// testEnv is an isolated working directory with a config file whose logs go
// under the directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, config.DefaultFileName)
	body := "logging:\n  dir: " + filepath.Join(dir, "logs") + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return testEnv{dir: dir, config: path}
}

func (e testEnv) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// useEngine makes commands use client instead of the configured backend.
func useEngine(t *testing.T, client engine.Client) {
	t.Helper()
	prev := engineOpener
	engineOpener = func(context.Context, *config.Config, *slog.Logger) (engine.Client, error) {
		return client, nil
	}
	t.Cleanup(func() { engineOpener = prev })
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
