package cmd

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/engine"
	"github.com/crawldex/crawldex/internal/engine/enginetest"
	"github.com/crawldex/crawldex/internal/query"
)

func TestDoctorCmd_Ready(t *testing.T) {
	// Given a reachable engine
	env := newTestEnv(t, "engine:\n  data_dir: "+t.TempDir()+"\n")
	fake := &enginetest.Fake{}
	useEngine(t, fake)

	// When running the checks as JSON
	stdout, _, err := execute(t, "--config", env.config, "doctor", "--json")

	// Then no required check failed and the engine was probed with a search
	require.NoError(t, err)
	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.NotEqual(t, "failed", report.Status)
	names := make([]string, len(report.Checks))
	for i, c := range report.Checks {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"log_dir", "data_dir", "disk_space", "file_descriptors", "engine"}, names)
	require.Len(t, fake.SearchCalls, 1)
	assert.Equal(t, query.KindMoreLikeThis, fake.SearchCalls[0].Request.Query.Kind())
	assert.True(t, fake.Closed)
}

func TestDoctorCmd_EngineDown(t *testing.T) {
	env := newTestEnv(t, "")
	useEngine(t, &enginetest.Fake{SearchFunc: func(string, *query.Request) (*engine.SearchResponse, error) {
		return nil, errors.New("connection refused")
	}})

	stdout, _, err := execute(t, "--config", env.config, "doctor", "--verbose")

	assert.ErrorContains(t, err, "system check failed")
	assert.Contains(t, stdout, "[FAIL] engine: unreachable")
	assert.Contains(t, stdout, "connection refused")
	assert.Contains(t, stdout, "Status: FAILED")
}
