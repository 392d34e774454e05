package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/pkg/version"
)

func TestVersionCmd_Formats(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String(), strings.TrimSpace(stdout))

	stdout, _, err = execute(t, "version", "--format", "short")
	require.NoError(t, err)
	assert.Equal(t, version.Short(), strings.TrimSpace(stdout))
}

func TestVersionCmd_JSONCarriesUserAgent(t *testing.T) {
	stdout, _, err := execute(t, "version", "-f", "json")
	require.NoError(t, err)

	var report versionReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, version.UserAgent(), report.UserAgent)
	assert.Equal(t, version.GetInfo().GoVersion, report.GoVersion)
}

func TestVersionCmd_UnknownFormat(t *testing.T) {
	_, _, err := execute(t, "version", "--format", "yaml")

	assert.ErrorContains(t, err, "unknown format")
}
