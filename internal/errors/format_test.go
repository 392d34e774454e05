package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with suggestion
	err := TransportError("cannot reach index engine", errors.New("dial tcp: refused")).
		WithSuggestion("check engine.addresses in crawldex.yaml")

	// When: formatting for the terminal
	result := FormatForCLI(err)

	// Then: message, cause, hint and code are all shown
	assert.Contains(t, result, "Error: cannot reach index engine")
	assert.Contains(t, result, "Cause: dial tcp: refused")
	assert.Contains(t, result, "Hint: check engine.addresses")
	assert.Contains(t, result, "Code: ERR_301_ENGINE_UNAVAILABLE")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	result := FormatForCLI(errors.New("something went wrong"))

	assert.Contains(t, result, "something went wrong")
	assert.Contains(t, result, ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_OmitsCause(t *testing.T) {
	// Given: a transport error with an internal cause
	err := TransportError("search failed", errors.New("secret upstream detail"))

	// When: serialising
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: the envelope has code and message but no cause
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, ErrCodeEngineUnavailable, body["error"]["code"])
	assert.Equal(t, "search failed", body["error"]["message"])
	assert.NotContains(t, string(data), "secret upstream detail")
}

func TestFormatForLog_PairsAreEven(t *testing.T) {
	err := ExtractionError("a.bin", errors.New("binary"))

	attrs := FormatForLog(err)

	require.NotEmpty(t, attrs)
	assert.Zero(t, len(attrs)%2)
	assert.Contains(t, attrs, "detail_path")
	assert.Contains(t, attrs, ErrCodeExtractionFailed)
	assert.Nil(t, FormatForLog(nil))
}

func TestHTTPStatus(t *testing.T) {
	transport := TransportError("down", nil)
	tests := []struct {
		name   string
		err    error
		legacy bool
		want   int
	}{
		{"nil", nil, false, http.StatusOK},
		{"missing parameter", ValidationError("term is required", nil), false, http.StatusBadRequest},
		{"not found", New(ErrCodeNotFound, "no route", nil), false, http.StatusNotFound},
		{"method", New(ErrCodeMethodNotAllowed, "no", nil), false, http.StatusMethodNotAllowed},
		{"transport", transport, false, http.StatusBadGateway},
		{"transport legacy", transport, true, http.StatusBadRequest},
		{"bulk failed", New(ErrCodeBulkFailed, "x", nil), false, http.StatusBadGateway},
		{"plain", errors.New("boom"), false, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err, tt.legacy))
		})
	}
}
