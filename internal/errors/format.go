package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	e, ok := As(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %s\n", e.Cause))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", e.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// Body is the envelope written by the HTTP server for failed requests.
type Body struct {
	Error jsonError `json:"error"`
}

// NewBody builds the response envelope for err.
// Causes are left out so engine internals are not echoed to callers.
func NewBody(err error) Body {
	e, ok := As(err)
	if !ok {
		e = New(ErrCodeInternal, "internal error", err)
	}
	return Body{Error: jsonError{
		Code:       e.Code,
		Message:    e.Message,
		Category:   string(e.Category),
		Details:    e.Details,
		Suggestion: e.Suggestion,
	}}
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(NewBody(err))
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	e, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", e.Code,
		"error", e.Message,
		"category", string(e.Category),
		"severity", string(e.Severity),
	}
	if e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause.Error())
	}
	for k, v := range e.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}

// HTTPStatus maps err onto a response status code.
//
// Transport failures map to 502 Bad Gateway. When legacyTransport is set
// they map to 400 Bad Request instead, which is what older deployments of
// the search API returned.
func HTTPStatus(err error, legacyTransport bool) int {
	if err == nil {
		return http.StatusOK
	}
	switch GetCode(err) {
	case ErrCodeMissingParameter, ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}
	if IsTransport(err) {
		if legacyTransport {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
