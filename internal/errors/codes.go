// Package errors provides structured error handling for crawldex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Extraction and file errors
//   - 3XX: Index engine transport errors
//   - 4XX: Validation and per-item errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryExtraction indicates a document could not be read or extracted.
	CategoryExtraction Category = "EXTRACTION"
	// CategoryTransport indicates the index engine could not be reached or
	// rejected a whole request.
	CategoryTransport Category = "TRANSPORT"
	// CategoryValidation indicates invalid caller input or a rejected item.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Extraction errors (200-299)
	ErrCodeExtractionFailed = "ERR_201_EXTRACTION_FAILED"
	ErrCodeFileNotFound     = "ERR_202_FILE_NOT_FOUND"
	ErrCodeFileTooLarge     = "ERR_203_FILE_TOO_LARGE"
	ErrCodeUnsupportedType  = "ERR_204_UNSUPPORTED_TYPE"
	ErrCodeIndexLocked      = "ERR_205_INDEX_LOCKED"

	// Transport errors (300-399)
	ErrCodeEngineUnavailable = "ERR_301_ENGINE_UNAVAILABLE"
	ErrCodeBulkFailed        = "ERR_302_BULK_FAILED"
	ErrCodeSearchFailed      = "ERR_303_SEARCH_FAILED"

	// Validation errors (400-499)
	ErrCodeMissingParameter = "ERR_401_MISSING_PARAMETER"
	ErrCodeBulkItemFailed   = "ERR_402_BULK_ITEM_FAILED"
	ErrCodeInvalidQuery     = "ERR_403_INVALID_QUERY"
	ErrCodeNotFound         = "ERR_404_NOT_FOUND"
	ErrCodeMethodNotAllowed = "ERR_405_METHOD_NOT_ALLOWED"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_ENGINE_UNAVAILABLE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryExtraction
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeIndexLocked:
		return SeverityFatal
	case ErrCodeExtractionFailed, ErrCodeUnsupportedType, ErrCodeFileTooLarge, ErrCodeBulkItemFailed:
		// Absorbed per file or per item; the run continues.
		return SeverityWarning
	}
	return SeverityError
}
