// Package errors provides structured error handling for careindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and file errors
//   - 3XX: Embedding and network errors
//   - 4XX: Validation errors
//   - 5XX: Internal and consistency errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current pipeline run and needs an operator.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the operation; the next cycle may recover.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a transient condition.
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid      = "ERR_101_CONFIG_INVALID"
	ErrCodeSitesConfigInvalid = "ERR_102_SITES_CONFIG_INVALID"
	ErrCodeConfigNotFound     = "ERR_103_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeFileRead          = "ERR_201_FILE_READ"
	ErrCodeStorageWrite      = "ERR_202_STORAGE_WRITE"
	ErrCodeDiskFull          = "ERR_203_DISK_FULL"
	ErrCodeStorageReadOnly   = "ERR_204_STORAGE_READONLY"
	ErrCodeLockContended     = "ERR_205_LOCK_CONTENDED"
	ErrCodeIndexCorrupt      = "ERR_206_INDEX_CORRUPT"
	ErrCodeCollectionMissing = "ERR_207_COLLECTION_MISSING"

	// Embedding and network errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeEmbeddingFailed      = "ERR_302_EMBEDDING_FAILED"
	ErrCodeFetchFailed          = "ERR_303_FETCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidKind       = "ERR_401_INVALID_KIND"
	ErrCodeQueryEmpty        = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidTransition = "ERR_403_INVALID_TRANSITION"
	ErrCodeInvalidInput      = "ERR_404_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"
	ErrCodeInvalidDocument   = "ERR_406_INVALID_DOCUMENT"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeConsistency    = "ERR_502_CONSISTENCY"
	ErrCodeIndexNotReady  = "ERR_503_INDEX_NOT_READY"
	ErrCodeRebuildTimeout = "ERR_504_REBUILD_TIMEOUT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_204_..." -> '2'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeSitesConfigInvalid, ErrCodeInvalidKind, ErrCodeDiskFull:
		return SeverityFatal
	case ErrCodeIndexNotReady:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether the next scheduler cycle may succeed.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeFileRead, ErrCodeStorageWrite, ErrCodeStorageReadOnly, ErrCodeLockContended,
		ErrCodeEmbeddingUnavailable, ErrCodeEmbeddingFailed, ErrCodeFetchFailed,
		ErrCodeRebuildTimeout, ErrCodeCollectionMissing:
		return true
	default:
		return false
	}
}
