package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Conversation lifecycle
	ErrSessionCompleted = errors.New("session already completed")
	ErrSessionAbandoned = errors.New("session was superseded by a newer session")

	// Product reconciliation
	ErrProductNameRequired = errors.New("product name is required")

	// ErrInvariantViolation marks a programming fault such as two current
	// profiles for one user. It is never shown to end users verbatim.
	ErrInvariantViolation = errors.New("invariant violation")

	// Oracle extraction
	ErrUnknownField      = errors.New("unknown field")
	ErrMalformedToolCall = errors.New("malformed tool call")
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// Text extraction
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrNoTextExtracted     = errors.New("no text extracted")

	// Export
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
)
