package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so the orchestrator can decide
// continuation without inspecting raw error strings.
type ErrorKind string

const (
	// KindDataUnavailable marks missing or insufficient input. Non-fatal:
	// the affected stage yields an empty result.
	KindDataUnavailable ErrorKind = "data_unavailable"
	// KindModelSkipped marks a model skipped because the sample count is
	// below its minimum. Logged, never aborts a run.
	KindModelSkipped ErrorKind = "model_skipped"
	// KindScannerGeneration marks a malformed pattern; that scanner is
	// skipped and generation continues.
	KindScannerGeneration ErrorKind = "scanner_generation"
	// KindScannerExecution marks a scanner timeout or crash. Recorded in
	// the scan result, affects only the environmental risk factor.
	KindScannerExecution ErrorKind = "scanner_execution"
	// KindPersistence marks a store read/write error. Fatal to the run.
	KindPersistence ErrorKind = "persistence"
)

// AppError wraps an operation, a classification, a human-facing message,
// and the underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs a classified AppError.
func NewAppError(op string, kind ErrorKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification from err, or empty when unclassified.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
