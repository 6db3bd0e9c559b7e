package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Schema errors
	ErrSchemaMismatch   = errors.New("schema mismatch between fit-time metadata and supplied data")
	ErrUnknownCategory  = errors.New("categorical value not seen at fit time")
	ErrMissingColumn    = errors.New("column present at fit time is missing")
	ErrUnexpectedColumn = errors.New("column not present at fit time")

	// Sampling errors
	ErrEmptyBucket = errors.New("row-index bucket is empty")

	// Training errors
	ErrTrainingDiverged = errors.New("training diverged: non-finite loss")
	ErrNotFitted        = errors.New("model is not fitted")
	ErrAlreadyFitted    = errors.New("model is already fitted")
	ErrAlreadyFitting   = errors.New("model is already fitting")

	// Privacy errors
	ErrPrivacyBudgetExhausted = errors.New("privacy budget exhausted")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Checkpoint errors
	ErrCheckpointCorrupt = errors.New("checkpoint is corrupt or incomplete")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeSchema        ErrorType = "schema"
	ErrorTypeSampling      ErrorType = "sampling"
	ErrorTypeTraining      ErrorType = "training"
	ErrorTypePrivacy       ErrorType = "privacy"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeCheckpoint    ErrorType = "checkpoint"
	ErrorTypeGeneration    ErrorType = "generation"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewSchemaMismatchError reports data that does not match fit-time metadata.
// The column name is always attached so the caller can diagnose the mismatch.
func NewSchemaMismatchError(column, message string) *AppError {
	e := NewAppError(ErrorTypeSchema, CodeSchemaMismatch, message)
	e.Cause = ErrSchemaMismatch
	return e.WithContext("column", column)
}

// NewUnknownCategoryError reports a transform-time categorical value absent
// from fit-time metadata.
func NewUnknownCategoryError(column string, row int, value string) *AppError {
	e := NewAppError(ErrorTypeSchema, CodeUnknownCategory,
		fmt.Sprintf("column %q row %d: category %q was not seen at fit time", column, row, value))
	e.Cause = ErrUnknownCategory
	return e.WithContext("column", column).WithContext("row", row).WithContext("value", value)
}

// NewEmptyBucketError reports an internal invariant violation in the row index.
func NewEmptyBucketError(column, category string) *AppError {
	e := NewAppError(ErrorTypeSampling, CodeEmptyBucket,
		fmt.Sprintf("row-index bucket for column %q category %q is empty", column, category))
	e.Cause = ErrEmptyBucket
	return e.WithContext("column", column).WithContext("category", category)
}

// NewTrainingDivergedError reports non-finite loss. The run is aborted and no
// partial model is returned; retrying with the same hyperparameters would hide
// a poisoned model.
func NewTrainingDivergedError(epoch, step int, loss float64) *AppError {
	e := NewAppError(ErrorTypeTraining, CodeTrainingDiverged,
		fmt.Sprintf("non-finite loss %v at epoch %d step %d", loss, epoch, step))
	e.Cause = ErrTrainingDiverged
	return e.WithContext("epoch", epoch).WithContext("step", step)
}

// NewPrivacyBudgetExhaustedError reports that continuing training would exceed
// the configured privacy budget. Consumption so far is attached.
func NewPrivacyBudgetExhaustedError(consumed, budget float64, epoch int) *AppError {
	e := NewAppError(ErrorTypePrivacy, CodePrivacyBudgetExhausted,
		fmt.Sprintf("privacy budget exhausted at epoch %d: consumed %.4f of %.4f epsilon", epoch, consumed, budget))
	e.Cause = ErrPrivacyBudgetExhausted
	return e.WithContext("consumed_epsilon", consumed).
		WithContext("budget_epsilon", budget).
		WithContext("epoch", epoch)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	e := NewAppError(ErrorTypeConfiguration, code, message)
	e.Cause = ErrInvalidConfiguration
	return e
}

// NewCheckpointError creates a checkpoint error
func NewCheckpointError(message string, cause error) *AppError {
	e := WrapError(cause, ErrorTypeCheckpoint, CodeCheckpointCorrupt, message)
	if cause == nil {
		e.Cause = ErrCheckpointCorrupt
	}
	return e
}

// NewGenerationError creates a generation error
func NewGenerationError(code, message string) *AppError {
	return NewAppError(ErrorTypeGeneration, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// Error codes for different error scenarios
const (
	// Schema error codes
	CodeSchemaMismatch   = "SCHEMA_MISMATCH"
	CodeUnknownCategory  = "UNKNOWN_CATEGORY"
	CodeMissingColumn    = "MISSING_COLUMN"
	CodeUnexpectedColumn = "UNEXPECTED_COLUMN"
	CodeColumnKind       = "COLUMN_KIND_MISMATCH"

	// Sampling error codes
	CodeEmptyBucket = "EMPTY_BUCKET"

	// Training error codes
	CodeTrainingDiverged = "TRAINING_DIVERGED"
	CodeNotFitted        = "NOT_FITTED"
	CodeAlreadyFitted    = "ALREADY_FITTED"
	CodeAlreadyFitting   = "ALREADY_FITTING"
	CodeInsufficientData = "INSUFFICIENT_DATA"

	// Privacy error codes
	CodePrivacyBudgetExhausted = "PRIVACY_BUDGET_EXHAUSTED"
	CodeInvalidPrivacyParams   = "INVALID_PRIVACY_PARAMS"

	// Configuration error codes
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeInvalidBatchSize     = "INVALID_BATCH_SIZE"
	CodeInvalidDimensions    = "INVALID_DIMENSIONS"

	// Checkpoint error codes
	CodeCheckpointCorrupt = "CHECKPOINT_CORRUPT"

	// Generation error codes
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeInvalidRowCount  = "INVALID_ROW_COUNT"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
