package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code and message so that wrapped copies of a
// sentinel still compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Pipeline error codes. Each pipeline stage reports only its own codes.
const (
	ErrCodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	ErrCodeExtractionIO        = "EXTRACTION_IO_ERROR"
	ErrCodeCleaning            = "CLEANING_ERROR"
	ErrCodeConfig              = "CONFIG_ERROR"
	ErrCodeProviderAuth        = "PROVIDER_AUTH_ERROR"
	ErrCodeProviderRateLimited = "PROVIDER_RATE_LIMITED"
	ErrCodeProvider            = "PROVIDER_ERROR"
	ErrCodeStorage             = "STORAGE_ERROR"
)

// Validation errors
var (
	ErrInvalidDocumentStatus   = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidCollectionType   = NewDomainError(ErrCodeValidation, "invalid collection type")
	ErrInvalidProcessingStatus = NewDomainError(ErrCodeValidation, "invalid processing job status")
	ErrMissingRequiredField    = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound       = NewDomainError(ErrCodeNotFound, "document not found")
	ErrCollectionNotFound     = NewDomainError(ErrCodeNotFound, "collection not found")
	ErrChunkNotFound          = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrAPIKeyNotFound         = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrProviderKeyNotFound    = NewDomainError(ErrCodeNotFound, "provider key not found")
	ErrProcessingJobNotFound  = NewDomainError(ErrCodeNotFound, "processing job not found")
	ErrVectorCollectionAbsent = NewDomainError(ErrCodeNotFound, "vector collection not found")
)

// Already exists errors
var (
	ErrCollectionAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "collection already exists")
	ErrAPIKeyAlreadyExists     = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Operation errors
var (
	ErrDocumentBusy       = NewDomainError(ErrCodeConflict, "document is already being processed")
	ErrDocumentSuperseded = NewDomainError(ErrCodeConflict, "document was deleted or superseded during processing")
	ErrInvalidTransition  = NewDomainError(ErrCodeInvalidOperation, "invalid document status transition")
)

// NewUnsupportedFormatError reports an extension with no registered extractor.
func NewUnsupportedFormatError(ext string) *DomainError {
	return NewDomainError(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported file format %q", ext))
}

// NewExtractionIOError wraps an I/O or container failure during extraction.
func NewExtractionIOError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeExtractionIO, message, err)
}

// NewCleaningError reports a cleaning failure together with the options used.
func NewCleaningError(opts CleanConfig, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeCleaning, fmt.Sprintf("cleaning failed with options %+v", opts), err)
}

// NewConfigError reports an invalid processing configuration.
func NewConfigError(message string) *DomainError {
	return NewDomainError(ErrCodeConfig, message)
}

func NewProviderAuthError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProviderAuth, message, err)
}

func NewProviderRateLimitError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProviderRateLimited, message, err)
}

func NewProviderError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProvider, message, err)
}

func NewStorageError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStorage, message, err)
}

// ErrorCode returns the code of the first DomainError in err's chain, or ""
// if there is none.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage DocumentStatus
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage. Errors that are already stage-tagged are
// returned unchanged.
func NewStageError(stage DocumentStatus, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage recorded on err, if any.
func FailedStage(err error) (DocumentStatus, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
