package domain

import "fmt"

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

// Is matches domain errors by code and message so wrapped copies compare equal
// to their sentinel.
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

// WithCause returns a copy of the sentinel carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return NewDomainErrorWithCause(e.Code, e.Message, err)
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrQuestionRequired   = NewDomainError(ErrCodeValidation, "Question is required.")
	ErrInvalidChunkConfig = NewDomainError(ErrCodeValidation, "invalid chunk configuration")
)

// Not found errors
var (
	ErrNoDocument             = NewDomainError(ErrCodeNotFound, "no document content available")
	ErrCorpusSnapshotNotFound = NewDomainError(ErrCodeNotFound, "corpus snapshot not found")
)

// Authorization errors
var (
	ErrInvalidAdminToken = NewDomainError(ErrCodeUnauthorized, "invalid admin token")
)

// Corpus errors
var (
	ErrBuildFailed       = NewDomainError(ErrCodeInternalError, "no document chunks could be embedded")
	ErrCorpusUnavailable = NewDomainError(ErrCodeInternalError, "Failed to process document. Please try again later.")
	ErrProviderMissing   = NewDomainError(ErrCodeUnavailable, "model provider not configured")
)
