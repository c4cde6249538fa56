// Package errors holds the error model of the settlement services. Sentinels
// name the category, DomainError adds a code and context for records, and
// ChainError carries the classification the outbound pipeline acts on.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Codes attached to DomainError. Resource specific codes are derived from
// these with the resource name as prefix, e.g. WALLET_NOT_FOUND.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeValidation         = "VALIDATION_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// DomainError is a categorized error raised by repositories and services
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a missing record, e.g. NotFoundError("withdrawal")
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    resourceCode(resource, CodeNotFound),
		Message: fmt.Sprintf("%s not found", strings.ToLower(resource)),
	}
}

// AlreadyExistsError reports a unique key violation on resource. Callers
// that insert idempotently treat it as success.
func AlreadyExistsError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyExists,
		Code:    resourceCode(resource, CodeAlreadyExists),
		Message: fmt.Sprintf("%s already exists", strings.ToLower(resource)),
	}
}

// ValidationError reports a rejected field value
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// ServiceUnavailableError reports an upstream that may recover on retry
func ServiceUnavailableError(service string, cause error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      CodeServiceUnavailable,
		Message:   fmt.Sprintf("%s is temporarily unavailable", service),
		Retryable: true,
	}
	if cause != nil {
		de.Message = fmt.Sprintf("%s: %v", de.Message, cause)
		de.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return de
}

func resourceCode(resource, code string) string {
	resource = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(resource), " ", "_"))
	if resource == "" {
		return code
	}
	return resource + "_" + code
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether err, or anything it wraps, may succeed when
// attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Retryable {
		return true
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Kind == KindTransient
	}
	return errors.Is(err, ErrServiceUnavailable)
}

// CodeOf returns the DomainError code of err, or an empty string
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
