package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures reported by the records API.
type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindAuthentication ErrorKind = "authentication"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindService        ErrorKind = "service"
	KindFormula        ErrorKind = "formula"
	KindCanceled       ErrorKind = "canceled"
	KindUnknown        ErrorKind = "unknown"
)

// DefaultRetryAfter is used when a 429 response carries no usable hint.
const DefaultRetryAfter = 30 * time.Second

// RateLimitError is a whole-call 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("[429] %s (retry after %s)", msg, e.RetryAfter)
	}
	return "[429] " + msg
}

// Wait returns the retry hint, falling back to DefaultRetryAfter.
func (e *RateLimitError) Wait() time.Duration {
	if e == nil || e.RetryAfter <= 0 {
		return DefaultRetryAfter
	}
	return e.RetryAfter
}

// AuthenticationError is a 401 or 403; it is fatal to a whole batch.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, msg)
	}
	return msg
}

// NotFoundError is a 404 on a single lookup, or a missing table, field or option.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	resource := e.ResourceType
	if resource == "" {
		resource = "resource"
	}
	if e.ResourceID == "" {
		return resource + " not found"
	}
	return fmt.Sprintf("%s not found: %s", resource, e.ResourceID)
}

// ValidationError is a 422, possibly scoped to one item of a batch, or a rejected input.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Detail
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Detail)
}

// ServiceError is the catch-all for other non-success responses.
type ServiceError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ServiceError) Error() string {
	label := e.Type
	if label == "" {
		label = "SERVICE_ERROR"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s: %s", e.StatusCode, label, e.Message)
	}
	return fmt.Sprintf("%s: %s", label, e.Message)
}

// FormulaError is raised while constructing a predicate, before any network call.
type FormulaError struct {
	Message string
	Field   string
}

func (e *FormulaError) Error() string {
	if e.Field == "" {
		return "invalid formula: " + e.Message
	}
	return fmt.Sprintf("invalid formula on field %q: %s", e.Field, e.Message)
}

// Kind classifies an error for failure accounting and exit codes.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		rateErr    *RateLimitError
		authErr    *AuthenticationError
		notFound   *NotFoundError
		validation *ValidationError
		service    *ServiceError
		formulaErr *FormulaError
	)

	switch {
	case errors.As(err, &rateErr):
		return KindRateLimited
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &formulaErr):
		return KindFormula
	case errors.As(err, &service):
		return KindService
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsSystemic reports whether err must stop a batch rather than be recorded per item.
func IsSystemic(err error) bool {
	switch Kind(err) {
	case KindAuthentication, KindCanceled:
		return true
	default:
		return false
	}
}
