package scraper

import (
	"fmt"
)

// ErrorType categorizes submission failures
type ErrorType string

const (
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeService         ErrorType = "service"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeCancelled       ErrorType = "cancelled"
)

// User-facing messages. These never include transport details.
const (
	MessageNetwork         = "Error fetching data. Please try again."
	MessageTimeout         = "The scraping service took too long to respond. Please try again."
	MessageRejected        = "The scraping service rejected the request. Please check the URL and try again."
	MessageServiceFailed   = "The scraping service failed to complete the job. Please try again later."
	MessageInvalidResponse = "Received an invalid response from the scraping service. Please try again."
	MessageCancelled       = "Scraping was cancelled."
)

// Error is a structured submission failure
type Error struct {
	Type ErrorType
	// Status is the HTTP status for service errors, zero otherwise
	Status int
	// Detail is the raw diagnostic text: transport error, server message or decode failure
	Detail string
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Detail)
}

// Unwrap returns the underlying error for error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a stable, presentable message for the failure
func (e *Error) UserMessage() string {
	switch e.Type {
	case ErrorTypeNetwork:
		return MessageNetwork
	case ErrorTypeTimeout:
		return MessageTimeout
	case ErrorTypeService:
		if e.Status >= 400 && e.Status < 500 {
			return MessageRejected
		}
		return MessageServiceFailed
	case ErrorTypeInvalidResponse:
		return MessageInvalidResponse
	case ErrorTypeCancelled:
		return MessageCancelled
	default:
		return MessageNetwork
	}
}

// Diagnostic returns the detail as a single log line
func (e *Error) Diagnostic() string {
	if e.Status != 0 {
		return fmt.Sprintf("[submit] %s error (status %d): %s", e.Type, e.Status, e.Detail)
	}
	return fmt.Sprintf("[submit] %s error: %s", e.Type, e.Detail)
}

func newNetworkError(cause error) *Error {
	return &Error{Type: ErrorTypeNetwork, Detail: cause.Error(), Cause: cause}
}

func newTimeoutError(cause error) *Error {
	return &Error{Type: ErrorTypeTimeout, Detail: cause.Error(), Cause: cause}
}

func newCancelledError(cause error) *Error {
	return &Error{Type: ErrorTypeCancelled, Detail: "request cancelled", Cause: cause}
}

func newServiceError(status int, detail string) *Error {
	return &Error{Type: ErrorTypeService, Status: status, Detail: detail}
}

func newInvalidResponseError(detail string, cause error) *Error {
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", detail, cause)
	}
	return &Error{Type: ErrorTypeInvalidResponse, Detail: detail, Cause: cause}
}
