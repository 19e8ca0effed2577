package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the HTTP layer can render as-is.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError reports a malformed or out-of-range request value.
func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// notFound reports a missing pair, vote or random pick.
func notFound(message string, details any) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, details)
}
