// Package httpapi exposes the eleven /api/* JSON endpoints over the tool
// layer, plus the middleware stack every request passes through:
// correlation id, validation, body limits, backpressure, and response
// metadata.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// ErrorCode is the closed set of stable API error codes.
type ErrorCode string

const (
	CodeValidationError    ErrorCode = "VALIDATION_ERROR"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeSourceUnavailable  ErrorCode = "SOURCE_UNAVAILABLE"
	CodeSourceError        ErrorCode = "SOURCE_ERROR"
	CodeRequestTooLarge    ErrorCode = "REQUEST_TOO_LARGE"
	CodeOverloaded         ErrorCode = "OVERLOADED"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorDetails carries the structured diagnostics attached to every
// error response.
type ErrorDetails struct {
	CorrelationID    string   `json:"correlation_id"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	RecoveryActions  []string `json:"recovery_actions,omitempty"`
	RetryRecommended bool     `json:"retry_recommended"`
}

// APIError is the error object inside the response envelope.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details ErrorDetails `json:"details"`
}

// StatusCode maps the error code to its HTTP status.
func (e *APIError) StatusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeOverloaded, CodeServiceUnavailable, CodeSourceError:
		return http.StatusServiceUnavailable
	case CodeSourceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fromEngineError maps the engine's error taxonomy onto API errors. The
// message is already credential- and path-free by the EngineError
// contract.
func fromEngineError(err error, correlationID string) *APIError {
	var ee *domain.EngineError
	if !errors.As(err, &ee) {
		return &APIError{
			Code:    CodeInternalError,
			Message: "an internal error occurred",
			Details: ErrorDetails{
				CorrelationID:   correlationID,
				RecoveryActions: []string{"retry the request", "contact the operator if the problem persists"},
			},
		}
	}

	switch ee.Kind {
	case domain.ErrKindValidation:
		return validationError(correlationID, ee.Message)
	case domain.ErrKindNotFound:
		return &APIError{
			Code:    CodeNotFound,
			Message: ee.Message,
			Details: ErrorDetails{
				CorrelationID:   correlationID,
				RecoveryActions: []string{"verify the identifier and retry"},
			},
		}
	case domain.ErrKindSourceError:
		return &APIError{
			Code:    CodeSourceError,
			Message: "all documentation sources failed",
			Details: ErrorDetails{
				CorrelationID:    correlationID,
				RecoveryActions:  []string{"check source credentials and configuration", "consult /api/sources for per-source status"},
				RetryRecommended: false,
			},
		}
	default:
		return &APIError{
			Code:    CodeSourceUnavailable,
			Message: "documentation sources are temporarily unavailable",
			Details: ErrorDetails{
				CorrelationID:    correlationID,
				RecoveryActions:  []string{"retry shortly", "consult /api/sources for per-source status"},
				RetryRecommended: true,
			},
		}
	}
}

func validationError(correlationID string, problems ...string) *APIError {
	return &APIError{
		Code:    CodeValidationError,
		Message: "request validation failed",
		Details: ErrorDetails{
			CorrelationID:    correlationID,
			ValidationErrors: problems,
			RecoveryActions:  []string{"correct the listed fields and retry"},
		},
	}
}
