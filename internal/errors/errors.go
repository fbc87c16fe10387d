// Package errors provides the categorized error taxonomy used across the volume adapters.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/subgraph-volume/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransport represents network failures talking to a remote service
	CategoryTransport ErrorCategory = "transport"
	// CategoryService represents errors reported by a remote service
	CategoryService ErrorCategory = "service"
	// CategoryShape represents a response missing the expected entity or field
	CategoryShape ErrorCategory = "shape"
	// CategoryConfiguration represents misuse of adapter configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryValidation represents invalid input
	CategoryValidation ErrorCategory = "validation"
	// CategoryBlockResolution represents timestamp to block lookup failures
	CategoryBlockResolution ErrorCategory = "block_resolution"
	// CategoryPricing represents price lookup failures
	CategoryPricing ErrorCategory = "pricing"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Remote errors

// NewTransportError creates an error for a request that never got a usable response
func NewTransportError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSPORT_ERROR",
		Message:    fmt.Sprintf("request to %s failed", endpoint),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewServiceError creates an error reported by the remote service itself.
// upstreamStatus is the HTTP status returned by the service, 0 when the body carried the error.
func NewServiceError(endpoint string, upstreamStatus int, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryService,
		StatusCode: http.StatusBadGateway,
		Code:       "SERVICE_ERROR",
		Message:    message,
		Details: map[string]interface{}{
			"endpoint":       endpoint,
			"upstreamStatus": upstreamStatus,
		},
	}
}

// NewShapeError creates an error for a response lacking the expected entity or field
func NewShapeError(entity, field string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryShape,
		StatusCode: http.StatusBadGateway,
		Code:       "UNEXPECTED_SHAPE",
		Message:    fmt.Sprintf("response has no usable %s.%s", entity, field),
		Details: map[string]interface{}{
			"entity": entity,
			"field":  field,
		},
	}
}

// NewBlockResolutionError creates an error for a failed timestamp to block lookup
func NewBlockResolutionError(chain types.ChainID, timestamp int64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBlockResolution,
		StatusCode: http.StatusBadGateway,
		Code:       "BLOCK_RESOLUTION_FAILED",
		Message:    fmt.Sprintf("could not resolve block on %s at %d", chain, timestamp),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain":     chain,
			"timestamp": timestamp,
		},
	}
}

// NewPricingError creates an error for a failed price lookup
func NewPricingError(token string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPricing,
		StatusCode: http.StatusBadGateway,
		Code:       "PRICING_FAILED",
		Message:    fmt.Sprintf("could not price %s", token),
		Cause:      cause,
		Details: map[string]interface{}{
			"token": token,
		},
	}
}

// Configuration and input errors

// NewInvalidIdentifierError creates an error for a query identifier that is not safe to interpolate
func NewInvalidIdentifierError(name, value string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       "INVALID_IDENTIFIER",
		Message:    fmt.Sprintf("%s %q is not a valid query identifier", name, value),
		Details: map[string]interface{}{
			"name":  name,
			"value": value,
		},
	}
}

// NewUnknownChainError creates an error for a chain missing from the endpoint map
func NewUnknownChainError(chain types.ChainID) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusNotFound,
		Code:       "UNKNOWN_CHAIN",
		Message:    fmt.Sprintf("no endpoint configured for chain %s", chain),
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth another attempt
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransport:
		return true
	case CategoryService:
		status, _ := catErr.Details["upstreamStatus"].(int)
		return status == http.StatusTooManyRequests || status >= 500
	default:
		return false
	}
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == category
}
