package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (weatherApiErrorsTotal).
const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCanceled         ErrorCategory = "canceled"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics. Sentinels
// are checked before message heuristics.
func CategorizeError(err error) ErrorCategory {
	var rerr *RemoteServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrLocationNotFound):
		return ErrorCategoryLocationNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrTransport):
		if strings.Contains(err.Error(), "timeout") {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	case errors.As(err, &rerr) && errors.Is(err, ErrUpstreamFailure):
		if strings.HasPrefix(rerr.Message, "parse") {
			return ErrorCategoryParsing
		}
		return ErrorCategoryUpstream5xx
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case strings.Contains(err.Error(), "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(err.Error(), "connection"):
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
