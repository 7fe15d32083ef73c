package epaper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors used to classify failures across components.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrForbidden   = errors.New("forbidden")
	ErrRender      = errors.New("render failed")
	ErrStorage     = errors.New("storage failed")
	ErrNoPages     = errors.New("artifact contains no pages")
)

// HTTPStatusError reports a non-2xx response. It unwraps to the matching sentinel so callers
// can use errors.Is.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Unwrap maps well-known statuses to sentinels.
func (e *HTTPStatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return nil
	}
}

// StatusError returns nil for 2xx codes and an *HTTPStatusError otherwise.
func StatusError(url string, code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return &HTTPStatusError{URL: url, StatusCode: code}
}

// FailureKind labels a failure for logs, metrics, and the missing-page log.
type FailureKind string

// Failure kinds.
const (
	FailureNone        FailureKind = ""
	FailureNotFound    FailureKind = "not_found"
	FailureRateLimited FailureKind = "rate_limited"
	FailureForbidden   FailureKind = "forbidden"
	FailureNetwork     FailureKind = "network"
	FailureRender      FailureKind = "render"
	FailureStorage     FailureKind = "storage"
	FailureCanceled    FailureKind = "canceled"
	FailureOther       FailureKind = "other"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrForbidden):
		return FailureForbidden
	case errors.Is(err, ErrRender), errors.Is(err, ErrNoPages):
		return FailureRender
	case errors.Is(err, ErrStorage):
		return FailureStorage
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return FailureNetwork
	}
	return FailureOther
}
