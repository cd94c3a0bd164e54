package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Kind classifies a gateway failure for the caller's retry decision.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindPermissionDenied
	KindInvalidArgument
	KindRetryable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindPermissionDenied:
		return "permission-denied"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// Error wraps a remote failure with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the classification of err, or KindUnknown for errors that
// did not come from a gateway.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err means the remote resource does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsRetryable reports whether err is transient and worth another attempt.
// Call timeouts count as retryable even when the context error escapes
// untranslated.
func IsRetryable(err error) bool {
	if KindOf(err) == KindRetryable {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// translate maps a raw client error onto the taxonomy. Rate limiting,
// server-side errors, timeouts and network failures are retryable; the rest
// are permanent.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := KindUnknown

	var apiErr *googleapi.Error
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			kind = KindNotFound
		case apiErr.Code == http.StatusForbidden && isQuotaReason(apiErr):
			// The API signals quota exhaustion as 403, not 429.
			kind = KindRetryable
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			kind = KindPermissionDenied
		case apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusUnprocessableEntity:
			kind = KindInvalidArgument
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			kind = KindRetryable
		}
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindRetryable
	case isNetworkError(err):
		kind = KindRetryable
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

func isQuotaReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
