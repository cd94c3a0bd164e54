package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestTranslate_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", &googleapi.Error{Code: 404}, KindNotFound},
		{"gone", &googleapi.Error{Code: 410}, KindNotFound},
		{"unauthorized", &googleapi.Error{Code: 401}, KindPermissionDenied},
		{"forbidden", &googleapi.Error{Code: 403}, KindPermissionDenied},
		{"forbidden quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, KindRetryable},
		{"forbidden user quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, KindRetryable},
		{"forbidden daily quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, KindRetryable},
		{"forbidden non-quota reason", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}, KindPermissionDenied},
		{"bad request", &googleapi.Error{Code: 400}, KindInvalidArgument},
		{"unprocessable", &googleapi.Error{Code: 422}, KindInvalidArgument},
		{"rate limited", &googleapi.Error{Code: 429}, KindRetryable},
		{"server error", &googleapi.Error{Code: 500}, KindRetryable},
		{"bad gateway", &googleapi.Error{Code: 502}, KindRetryable},
		{"deadline exceeded", context.DeadlineExceeded, KindRetryable},
		{"network timeout", &net.DNSError{IsTimeout: true}, KindRetryable},
		{"unclassified", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("test op", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(translate(%v)) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTranslate_NilPassesThrough(t *testing.T) {
	if err := translate("test op", nil); err != nil {
		t.Errorf("translate(nil) = %v, want nil", err)
	}
}

func TestTranslate_WrapsCause(t *testing.T) {
	cause := &googleapi.Error{Code: 404}
	err := translate("get event", cause)

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 404 {
		t.Errorf("Expected the original API error to remain unwrappable, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(translate("op", &googleapi.Error{Code: 503})) {
		t.Error("Expected a 503 to be retryable")
	}
	if !IsRetryable(fmt.Errorf("call timed out: %w", context.DeadlineExceeded)) {
		t.Error("Expected a raw deadline error to be retryable")
	}
	if IsRetryable(translate("op", &googleapi.Error{Code: 403})) {
		t.Error("Expected a 403 not to be retryable")
	}
	if IsRetryable(nil) {
		t.Error("Expected nil not to be retryable")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindRetryable, Op: "insert event", Err: errors.New("rate limit")}
	got := err.Error()
	want := "insert event: retryable: rate limit"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
