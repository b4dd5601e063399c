package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), true},
		{"rate limited", &StatusError{Provider: "elevenlabs", Code: 429}, true},
		{"unauthorized", &StatusError{Provider: "elevenlabs", Code: 401}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransientError(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransientError() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Provider: "groq", Code: 503, Body: "overloaded"}
	if got := err.Error(); got != "groq http status 503: overloaded" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
