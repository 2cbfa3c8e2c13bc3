package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 529), true},
		{"wrapped", fmt.Errorf("comparables: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"plain", errors.New("invalid json in model reply"), false},
		{"reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"message", errors.New("read: Connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	te := NewTransientError(inner, 503)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if te.Error() != "boom" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
