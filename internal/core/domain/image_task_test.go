package domain

import (
	"testing"
	"time"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{retry: 0, want: 0},
		{retry: 1, want: 2 * time.Second},
		{retry: 2, want: 4 * time.Second},
		{retry: 3, want: 8 * time.Second},
		{retry: 10, want: time.Minute},
	}
	for _, tc := range tests {
		if got := p.Backoff(tc.retry); got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.Exhausted(2) {
		t.Fatalf("expected 2 failures to stay retryable")
	}
	if !p.Exhausted(3) {
		t.Fatalf("expected 3 failures to exhaust the policy")
	}
	if !(RetryPolicy{}).Exhausted(3) {
		t.Fatalf("expected zero policy to fall back to default cap")
	}
}
