package app

import (
	"testing"
	"time"
)

func TestBackoff_GrowsWithinBounds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	for i := 0; i < 50; i++ {
		for n, lo := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond} {
			hi := lo + lo/2
			if got := p.Backoff(n); got < lo || got > hi {
				t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", n, got, lo, hi)
			}
		}
		if got := p.Backoff(10); got != time.Second {
			t.Fatalf("Backoff(10) = %v, want capped at 1s", got)
		}
	}
}

func TestBackoff_Disabled(t *testing.T) {
	if got := (RetryPolicy{MaxBackoff: time.Second}).Backoff(3); got != 0 {
		t.Errorf("zero base should not wait, got %v", got)
	}
	if got := (RetryPolicy{BaseBackoff: time.Second, MaxBackoff: time.Second}).Backoff(0); got != 0 {
		t.Errorf("n=0 should not wait, got %v", got)
	}
}
