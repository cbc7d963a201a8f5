package upstream

import (
	"testing"
	"time"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second)
	want := []time.Duration{2, 4, 8, 16, 32, 60, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("attempt %d: expected %v, got %v", i, w*time.Second, got)
		}
	}
}

func TestBackoffNeverDecreasesBeforeReset(t *testing.T) {
	b := NewBackoff(150*time.Millisecond, 10*time.Second)
	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("attempt %d: delay went down from %v to %v", i, prev, d)
		}
		if d > 10*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i, d)
		}
		prev = d
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second)
	b.Next()
	b.Next()
	b.Next()
	if b.Attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", b.Attempts())
	}
	b.Reset()
	if got := b.Next(); got != 2*time.Second {
		t.Fatalf("expected initial delay after reset, got %v", got)
	}
}

func TestBackoffClampsConfig(t *testing.T) {
	b := NewBackoff(5*time.Second, time.Second)
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("expected max raised to initial, got %v", got)
	}
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("expected capped delay, got %v", got)
	}
}
