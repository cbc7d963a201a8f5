package upstream

import (
	"sync"
	"time"
)

// Backoff produces reconnect delays: initial * multiplier^attempts, capped at max
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64

	mu       sync.Mutex
	attempts int
}

// NewBackoff creates a doubling backoff
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, multiplier: 2}
}

// Next returns the delay for the current attempt and advances the counter
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.initial
	for i := 0; i < b.attempts; i++ {
		delay = time.Duration(float64(delay) * b.multiplier)
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempts++
	return delay
}

// Reset starts the sequence over after a successful connect
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts reports how many delays have been handed out since the last reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
