package relay

import (
	"math"
	"time"

	"github.com/jpillora/backoff"
)

// Backoff produces the reconnect delay sequence initial, 2·initial,
// 4·initial … capped at max. It is owned by the Supervisor.
type Backoff struct {
	b backoff.Backoff
}

// NewBackoff creates a Backoff. Non-positive values fall back to 1s and
// 60s; a max below initial is raised to initial.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{b: backoff.Backoff{
		Min:    initial,
		Max:    maxDelay,
		Factor: 2,
		Jitter: false,
	}}
}

// Next returns the delay for the current failure and advances the sequence.
func (b *Backoff) Next() time.Duration {
	return b.b.Duration()
}

// Reset returns the sequence to its floor.
func (b *Backoff) Reset() {
	b.b.Reset()
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return int(math.Round(b.b.Attempt()))
}
