package services

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pacer is the suspension point between autopilot candidates. Wait returns
// early with the context error when the session is aborted.
type Pacer interface {
	Wait(ctx context.Context) error
}

// JitterPacer waits a uniformly random duration in [min, max].
type JitterPacer struct {
	clock clockwork.Clock
	min   time.Duration
	max   time.Duration
}

func NewJitterPacer(clock clockwork.Clock, min, max time.Duration) *JitterPacer {
	if max < min {
		min, max = max, min
	}
	return &JitterPacer{clock: clock, min: min, max: max}
}

func (p *JitterPacer) next() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + rand.N(p.max-p.min+1)
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	d := p.next()
	if d <= 0 {
		return ctx.Err()
	}
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

type noDelay struct{}

func (noDelay) Wait(ctx context.Context) error { return ctx.Err() }

// NoDelay never waits. Used by tests and manual runs.
var NoDelay Pacer = noDelay{}
