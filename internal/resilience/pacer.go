package resilience

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between outbound calls to one external
// source. It is deliberately non-blocking: Allow reports whether a call may
// proceed right now, and denied callers back off or skip rather than queue.
// Record marks the moment a call was actually made.
//
// One Pacer per source, owned by the enrichment orchestrator alongside that
// source's CircuitBreaker.
type Pacer struct {
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewPacer creates a Pacer allowing requestsPerPeriod calls per period.
// A non-positive requestsPerPeriod or period disables pacing entirely.
func NewPacer(requestsPerPeriod int, period time.Duration) *Pacer {
	var interval time.Duration
	if requestsPerPeriod > 0 && period > 0 {
		interval = period / time.Duration(requestsPerPeriod)
	}
	return &Pacer{
		minInterval: interval,
		nowFunc:     time.Now,
	}
}

// Allow reports whether a call may proceed: true if no call has been
// recorded yet, or if at least the minimum interval has elapsed since the
// last recorded call. Allow has no side effects.
func (p *Pacer) Allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minInterval == 0 || p.lastCall.IsZero() {
		return true
	}
	return p.nowFunc().Sub(p.lastCall) >= p.minInterval
}

// Record stamps the current time as the moment of the last call.
func (p *Pacer) Record() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCall = p.nowFunc()
}

// WaitTime returns how long a caller must wait before the next call is
// allowed. Zero means a call is allowed now.
func (p *Pacer) WaitTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minInterval == 0 || p.lastCall.IsZero() {
		return 0
	}
	remaining := p.minInterval - p.nowFunc().Sub(p.lastCall)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait blocks until the pacer allows a call or ctx is cancelled. It exists
// for interactive single-record paths; bulk callers use Allow and skip.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		d := p.WaitTime()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
