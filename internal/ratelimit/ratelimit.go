// Package ratelimit paces collection so request timing looks organic rather
// than mechanical.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer blocks until the next action may proceed.
type Pacer interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitterPacer sleeps a uniformly random duration in [min, max] between
// actions.
type JitterPacer struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
}

func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	return &JitterPacer{minDelay: minDelay, maxDelay: maxDelay}
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.nextDelay()
	if elapsed := time.Since(p.lastAction); elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *JitterPacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minDelay = min
	p.maxDelay = max
}

func (p *JitterPacer) nextDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	jitter := time.Duration(rand.Int63n(int64(p.maxDelay - p.minDelay)))
	return p.minDelay + jitter
}

// AdaptivePacer backs the window off after consecutive failures and slowly
// tightens it again while things succeed.
type AdaptivePacer struct {
	*JitterPacer
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	floor         time.Duration
	ceiling       time.Duration
}

func NewAdaptivePacer(minDelay, maxDelay time.Duration) *AdaptivePacer {
	return &AdaptivePacer{
		JitterPacer:   NewJitterPacer(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
		// The configured minimum is the floor: tightening after a good
		// streak only ever undoes earlier backoff.
		floor:   minDelay,
		ceiling: 2 * time.Minute,
	}
}

func (a *AdaptivePacer) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *AdaptivePacer) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		a.minDelay = clamp(time.Duration(float64(a.minDelay)*a.backoffFactor), a.floor, a.ceiling/2)
		a.maxDelay = clamp(time.Duration(float64(a.maxDelay)*a.backoffFactor), a.floor, a.ceiling)
		a.errorCount = 0
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
