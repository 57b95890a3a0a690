// Package admission bounds the number of requests dispatched at once.
package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jarsater/toolrpc/internal/metrics"
)

var (
	// ErrQueueFull is returned when the wait queue is full.
	ErrQueueFull = errors.New("admission queue full: cannot accept more requests")
	// ErrTimeout is returned when no slot frees up within the wait timeout.
	ErrTimeout = errors.New("admission timeout: waited too long for a slot")
)

// Config holds limiter configuration.
type Config struct {
	MaxConcurrent int64
	// MaxQueueSize bounds the number of waiters. Zero means unbounded.
	MaxQueueSize int64
	WaitTimeout  time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 10,
		MaxQueueSize:  0,
		WaitTimeout:   30 * time.Second,
	}
}

// Limiter is a counting semaphore with a bounded wait. Waiters are served
// in FIFO order.
type Limiter struct {
	name          string
	sem           *semaphore.Weighted
	maxConcurrent int64
	maxQueue      int64
	waitTimeout   time.Duration

	active  atomic.Int64
	waiting atomic.Int64
}

// New creates a limiter. The name labels its metrics.
func New(name string, cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxQueueSize < 0 {
		cfg.MaxQueueSize = 0
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultConfig().WaitTimeout
	}

	return &Limiter{
		name:          name,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrent),
		maxConcurrent: cfg.MaxConcurrent,
		maxQueue:      cfg.MaxQueueSize,
		waitTimeout:   cfg.WaitTimeout,
	}
}

// Acquire takes a slot, waiting up to the configured timeout. Every
// successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		l.active.Add(1)
		l.updateMetrics()
		return nil
	}

	if n := l.waiting.Add(1); l.maxQueue > 0 && n > l.maxQueue {
		l.waiting.Add(-1)
		metrics.RecordAdmissionRejection(l.name, "queue_full")
		return ErrQueueFull
	}
	l.updateMetrics()

	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	err := l.sem.Acquire(waitCtx, 1)
	l.waiting.Add(-1)
	if err != nil {
		l.updateMetrics()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.RecordAdmissionRejection(l.name, "timeout")
		return ErrTimeout
	}

	l.active.Add(1)
	l.updateMetrics()
	return nil
}

// Release returns a slot to the pool.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
	l.updateMetrics()
}

func (l *Limiter) updateMetrics() {
	metrics.SetAdmissionActive(l.name, int(l.active.Load()))
	metrics.SetAdmissionWaiting(l.name, int(l.waiting.Load()))
}

// Stats holds a point-in-time view of the limiter.
type Stats struct {
	Active        int64
	Waiting       int64
	MaxConcurrent int64
	MaxQueue      int64
}

// Stats returns current statistics.
func (l *Limiter) Stats() Stats {
	return Stats{
		Active:        l.active.Load(),
		Waiting:       l.waiting.Load(),
		MaxConcurrent: l.maxConcurrent,
		MaxQueue:      l.maxQueue,
	}
}
