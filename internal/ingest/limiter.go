package ingest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when all ingestion slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrent is the default limit for parallel ingestions.
const DefaultMaxConcurrent = 5

// DefaultMaxWait is how long to wait for a slot before rejecting.
const DefaultMaxWait = 30 * time.Second

// Limiter bounds concurrent ingestions with a semaphore. A full pipeline run
// holds the file, the parsed rows and a database transaction, so parallelism
// has to be capped.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewLimiter allows at most maxConcurrent simultaneous ingestions. Requests
// that cannot acquire a slot within maxWait receive ErrTooManyUploads.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire claims an ingestion slot, waiting up to the configured maximum.
// The caller must call Release exactly once after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyUploads

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of ingestions currently holding a slot.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active ingestions complete or ctx is done.
// Used during shutdown so in-flight uploads finish before the process exits.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
