// Package ratelimit implements fixed-window request counters keyed by an
// endpoint tag and a client identifier.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to a
// whole second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Key joins an endpoint tag and a client identifier.
func Key(tag, client string) string { return tag + "_" + client }

type entry struct {
	count int
	start time.Time
}

// Window is an in-process fixed-window limiter. Expired entries are dropped
// by Sweep, and the map never holds more than MaxKeys entries.
type Window struct {
	limit   int
	size    time.Duration
	now     func() time.Time
	maxKeys int

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Window)

func WithClock(now func() time.Time) Option { return func(w *Window) { w.now = now } }

// WithMaxKeys caps the number of tracked clients; 0 disables the cap.
func WithMaxKeys(n int) Option { return func(w *Window) { w.maxKeys = n } }

func NewWindow(limit int, size time.Duration, opts ...Option) *Window {
	w := &Window{
		limit:   limit,
		size:    size,
		now:     time.Now,
		maxKeys: 100_000,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Window) Allow(_ context.Context, key string) (Result, error) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok || now.Sub(e.start) > w.size {
		if !ok {
			w.makeRoomLocked(now)
		}
		e = &entry{count: 1, start: now}
		w.entries[key] = e
		return w.result(e, true), nil
	}
	if e.count >= w.limit {
		return w.result(e, false), nil
	}
	e.count++
	return w.result(e, true), nil
}

func (w *Window) result(e *entry, allowed bool) Result {
	rem := w.limit - e.count
	if rem < 0 {
		rem = 0
	}
	return Result{Allowed: allowed, Limit: w.limit, Remaining: rem, ResetAt: e.start.Add(w.size)}
}

func (w *Window) makeRoomLocked(now time.Time) {
	if w.maxKeys <= 0 || len(w.entries) < w.maxKeys {
		return
	}
	w.sweepLocked(now)
	if len(w.entries) < w.maxKeys {
		return
	}
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range w.entries {
		if oldestKey == "" || e.start.Before(oldest) {
			oldestKey, oldest = k, e.start
		}
	}
	delete(w.entries, oldestKey)
}

func (w *Window) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range w.entries {
		if now.Sub(e.start) > w.size {
			delete(w.entries, k)
			n++
		}
	}
	return n
}

// Sweep drops every entry whose window has ended and reports how many were
// removed.
func (w *Window) Sweep() int {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweepLocked(now)
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Run sweeps every interval until ctx is done.
func (w *Window) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Sweep()
		}
	}
}
