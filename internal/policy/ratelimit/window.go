// Package ratelimit holds the inbound fixed-window quota and the outbound
// per-host pacer.
package ratelimit

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/metrics"
)

const defaultPruneChance = 0.01

// Class is a named quota: at most Max requests per Window for one identity.
type Class struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

type entry struct {
	count   int
	resetAt time.Time
}

// Window is a fixed-window counter keyed by quota class and identity.
// Entries reset lazily on the first request after their window ends and are
// pruned opportunistically.
type Window struct {
	mu          sync.Mutex
	entries     map[string]*entry
	clock       capture.Clock
	random      func() float64
	pruneChance float64
}

// Option configures a Window.
type Option func(*Window)

// WithRandom replaces the source used to decide when to prune.
func WithRandom(fn func() float64) Option {
	return func(w *Window) { w.random = fn }
}

// WithPruneChance sets the per-call probability of pruning expired entries.
func WithPruneChance(p float64) Option {
	return func(w *Window) { w.pruneChance = p }
}

// NewWindow creates an empty limiter reading time from clock.
func NewWindow(clock capture.Clock, opts ...Option) *Window {
	w := &Window{
		entries:     make(map[string]*entry),
		clock:       clock,
		random:      rand.Float64,
		pruneChance: defaultPruneChance,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CheckAndConsume admits identity if it has budget left in the current window
// and counts the request. Denied requests do not consume budget.
func (w *Window) CheckAndConsume(identity string, window time.Duration, limit int) Decision {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.random() < w.pruneChance {
		w.pruneLocked(now)
	}

	e, ok := w.entries[identity]
	if !ok || !now.Before(e.resetAt) {
		w.entries[identity] = &entry{count: 1, resetAt: now.Add(window)}
		return Decision{Allowed: true}
	}

	if e.count >= limit {
		return Decision{Allowed: false, RetryAfter: retryAfter(e.resetAt.Sub(now))}
	}
	e.count++
	return Decision{Allowed: true}
}

// Check applies a quota class to identity. Classes do not share counters.
func (w *Window) Check(class Class, identity string) Decision {
	d := w.CheckAndConsume(class.Name+"|"+identity, class.Window, class.Max)
	if !d.Allowed {
		metrics.ObserveRateLimitDenied(class.Name)
	}
	return d
}

// Prune drops every entry whose window has ended.
func (w *Window) Prune() {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

// Len reports how many identities are tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Window) pruneLocked(now time.Time) {
	for key, e := range w.entries {
		if !now.Before(e.resetAt) {
			delete(w.entries, key)
		}
	}
}

func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
