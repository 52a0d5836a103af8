package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcapture/internal/clock/fake"
)

func neverPrune() float64 { return 1 }

func TestWindowAdmitsUpToLimit(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))

	for i := 0; i < 5; i++ {
		d := w.CheckAndConsume("auth:1.2.3.4", time.Minute, 5)
		require.True(t, d.Allowed, "request %d", i+1)
	}

	clk.Advance(30 * time.Second)
	d := w.CheckAndConsume("auth:1.2.3.4", time.Minute, 5)
	require.False(t, d.Allowed)
	assert.Equal(t, 30, d.RetryAfter)
}

func TestWindowRetryAfterRoundsUp(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))

	require.True(t, w.CheckAndConsume("id", time.Minute, 1).Allowed)
	clk.Advance(59*time.Second + 500*time.Millisecond)
	d := w.CheckAndConsume("id", time.Minute, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))

	for i := 0; i < 3; i++ {
		require.True(t, w.CheckAndConsume("ip:9.9.9.9", time.Minute, 3).Allowed)
	}
	require.False(t, w.CheckAndConsume("ip:9.9.9.9", time.Minute, 3).Allowed)

	clk.Advance(time.Minute)
	require.True(t, w.CheckAndConsume("ip:9.9.9.9", time.Minute, 3).Allowed)
}

func TestWindowDeniedRequestsDoNotConsume(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))

	require.True(t, w.CheckAndConsume("k", time.Minute, 1).Allowed)
	for i := 0; i < 10; i++ {
		require.False(t, w.CheckAndConsume("k", time.Minute, 1).Allowed)
	}
	clk.Advance(time.Minute)
	require.True(t, w.CheckAndConsume("k", time.Minute, 1).Allowed)
}

func TestWindowIdentitiesAreIndependent(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))

	require.True(t, w.CheckAndConsume("a", time.Minute, 1).Allowed)
	require.False(t, w.CheckAndConsume("a", time.Minute, 1).Allowed)
	require.True(t, w.CheckAndConsume("b", time.Minute, 1).Allowed)
}

func TestWindowClassesDoNotShareCounters(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk, WithRandom(neverPrune))
	fetch := Class{Name: "fetch", Window: time.Minute, Max: 1}
	create := Class{Name: "create", Window: time.Minute, Max: 1}

	require.True(t, w.Check(fetch, "ip:1.1.1.1").Allowed)
	require.False(t, w.Check(fetch, "ip:1.1.1.1").Allowed)
	require.True(t, w.Check(create, "ip:1.1.1.1").Allowed)
}

func TestWindowPrunesExpiredEntries(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	prune := false
	w := NewWindow(clk, WithRandom(func() float64 {
		if prune {
			return 0
		}
		return 1
	}))

	w.CheckAndConsume("old-1", time.Second, 5)
	w.CheckAndConsume("old-2", time.Second, 5)
	require.Equal(t, 2, w.Len())

	clk.Advance(2 * time.Second)
	prune = true
	w.CheckAndConsume("fresh", time.Minute, 5)
	assert.Equal(t, 1, w.Len())

	w.CheckAndConsume("short", time.Second, 5)
	clk.Advance(2 * time.Second)
	w.Prune()
	assert.Equal(t, 1, w.Len())
}

func TestWindowConcurrentUse(t *testing.T) {
	clk := fake.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(clk)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.CheckAndConsume("shared", time.Minute, 10).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
