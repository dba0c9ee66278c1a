package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStoreGetRespectsTTLWithoutSweep(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[string](time.Minute, clk, nil)
	store.Put("k", "v")

	got, ok := store.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	clk.Advance(59 * time.Second)
	_, ok = store.Get("k")
	require.True(t, ok)

	clk.Advance(time.Second)
	_, ok = store.Get("k")
	require.False(t, ok, "entry exactly TTL old must not be served")
	require.Equal(t, 1, store.Len(), "lookups never delete")
}

func TestStoreSweepAgreesWithGet(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[int](time.Minute, clk, nil)
	store.Put("old", 1)
	clk.Advance(30 * time.Second)
	store.Put("young", 2)
	clk.Advance(30 * time.Second)

	_, oldOK := store.Get("old")
	_, youngOK := store.Get("young")
	require.False(t, oldOK)
	require.True(t, youngOK)

	require.Equal(t, 1, store.Sweep())
	require.Equal(t, 1, store.Len())
	_, youngOK = store.Get("young")
	require.True(t, youngOK)
}

func TestStorePutOverwritesAndRefreshes(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[string](time.Minute, clk, nil)
	store.Put("k", "first")
	clk.Advance(50 * time.Second)
	store.Put("k", "second")
	clk.Advance(50 * time.Second)

	got, ok := store.Get("k")
	require.True(t, ok)
	require.Equal(t, "second", got)
}

func TestStoreDefaultsTTL(t *testing.T) {
	t.Parallel()

	store := New[string](0, &fakeClock{}, nil)
	require.Equal(t, DefaultTTL, store.TTL())
}

func TestStoreConcurrentAccessDuringSweep(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[int](time.Second, clk, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d-%d", w, i%10)
				store.Put(key, i)
				store.Get(key)
				if i%50 == 0 {
					clk.Advance(500 * time.Millisecond)
					store.Sweep()
				}
			}
		}(w)
	}
	wg.Wait()

	clk.Advance(time.Hour)
	store.Sweep()
	require.Zero(t, store.Len())
}

func TestStoreRunSweepsUntilCanceled(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[string](20*time.Millisecond, clk, nil)
	store.Put("k", "v")
	clk.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
