package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
)

const testStale = time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, retry RetryPolicy) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Config{Retry: retry})
	c.now = clock.Now
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestNewKey_OrderIndependent(t *testing.T) {
	a := NewKey("listing", map[string]any{"page": 1, "limit": 10})
	b := NewKey("listing", map[string]any{"limit": 10, "page": 1})
	assert.Equal(t, a, b)
	assert.Equal(t, "listing?limit=10&page=1", a.String())
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.ID(), 16)
}

func TestNewKey_ListMembersSorted(t *testing.T) {
	a := NewKey("search", map[string]any{"programs": []string{"Tahfidz", "Kitab Kuning"}})
	b := NewKey("search", map[string]any{"programs": mapset.NewSet("Kitab Kuning", "Tahfidz")})
	assert.Equal(t, a, b)
}

func TestNewKey_EmptyValuesDropped(t *testing.T) {
	var minRating *float64
	a := NewKey("listing", map[string]any{
		"page":       1,
		"search":     "  ",
		"facilities": []string{},
		"min_rating": minRating,
		"province":   nil,
	})
	assert.Equal(t, NewKey("listing", map[string]any{"page": 1}), a)
}

func TestNewKey_DistinctKinds(t *testing.T) {
	a := NewKey("featured", map[string]any{"limit": 6})
	b := NewKey("popular", map[string]any{"limit": 6})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestNewKey_NoParams(t *testing.T) {
	k := NewKey("stats", nil)
	assert.Equal(t, "stats", k.String())
}

func TestFetch_MissThenFreshHit(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("detail", map[string]any{"id": "p1"})

	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "Al-Hikmah", nil
	}

	v, err := Fetch(context.Background(), c, key, testStale, fn)
	require.NoError(t, err)
	assert.Equal(t, "Al-Hikmah", v)

	v, err = Fetch(context.Background(), c, key, testStale, fn)
	require.NoError(t, err)
	assert.Equal(t, "Al-Hikmah", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_StaleWhileRevalidate(t *testing.T) {
	c, clock := newTestCache(t, NoRetry())
	key := NewKey("detail", map[string]any{"id": "p1"})
	c.Set(key, "old", testStale)

	clock.Advance(2 * testStale)

	var calls atomic.Int32
	v, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (string, error) {
		calls.Add(1)
		return "new", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	assert.Eventually(t, func() bool {
		got, _ := Get[string](c, key)
		return got == "new"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_FailedRefreshKeepsValue(t *testing.T) {
	c, clock := newTestCache(t, NoRetry())
	key := NewKey("listing", map[string]any{"page": 1})
	c.Set(key, "cached", testStale)
	clock.Advance(2 * testStale)

	boom := apierr.FromStatus(http.StatusInternalServerError, "", nil)
	v, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (string, error) {
		return "", boom
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)

	assert.Eventually(t, func() bool {
		entry, ok := c.Peek(key)
		return ok && entry.Err != nil
	}, time.Second, 5*time.Millisecond)

	entry, _ := c.Peek(key)
	assert.Equal(t, "cached", entry.Value)
	assert.ErrorIs(t, entry.Err, boom)
}

func TestFetch_MissErrorNotCached(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("detail", map[string]any{"id": "missing"})

	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (string, error) {
		return "", apierr.FromStatus(http.StatusNotFound, "", nil)
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	_, ok := c.Peek(key)
	assert.False(t, ok)
}

func TestFetch_DeduplicatesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("featured", map[string]any{"limit": 6})

	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(context.Background(), c, key, testStale, fn)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestFetch_OlderDispatchDoesNotOverwriteNewerWrite(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("detail", map[string]any{"id": "p1"})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 1)
	go func() {
		v, _ := Fetch(context.Background(), c, key, testStale, func(context.Context) (string, error) {
			close(started)
			<-release
			return "from slow fetch", nil
		})
		done <- v
	}()

	<-started
	c.Set(key, "from newer write", testStale)
	close(release)

	assert.Equal(t, "from slow fetch", <-done)
	got, ok := Get[string](c, key)
	require.True(t, ok)
	assert.Equal(t, "from newer write", got)
}

func TestFetch_CallerCancelDoesNotAbortSharedLoad(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("search", map[string]any{"q": "tahfidz"})

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, c, key, testStale, func(fctx context.Context) (string, error) {
			<-release
			return "ok", fctx.Err()
		})
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		v, ok := Get[string](c, key)
		return ok && v == "ok"
	}, time.Second, 5*time.Millisecond)
}

func TestFetch_TypeMismatch(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("stats", nil)
	c.Set(key, 7, testStale)

	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (string, error) {
		return "x", nil
	})
	assert.Error(t, err)
}

func TestFetch_RetriesTransient(t *testing.T) {
	c, _ := newTestCache(t, fastRetry())
	key := NewKey("stats", nil)

	var calls atomic.Int32
	v, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, apierr.Network(errors.New("connection refused"))
		}
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_RetryBudget(t *testing.T) {
	c, _ := newTestCache(t, fastRetry())
	key := NewKey("stats", nil)

	var calls atomic.Int32
	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, apierr.FromStatus(http.StatusServiceUnavailable, "", nil)
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindServer, apierr.KindOf(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetch_WithRetryOverridesPolicy(t *testing.T) {
	c, _ := newTestCache(t, fastRetry())
	key := NewKey("search", map[string]any{"q": "bogor"})

	var calls atomic.Int32
	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, apierr.Network(errors.New("connection refused"))
	}, WithRetry(NoRetry()))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_NoRetryOnClientError(t *testing.T) {
	c, _ := newTestCache(t, fastRetry())
	key := NewKey("detail", map[string]any{"id": "p9"})

	var calls atomic.Int32
	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, apierr.FromStatus(http.StatusForbidden, "", nil)
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RetriesRateLimited(t *testing.T) {
	c, _ := newTestCache(t, fastRetry())
	key := NewKey("popular", nil)

	var calls atomic.Int32
	_, err := Fetch(context.Background(), c, key, testStale, func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, apierr.FromStatus(http.StatusTooManyRequests, "", nil)
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_AfterClose(t *testing.T) {
	c := New(Config{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := Fetch(context.Background(), c, NewKey("stats", nil), testStale, func(context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBackOffSchedule(t *testing.T) {
	b := DefaultRetryPolicy().backOff()
	b.Reset()

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	key := NewKey("about", nil)
	c.Set(key, "v1", time.Hour)

	c.Invalidate(key)
	entry, ok := c.Peek(key)
	require.True(t, ok)
	assert.True(t, entry.Stale(time.Now()))

	var calls atomic.Int32
	v, err := Fetch(context.Background(), c, key, time.Hour, func(context.Context) (string, error) {
		calls.Add(1)
		return "v2", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Eventually(t, func() bool {
		got, _ := Get[string](c, key)
		return got == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidateKind(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	c.Set(NewKey("listing", map[string]any{"page": 1}), "a", time.Hour)
	c.Set(NewKey("listing", map[string]any{"page": 2}), "b", time.Hour)
	c.Set(NewKey("detail", map[string]any{"id": "p1"}), "c", time.Hour)

	assert.Equal(t, 2, c.InvalidateKind("listing"))

	stale := 0
	c.Range(func(key Key, entry Entry) bool {
		if entry.Invalidated {
			assert.Equal(t, "listing", key.Kind)
			stale++
		}
		return true
	})
	assert.Equal(t, 2, stale)

	c.InvalidateAll()
	entry, _ := c.Peek(NewKey("detail", map[string]any{"id": "p1"}))
	assert.True(t, entry.Invalidated)
}

func TestUpdateKind(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	c.Set(NewKey("listing", map[string]any{"page": 1}), []string{"p1", "p2"}, time.Hour)
	c.Set(NewKey("listing", map[string]any{"page": 2}), []string{"p3"}, time.Hour)

	n := c.UpdateKind("listing", func(_ Key, v any) (any, bool) {
		ids := v.([]string)
		for i, id := range ids {
			if id == "p2" {
				out := append([]string(nil), ids...)
				out[i] = "p2*"
				return out, true
			}
		}
		return nil, false
	})
	assert.Equal(t, 1, n)

	got, _ := Get[[]string](c, NewKey("listing", map[string]any{"page": 1}))
	assert.Equal(t, []string{"p1", "p2*"}, got)
}

func TestUpdate_MissingEntry(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	assert.False(t, c.Update(NewKey("detail", map[string]any{"id": "x"}), func(v any) (any, bool) {
		return v, true
	}))
}

func TestRemoveAndClear(t *testing.T) {
	c, _ := newTestCache(t, NoRetry())
	k1 := NewKey("stats", nil)
	k2 := NewKey("about", nil)
	c.Set(k1, 1, time.Hour)
	c.Set(k2, 2, time.Hour)

	c.Remove(k1)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}
