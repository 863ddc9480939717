package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

const testDelay = 30 * time.Millisecond

func localDataset(t *testing.T) *dataset.Memory {
	t.Helper()
	m := dataset.NewMemory(10)
	require.NoError(t, m.Upsert(context.Background(),
		pesantren.Pesantren{ID: "p1", Name: "Al-Hikmah", Location: "Bogor", Rating: 4.8, Programs: []string{"Tahfidz"}},
		pesantren.Pesantren{ID: "p2", Name: "Tebuireng", Location: "Jombang", Rating: 4.5, Programs: []string{"Kitab Kuning"}},
		pesantren.Pesantren{ID: "p3", Name: "Darul Ulum", Location: "Kab. Bogor", Rating: 4.2, Programs: []string{"Tahfidz"}},
	))
	return m
}

type recorder struct {
	mu      sync.Mutex
	queries []string
}

func (r *recorder) add(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func itemIDs(items []pesantren.Pesantren) []string {
	out := make([]string, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	d := NewDebouncer(testDelay)
	var fired atomic.Int32
	var last atomic.Int32

	for i := 1; i <= 5; i++ {
		d.Trigger(func() {
			fired.Add(1)
			last.Store(int32(i))
		})
		time.Sleep(testDelay / 5)
	}
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(2 * testDelay)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int32(5), last.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(testDelay)
	var fired atomic.Bool
	d.Trigger(func() { fired.Store(true) })
	d.Cancel()

	time.Sleep(3 * testDelay)
	assert.False(t, fired.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_DefaultDelay(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, NewDebouncer(0).Delay())
}

func TestFallbackResolver_Primary(t *testing.T) {
	r := NewFallbackResolver(func(_ context.Context, q pesantren.Query, _ int) ([]pesantren.Pesantren, error) {
		return []pesantren.Pesantren{{ID: "remote"}}, nil
	}, localDataset(t), 0)

	res, err := r.Resolve(context.Background(), pesantren.Query{Text: "bogor"})
	require.NoError(t, err)
	assert.Equal(t, OriginPrimary, res.Origin)
	assert.Empty(t, res.Notice)
	assert.Equal(t, []string{"remote"}, itemIDs(res.Items))
}

func TestFallbackResolver_BogorFallback(t *testing.T) {
	networkErr := apierr.Network(errors.New("dial tcp: connection refused"))
	r := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, networkErr
	}, localDataset(t), 0)

	res, err := r.Resolve(context.Background(), pesantren.Query{Text: "Bogor"})
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, res.Origin)
	assert.Equal(t, FallbackNotice, res.Notice)
	assert.ElementsMatch(t, []string{"p1", "p3"}, itemIDs(res.Items))
	assert.ErrorIs(t, res.Err, networkErr)
}

func TestFallbackResolver_FallbackAppliesFiltersAndLimit(t *testing.T) {
	r := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, apierr.New(apierr.KindServer, nil)
	}, localDataset(t), 1)

	minRating := 4.5
	q := pesantren.Query{Filters: pesantren.NewFilters()}
	q.Filters.MinRating = &minRating
	res, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, res.Origin)
	assert.Len(t, res.Items, 1)
}

func TestFallbackResolver_CancellationIsNotDegraded(t *testing.T) {
	r := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, context.Canceled
	}, localDataset(t), 0)

	_, err := r.Resolve(context.Background(), pesantren.Query{Text: "bogor"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackResolver_EmptyQuery(t *testing.T) {
	var calls atomic.Int32
	r := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		calls.Add(1)
		return nil, nil
	}, nil, 0)

	res, err := r.Resolve(context.Background(), pesantren.Query{Text: "   ", Filters: pesantren.NewFilters()})
	require.NoError(t, err)
	assert.Equal(t, OriginPrimary, res.Origin)
	assert.Empty(t, res.Items)
	assert.Zero(t, calls.Load())
}

func TestFallbackResolver_NoDataset(t *testing.T) {
	r := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, apierr.Network(errors.New("offline"))
	}, nil, 0)

	_, err := r.Resolve(context.Background(), pesantren.Query{Text: "bogor"})
	assert.Equal(t, apierr.KindNetwork, apierr.KindOf(err))
}

func TestCoordinator_DebouncedTypingMakesOneCall(t *testing.T) {
	rec := &recorder{}
	resolver := NewFallbackResolver(func(_ context.Context, q pesantren.Query, _ int) ([]pesantren.Pesantren, error) {
		rec.add(q.Text)
		return []pesantren.Pesantren{{ID: "p1"}}, nil
	}, nil, 0)
	c := NewCoordinator(resolver)
	t.Cleanup(func() { _ = c.Close() })

	got := make(chan Result, 4)
	c.Subscribe(func(r Result) { got <- r })

	for _, prefix := range []string{"t", "ta", "tah", "tahf", "tahfidz", "tahfidz a", "tahfidz al"} {
		c.SetQuery(prefix)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case res := <-got:
		assert.Equal(t, "tahfidz al", res.Query.Text)
		assert.Equal(t, OriginPrimary, res.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
	}
	assert.Equal(t, []string{"tahfidz al"}, rec.all())
}

func TestCoordinator_LateOlderResultDiscarded(t *testing.T) {
	releaseA := make(chan struct{})
	var aCtx context.Context
	aStarted := make(chan struct{})

	resolver := NewFallbackResolver(func(ctx context.Context, q pesantren.Query, _ int) ([]pesantren.Pesantren, error) {
		if q.Text == "A" {
			aCtx = ctx
			close(aStarted)
			<-releaseA
			return []pesantren.Pesantren{{ID: "from-A"}}, nil
		}
		return []pesantren.Pesantren{{ID: "from-B"}}, nil
	}, nil, 0)
	c := NewCoordinator(resolver, WithDebouncer(NewDebouncer(testDelay)))
	t.Cleanup(func() { _ = c.Close() })

	var published []string
	var mu sync.Mutex
	c.Subscribe(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, itemIDs(r.Items)...)
	})

	errA := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), pesantren.Query{Text: "A"})
		errA <- err
	}()
	<-aStarted

	resB, err := c.Resolve(context.Background(), pesantren.Query{Text: "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"from-B"}, itemIDs(resB.Items))
	assert.ErrorIs(t, aCtx.Err(), context.Canceled)

	close(releaseA)
	assert.ErrorIs(t, <-errA, ErrSuperseded)

	assert.Equal(t, []string{"from-B"}, itemIDs(c.Result().Items))
	assert.Equal(t, "B", c.Query().Text)
	mu.Lock()
	assert.Equal(t, []string{"from-B"}, published)
	mu.Unlock()
}

func TestCoordinator_FallbackThroughDebounce(t *testing.T) {
	resolver := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, apierr.Network(errors.New("offline"))
	}, localDataset(t), 0)
	c := NewCoordinator(resolver, WithDebouncer(NewDebouncer(testDelay)))
	t.Cleanup(func() { _ = c.Close() })

	c.SetQuery("Bogor")
	assert.Eventually(t, func() bool {
		return c.Result().Origin == OriginFallback
	}, time.Second, 5*time.Millisecond)

	res := c.Result()
	assert.Equal(t, FallbackNotice, res.Notice)
	assert.Len(t, res.Items, 2)

	// Narrowing with a filter re-resolves against the same dataset.
	f := pesantren.NewFilters()
	minRating := 4.5
	f.MinRating = &minRating
	c.SetFilters(f)
	assert.Eventually(t, func() bool {
		return len(c.Result().Items) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "p1", c.Result().Items[0].ID)
}

func TestCoordinator_ClearCancelsPendingAndInFlight(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	resolver := NewFallbackResolver(func(ctx context.Context, _ pesantren.Query, _ int) ([]pesantren.Pesantren, error) {
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
			return []pesantren.Pesantren{{ID: "late"}}, nil
		}
	}, nil, 0)
	c := NewCoordinator(resolver, WithDebouncer(NewDebouncer(testDelay)))
	t.Cleanup(func() {
		close(block)
		_ = c.Close()
	})

	// Pending timer.
	c.SetQuery("tahfidz")
	require.True(t, c.Pending())
	c.Clear()
	time.Sleep(3 * testDelay)
	assert.Zero(t, calls.Load())

	// In-flight resolution.
	errc := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), pesantren.Query{Text: "bogor"})
		errc <- err
	}()
	<-started
	assert.True(t, c.Loading())
	c.Clear()

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Empty(t, c.Result().Items)
	assert.True(t, c.Query().IsZero())
	assert.False(t, c.Loading())
}

func TestCoordinator_ResolveEmptyQuery(t *testing.T) {
	var calls atomic.Int32
	resolver := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		calls.Add(1)
		return nil, nil
	}, nil, 0)
	c := NewCoordinator(resolver)

	res, err := c.Resolve(context.Background(), pesantren.Query{})
	require.NoError(t, err)
	assert.Equal(t, OriginPrimary, res.Origin)
	assert.Zero(t, calls.Load())
	assert.Equal(t, uint64(1), res.Generation)
}

func TestCoordinator_Unsubscribe(t *testing.T) {
	resolver := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		return nil, nil
	}, nil, 0)
	c := NewCoordinator(resolver)

	var n atomic.Int32
	unsub := c.Subscribe(func(Result) { n.Add(1) })
	_, err := c.Resolve(context.Background(), pesantren.Query{Text: "x"})
	require.NoError(t, err)
	unsub()
	unsub()
	_, err = c.Resolve(context.Background(), pesantren.Query{Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), n.Load())
}

func TestCoordinator_CloseRacesDebounceTimer(t *testing.T) {
	var calls atomic.Int32
	resolver := NewFallbackResolver(func(context.Context, pesantren.Query, int) ([]pesantren.Pesantren, error) {
		calls.Add(1)
		return []pesantren.Pesantren{{ID: "p1"}}, nil
	}, nil, 0)

	// Close lands while timers are firing; run with -race.
	for i := range 50 {
		c := NewCoordinator(resolver, WithDebouncer(NewDebouncer(time.Millisecond)))
		c.SetQuery("bogor")
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		require.NoError(t, c.Close())
		assert.False(t, c.Loading())
	}

	c := NewCoordinator(resolver, WithDebouncer(NewDebouncer(testDelay)))
	require.NoError(t, c.Close())
	before := calls.Load()
	c.SetQuery("jombang")
	time.Sleep(3 * testDelay)
	assert.Equal(t, before, calls.Load())
	assert.Equal(t, "jombang", c.Query().Text)
}
