// Package search coordinates free-text and filter search: input is
// debounced, each resolution is numbered at dispatch, and only the most
// recent one may publish a result. Backend failures degrade to filtering
// a local dataset.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// ErrSuperseded is returned by Resolve when a newer resolution started
// before this one finished.
var ErrSuperseded = errors.New("search: superseded by a newer query")

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithDebouncer replaces the default 300ms debouncer.
func WithDebouncer(d *Debouncer) Option {
	return func(c *Coordinator) { c.debounce = d }
}

// Coordinator owns the current query and result.
type Coordinator struct {
	resolver Resolver
	debounce *Debouncer

	mu      sync.Mutex
	query   pesantren.Query
	result  Result
	lastErr error
	gen     uint64
	cancel  context.CancelFunc
	loading bool
	closed  bool
	subs    map[int]func(Result)
	nextSub int

	// notifyMu keeps subscriber calls in generation order.
	notifyMu sync.Mutex
	// wg counts debounced resolutions. Add happens under mu while the
	// coordinator is open, so Close's Wait never races with it.
	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator around resolver.
func NewCoordinator(resolver Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver: resolver,
		query:    pesantren.Query{Filters: pesantren.NewFilters()},
		subs:     make(map[int]func(Result)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.debounce == nil {
		c.debounce = NewDebouncer(DefaultDelay)
	}
	return c
}

// SetQuery replaces the search text and schedules a resolution after the
// quiet period.
func (c *Coordinator) SetQuery(text string) {
	c.mu.Lock()
	c.query.Text = text
	c.mu.Unlock()
	c.schedule()
}

// SetFilters replaces the filters and schedules a resolution after the
// quiet period.
func (c *Coordinator) SetFilters(f pesantren.Filters) {
	c.mu.Lock()
	c.query.Filters = f.Clone()
	c.mu.Unlock()
	c.schedule()
}

func (c *Coordinator) schedule() {
	c.debounce.Trigger(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		q := c.query.Clone()
		c.mu.Unlock()
		defer c.wg.Done()

		if _, err := c.run(context.Background(), q); err != nil && !errors.Is(err, ErrSuperseded) {
			slog.Debug("search: debounced resolution failed", "query", q.Text, "error", err)
		}
	})
}

// Resolve resolves q immediately, making it the current query. Older
// in-flight resolutions are cancelled and their results discarded.
func (c *Coordinator) Resolve(ctx context.Context, q pesantren.Query) (Result, error) {
	c.debounce.Cancel()
	c.mu.Lock()
	c.query = q.Clone()
	c.mu.Unlock()
	return c.run(ctx, q)
}

func (c *Coordinator) run(ctx context.Context, q pesantren.Query) (Result, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loading = true
	c.mu.Unlock()
	defer cancel()

	res, err := c.resolver.Resolve(rctx, q)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		slog.Debug("search: discarding superseded result", "generation", gen, "query", q.Text)
		return Result{}, ErrSuperseded
	}
	c.cancel = nil
	c.loading = false
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return Result{}, err
	}
	res.Generation = gen
	c.result = res
	c.lastErr = nil
	subs := c.subscribersLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()

	defer c.notifyMu.Unlock()
	for _, fn := range subs {
		fn(res)
	}
	return res, nil
}

// Clear resets the query and result and drops pending and in-flight
// resolutions.
func (c *Coordinator) Clear() {
	c.debounce.Cancel()

	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading = false
	c.lastErr = nil
	c.query = pesantren.Query{Filters: pesantren.NewFilters()}
	c.result = Result{Generation: c.gen}
	res := c.result
	subs := c.subscribersLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()

	defer c.notifyMu.Unlock()
	for _, fn := range subs {
		fn(res)
	}
}

// Close drops pending work and waits for debounced resolutions to return.
// Timers firing afterwards do nothing.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Clear()
	c.wg.Wait()
	return nil
}

// Query returns the current query.
func (c *Coordinator) Query() pesantren.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Clone()
}

// Result returns the most recent published result.
func (c *Coordinator) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the error of the most recent resolution, if it failed.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Loading reports whether a resolution is in flight.
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Pending reports whether a debounced resolution is scheduled.
func (c *Coordinator) Pending() bool {
	return c.debounce.Pending()
}

// Subscribe registers fn for every published result, in generation order.
// fn must not call Resolve. The returned function unsubscribes.
func (c *Coordinator) Subscribe(fn func(Result)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
		})
	}
}

func (c *Coordinator) subscribersLocked() []func(Result) {
	out := make([]func(Result), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
