// Package cache holds fetched backend data keyed by entity kind and
// parameters. Reads inside an entry's staleness window are served from
// memory; stale reads return the cached value and refresh it in the
// background. Concurrent fetches of one key share a single request, and
// a fetch result is only stored if no newer write reached the entry
// after the fetch was dispatched.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultGCWindow is how long an entry survives without being read.
const DefaultGCWindow = 10 * time.Minute

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("cache: closed")

// Entry is a cached value with its fetch metadata.
type Entry struct {
	Value      any
	FetchedAt  time.Time
	StaleAfter time.Duration

	// Err is the error from the most recent failed refresh. The value is
	// kept when a refresh fails.
	Err error

	// Invalidated forces the next read to refresh.
	Invalidated bool

	// Seq is the dispatch sequence of the write that produced the value.
	Seq uint64
}

// Stale reports whether the entry is past its staleness window at now.
func (e Entry) Stale(now time.Time) bool {
	return e.Invalidated || now.Sub(e.FetchedAt) >= e.StaleAfter
}

// Config configures a Cache.
type Config struct {
	GCWindow time.Duration
	Retry    RetryPolicy
}

// Cache stores entries for any number of kinds.
type Cache struct {
	items *ttlcache.Cache[Key, Entry]
	group singleflight.Group
	retry RetryPolicy
	now   func() time.Time

	// mu serializes compare-and-write on entries.
	mu  sync.Mutex
	seq atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a cache. Call Start to begin expiring unused entries.
func New(cfg Config) *Cache {
	window := cfg.GCWindow
	if window <= 0 {
		window = DefaultGCWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		items: ttlcache.New(
			ttlcache.WithTTL[Key, Entry](window),
		),
		retry:  cfg.Retry,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the expiry loop in the background until Close.
func (c *Cache) Start() {
	go c.items.Start()
}

// Close stops the expiry loop, cancels background refreshes and waits for
// them to return.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.items.Stop()
	c.wg.Wait()
	return nil
}

// FetchOption adjusts a single Fetch.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	retry RetryPolicy
}

// WithRetry replaces the cache's retry policy for one Fetch.
func WithRetry(p RetryPolicy) FetchOption {
	return func(o *fetchOptions) { o.retry = p }
}

// Fetch returns the value for key, calling fn when the entry is missing.
// A stale entry is returned as is while fn runs in the background.
func Fetch[T any](
	ctx context.Context,
	c *Cache,
	key Key,
	staleAfter time.Duration,
	fn func(context.Context) (T, error),
	opts ...FetchOption,
) (T, error) {
	var zero T
	if c.closed.Load() {
		return zero, ErrClosed
	}
	o := fetchOptions{retry: c.retry}
	for _, opt := range opts {
		opt(&o)
	}

	if entry, ok := c.Peek(key); ok && entry.Value != nil {
		v, ok := entry.Value.(T)
		if !ok {
			return zero, fmt.Errorf("cache: entry %s holds %T", key, entry.Value)
		}
		if entry.Stale(c.now()) {
			c.refresh(key, staleAfter, o.retry, erase(fn))
		}
		return v, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.load(ctx, key, staleAfter, o.retry, erase(fn))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: fetch for %s returned %T", key, res.Val)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func erase[T any](fn func(context.Context) (T, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// refresh starts at most one background load for key.
func (c *Cache) refresh(key Key, staleAfter time.Duration, retry RetryPolicy, fn func(context.Context) (any, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _, _ = c.group.Do(key.String(), func() (any, error) {
			return c.load(c.ctx, key, staleAfter, retry, fn)
		})
	}()
}

// load runs fn with retries and writes the result if it is still the
// most recent write for key. The caller's cancellation does not abort a
// load other callers may be sharing; Close does.
func (c *Cache) load(ctx context.Context, key Key, staleAfter time.Duration, retry RetryPolicy, fn func(context.Context) (any, error)) (any, error) {
	seq := c.seq.Add(1)

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	v, err := runWithRetry(lctx, retry, fn)
	if err != nil {
		c.recordError(key, seq, err)
		return nil, err
	}
	c.write(key, seq, Entry{
		Value:      v,
		FetchedAt:  c.now(),
		StaleAfter: staleAfter,
		Seq:        seq,
	})
	return v, nil
}

func (c *Cache) write(key Key, seq uint64, entry Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item := c.items.Get(key); item != nil && item.Value().Seq > seq {
		slog.Debug("cache: dropping superseded result", "key", key.String(), "seq", seq)
		return false
	}
	c.items.Set(key, entry, ttlcache.DefaultTTL)
	return true
}

func (c *Cache) recordError(key Key, seq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.items.Get(key)
	if item == nil {
		return
	}
	entry := item.Value()
	if entry.Seq > seq {
		return
	}
	slog.Warn("cache: refresh failed, keeping cached value",
		"key", key.String(), "kind", key.Kind, "error", err)
	entry.Err = err
	c.items.Set(key, entry, ttlcache.DefaultTTL)
}

// Peek returns the entry for key without triggering a fetch.
func (c *Cache) Peek(key Key) (Entry, bool) {
	item := c.items.Get(key)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

// Get returns the cached value for key if present and of type T.
func Get[T any](c *Cache, key Key) (T, bool) {
	var zero T
	entry, ok := c.Peek(key)
	if !ok || entry.Value == nil {
		return zero, false
	}
	v, ok := entry.Value.(T)
	return v, ok
}

// Set stores value as a fresh entry. It supersedes any fetch already in
// flight for key.
func (c *Cache) Set(key Key, value any, staleAfter time.Duration) {
	seq := c.seq.Add(1)
	c.write(key, seq, Entry{
		Value:      value,
		FetchedAt:  c.now(),
		StaleAfter: staleAfter,
		Seq:        seq,
	})
}

// Update replaces the value of an existing entry with fn's result. fn
// returning false leaves the entry alone. It reports whether the entry
// changed.
func (c *Cache) Update(key Key, fn func(value any) (any, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(key, fn)
}

// UpdateKind applies fn to every entry of kind and returns how many
// changed.
func (c *Cache) UpdateKind(kind string, fn func(key Key, value any) (any, bool)) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	for _, key := range c.items.Keys() {
		if key.Kind != kind {
			continue
		}
		if c.updateLocked(key, func(v any) (any, bool) { return fn(key, v) }) {
			changed++
		}
	}
	return changed
}

func (c *Cache) updateLocked(key Key, fn func(value any) (any, bool)) bool {
	item := c.items.Get(key)
	if item == nil {
		return false
	}
	entry := item.Value()
	if entry.Value == nil {
		return false
	}
	next, ok := fn(entry.Value)
	if !ok {
		return false
	}
	entry.Value = next
	entry.FetchedAt = c.now()
	entry.Err = nil
	entry.Invalidated = false
	entry.Seq = c.seq.Add(1)
	c.items.Set(key, entry, ttlcache.DefaultTTL)
	return true
}

// Invalidate marks key stale so the next read refreshes it. Fetches
// dispatched before the call cannot clear the mark.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

// InvalidateKind marks every entry of kind stale.
func (c *Cache) InvalidateKind(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, key := range c.items.Keys() {
		if key.Kind == kind {
			c.invalidateLocked(key)
			n++
		}
	}
	return n
}

// InvalidateAll marks every entry stale.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.items.Keys() {
		c.invalidateLocked(key)
	}
}

func (c *Cache) invalidateLocked(key Key) {
	item := c.items.Get(key)
	if item == nil {
		return
	}
	entry := item.Value()
	entry.Invalidated = true
	entry.Seq = c.seq.Add(1)
	c.items.Set(key, entry, ttlcache.DefaultTTL)
}

// Remove drops key entirely.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.DeleteAll()
}

// Range calls fn for every entry until fn returns false.
func (c *Cache) Range(fn func(key Key, entry Entry) bool) {
	c.items.Range(func(item *ttlcache.Item[Key, Entry]) bool {
		return fn(item.Key(), item.Value())
	})
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.items.Len()
}
