// Package catalog binds each directory entity to a cache kind with its own
// staleness window, and keeps cached copies consistent after mutations.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/portal-pesantren/portal-sub001/pkg/cache"
	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// Cache kinds.
const (
	KindListing    = "listing"
	KindDetail     = "detail"
	KindFeatured   = "featured"
	KindPopular    = "popular"
	KindByProvince = "by-province"
	KindByProgram  = "by-program"
	KindStats      = "stats"
	KindAbout      = "about"
	KindSearch     = "search"
)

// listKinds hold pesantren.Page values.
var listKinds = []string{KindListing, KindByProvince, KindByProgram}

// sliceKinds hold []pesantren.Pesantren values.
var sliceKinds = []string{KindFeatured, KindPopular, KindSearch}

// Windows are the staleness windows per kind.
type Windows struct {
	Listing    time.Duration `yaml:"listing"`
	Detail     time.Duration `yaml:"detail"`
	Featured   time.Duration `yaml:"featured"`
	Popular    time.Duration `yaml:"popular"`
	Stats      time.Duration `yaml:"stats"`
	About      time.Duration `yaml:"about"`
	ByProvince time.Duration `yaml:"by_province"`
	ByProgram  time.Duration `yaml:"by_program"`
	Search     time.Duration `yaml:"search"`
}

// DefaultWindows returns the standard staleness windows.
func DefaultWindows() Windows {
	return Windows{
		Listing:    5 * time.Minute,
		Detail:     10 * time.Minute,
		Featured:   15 * time.Minute,
		Popular:    15 * time.Minute,
		Stats:      30 * time.Minute,
		About:      60 * time.Minute,
		ByProvince: 5 * time.Minute,
		ByProgram:  5 * time.Minute,
		Search:     5 * time.Minute,
	}
}

// withDefaults fills zero windows from DefaultWindows.
func (w Windows) withDefaults() Windows {
	d := DefaultWindows()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&w.Listing, d.Listing)
	fill(&w.Detail, d.Detail)
	fill(&w.Featured, d.Featured)
	fill(&w.Popular, d.Popular)
	fill(&w.Stats, d.Stats)
	fill(&w.About, d.About)
	fill(&w.ByProvince, d.ByProvince)
	fill(&w.ByProgram, d.ByProgram)
	fill(&w.Search, d.Search)
	return w
}

// Backend is the subset of the HTTP client the catalog needs.
type Backend interface {
	ListPesantren(ctx context.Context, params pesantren.ListParams) (pesantren.Page, error)
	SearchPesantren(ctx context.Context, q pesantren.Query, limit int) ([]pesantren.Pesantren, error)
	GetPesantren(ctx context.Context, id string) (pesantren.Pesantren, error)
	FeaturedPesantren(ctx context.Context, limit int) ([]pesantren.Pesantren, error)
	PopularPesantren(ctx context.Context, limit int) ([]pesantren.Pesantren, error)
	Stats(ctx context.Context) (pesantren.Stats, error)
	UpdatePesantren(ctx context.Context, id string, patch pesantren.Patch) (pesantren.Pesantren, error)
	GetAbout(ctx context.Context) (pesantren.About, error)
	UpdateAbout(ctx context.Context, about pesantren.About) (pesantren.About, error)
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithWindows overrides staleness windows. Zero fields keep defaults.
func WithWindows(w Windows) Option {
	return func(c *Catalog) { c.windows = w.withDefaults() }
}

// WithDataset feeds every successfully fetched listing into store.
func WithDataset(store dataset.Store) Option {
	return func(c *Catalog) { c.dataset = store }
}

// Catalog serves directory entities through the cache.
type Catalog struct {
	backend Backend
	cache   *cache.Cache
	windows Windows
	dataset dataset.Store
}

// New creates a catalog.
func New(backend Backend, c *cache.Cache, opts ...Option) *Catalog {
	cat := &Catalog{
		backend: backend,
		cache:   c,
		windows: DefaultWindows(),
	}
	for _, opt := range opts {
		opt(cat)
	}
	return cat
}

// Windows returns the effective staleness windows.
func (c *Catalog) Windows() Windows {
	return c.windows
}

// ListKey returns the cache key for a listing page.
func ListKey(params pesantren.ListParams) cache.Key {
	return cache.NewKey(KindListing, params.Params())
}

// DetailKey returns the cache key for one listing.
func DetailKey(id string) cache.Key {
	return cache.NewKey(KindDetail, map[string]any{"id": id})
}

// SearchKey returns the cache key for a search.
func SearchKey(q pesantren.Query, limit int) cache.Key {
	params := q.Params()
	if limit > 0 {
		params["limit"] = limit
	}
	return cache.NewKey(KindSearch, params)
}

func limitKey(kind string, limit int) cache.Key {
	if limit <= 0 {
		return cache.NewKey(kind, nil)
	}
	return cache.NewKey(kind, map[string]any{"limit": limit})
}

// List returns a page of listings.
func (c *Catalog) List(ctx context.Context, params pesantren.ListParams) (pesantren.Page, error) {
	return c.page(ctx, KindListing, c.windows.Listing, params)
}

// ByProvince returns a page of listings in province.
func (c *Catalog) ByProvince(ctx context.Context, province string, params pesantren.ListParams) (pesantren.Page, error) {
	if province == "" {
		return pesantren.Page{}, fmt.Errorf("province is required")
	}
	params.Province = province
	return c.page(ctx, KindByProvince, c.windows.ByProvince, params)
}

// ByProgram returns a page of listings offering program.
func (c *Catalog) ByProgram(ctx context.Context, program string, params pesantren.ListParams) (pesantren.Page, error) {
	if program == "" {
		return pesantren.Page{}, fmt.Errorf("program is required")
	}
	params.Program = program
	return c.page(ctx, KindByProgram, c.windows.ByProgram, params)
}

func (c *Catalog) page(ctx context.Context, kind string, window time.Duration, params pesantren.ListParams) (pesantren.Page, error) {
	params = params.Normalize()
	key := cache.NewKey(kind, params.Params())
	return cache.Fetch(ctx, c.cache, key, window, func(ctx context.Context) (pesantren.Page, error) {
		page, err := c.backend.ListPesantren(ctx, params)
		if err != nil {
			return pesantren.Page{}, err
		}
		c.feed(ctx, page.Items...)
		return page, nil
	})
}

// Detail returns one listing.
func (c *Catalog) Detail(ctx context.Context, id string) (pesantren.Pesantren, error) {
	if id == "" {
		return pesantren.Pesantren{}, fmt.Errorf("pesantren id is required")
	}
	return cache.Fetch(ctx, c.cache, DetailKey(id), c.windows.Detail, func(ctx context.Context) (pesantren.Pesantren, error) {
		p, err := c.backend.GetPesantren(ctx, id)
		if err != nil {
			return pesantren.Pesantren{}, err
		}
		c.feed(ctx, p)
		return p, nil
	})
}

// Prefetch warms the detail entry for id.
func (c *Catalog) Prefetch(ctx context.Context, id string) error {
	_, err := c.Detail(ctx, id)
	return err
}

// Featured returns the featured subset.
func (c *Catalog) Featured(ctx context.Context, limit int) ([]pesantren.Pesantren, error) {
	return c.subset(ctx, KindFeatured, c.windows.Featured, limit, c.backend.FeaturedPesantren)
}

// Popular returns the most viewed subset.
func (c *Catalog) Popular(ctx context.Context, limit int) ([]pesantren.Pesantren, error) {
	return c.subset(ctx, KindPopular, c.windows.Popular, limit, c.backend.PopularPesantren)
}

func (c *Catalog) subset(
	ctx context.Context,
	kind string,
	window time.Duration,
	limit int,
	fetch func(context.Context, int) ([]pesantren.Pesantren, error),
) ([]pesantren.Pesantren, error) {
	return cache.Fetch(ctx, c.cache, limitKey(kind, limit), window, func(ctx context.Context) ([]pesantren.Pesantren, error) {
		items, err := fetch(ctx, limit)
		if err != nil {
			return nil, err
		}
		c.feed(ctx, items...)
		return items, nil
	})
}

// Search runs a backend search through the cache. Failures are not
// retried so a search fallback can take over at once.
func (c *Catalog) Search(ctx context.Context, q pesantren.Query, limit int) ([]pesantren.Pesantren, error) {
	return cache.Fetch(ctx, c.cache, SearchKey(q, limit), c.windows.Search, func(ctx context.Context) ([]pesantren.Pesantren, error) {
		items, err := c.backend.SearchPesantren(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		c.feed(ctx, items...)
		return items, nil
	}, cache.WithRetry(cache.NoRetry()))
}

// Stats returns directory statistics.
func (c *Catalog) Stats(ctx context.Context) (pesantren.Stats, error) {
	return cache.Fetch(ctx, c.cache, cache.NewKey(KindStats, nil), c.windows.Stats, c.backend.Stats)
}

// About returns the about page content.
func (c *Catalog) About(ctx context.Context) (pesantren.About, error) {
	return cache.Fetch(ctx, c.cache, cache.NewKey(KindAbout, nil), c.windows.About, c.backend.GetAbout)
}

func (c *Catalog) feed(ctx context.Context, items ...pesantren.Pesantren) {
	if c.dataset == nil || len(items) == 0 {
		return
	}
	if err := c.dataset.Upsert(ctx, items...); err != nil {
		slog.Warn("catalog: feeding dataset failed", "count", len(items), "error", err)
	}
}
