package catalog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/cache"
	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

type fakeBackend struct {
	mu      sync.Mutex
	items   []pesantren.Pesantren
	about   pesantren.About
	calls   map[string]int
	failAll error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items: []pesantren.Pesantren{
			{ID: "p1", Name: "Al-Hikmah", Location: "Bogor", Province: "Jawa Barat", Rating: 4.8, Programs: []string{"Tahfidz"}},
			{ID: "p2", Name: "Tebuireng", Location: "Jombang", Province: "Jawa Timur", Rating: 4.5, Programs: []string{"Kitab Kuning"}},
		},
		about: pesantren.About{Title: "Tentang Kami"},
		calls: make(map[string]int),
	}
}

func (f *fakeBackend) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.failAll
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) ListPesantren(_ context.Context, params pesantren.ListParams) (pesantren.Page, error) {
	if err := f.record("list"); err != nil {
		return pesantren.Page{}, err
	}
	var items []pesantren.Pesantren
	for _, p := range f.items {
		if params.Province != "" && p.Province != params.Province {
			continue
		}
		items = append(items, p)
	}
	return pesantren.Page{
		Items:      items,
		Pagination: pesantren.Pagination{Page: params.Page, Limit: params.Limit, Total: len(items), TotalPages: 1},
	}, nil
}

func (f *fakeBackend) SearchPesantren(_ context.Context, q pesantren.Query, _ int) ([]pesantren.Pesantren, error) {
	if err := f.record("search"); err != nil {
		return nil, err
	}
	return pesantren.Filter(f.items, q), nil
}

func (f *fakeBackend) GetPesantren(_ context.Context, id string) (pesantren.Pesantren, error) {
	if err := f.record("get"); err != nil {
		return pesantren.Pesantren{}, err
	}
	for _, p := range f.items {
		if p.ID == id {
			return p, nil
		}
	}
	return pesantren.Pesantren{}, apierr.FromStatus(http.StatusNotFound, "", nil)
}

func (f *fakeBackend) FeaturedPesantren(context.Context, int) ([]pesantren.Pesantren, error) {
	if err := f.record("featured"); err != nil {
		return nil, err
	}
	return f.items[:1], nil
}

func (f *fakeBackend) PopularPesantren(context.Context, int) ([]pesantren.Pesantren, error) {
	if err := f.record("popular"); err != nil {
		return nil, err
	}
	return f.items, nil
}

func (f *fakeBackend) Stats(context.Context) (pesantren.Stats, error) {
	if err := f.record("stats"); err != nil {
		return pesantren.Stats{}, err
	}
	return pesantren.Stats{TotalPesantren: len(f.items)}, nil
}

func (f *fakeBackend) UpdatePesantren(_ context.Context, id string, patch pesantren.Patch) (pesantren.Pesantren, error) {
	if err := f.record("update"); err != nil {
		return pesantren.Pesantren{}, err
	}
	for i, p := range f.items {
		if p.ID == id {
			f.items[i] = patch.Apply(p)
			return f.items[i], nil
		}
	}
	return pesantren.Pesantren{}, apierr.FromStatus(http.StatusNotFound, "", nil)
}

func (f *fakeBackend) GetAbout(context.Context) (pesantren.About, error) {
	if err := f.record("about"); err != nil {
		return pesantren.About{}, err
	}
	return f.about, nil
}

func (f *fakeBackend) UpdateAbout(_ context.Context, about pesantren.About) (pesantren.About, error) {
	if err := f.record("update_about"); err != nil {
		return pesantren.About{}, err
	}
	f.about = about
	return about, nil
}

func newTestCatalog(t *testing.T, opts ...Option) (*Catalog, *fakeBackend, *cache.Cache) {
	t.Helper()
	backend := newFakeBackend()
	c := cache.New(cache.Config{Retry: cache.NoRetry()})
	t.Cleanup(func() { _ = c.Close() })
	return New(backend, c, opts...), backend, c
}

func TestDefaultWindows(t *testing.T) {
	w := DefaultWindows()
	assert.Equal(t, 5*time.Minute, w.Listing)
	assert.Equal(t, 10*time.Minute, w.Detail)
	assert.Equal(t, 15*time.Minute, w.Featured)
	assert.Equal(t, 15*time.Minute, w.Popular)
	assert.Equal(t, 30*time.Minute, w.Stats)
	assert.Equal(t, 60*time.Minute, w.About)
	assert.Equal(t, 5*time.Minute, w.ByProvince)
	assert.Equal(t, 5*time.Minute, w.ByProgram)
}

func TestWithWindows_KeepsDefaultsForZero(t *testing.T) {
	cat, _, _ := newTestCatalog(t, WithWindows(Windows{Detail: time.Minute}))
	assert.Equal(t, time.Minute, cat.Windows().Detail)
	assert.Equal(t, 5*time.Minute, cat.Windows().Listing)
}

func TestList_CachedByNormalizedParams(t *testing.T) {
	cat, backend, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)
	_, err = cat.List(ctx, pesantren.ListParams{Page: 1, Limit: pesantren.DefaultPageSize})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.count("list"))
}

func TestByProvince_SeparateKind(t *testing.T) {
	cat, backend, _ := newTestCatalog(t)
	ctx := context.Background()

	page, err := cat.ByProvince(ctx, "Jawa Timur", pesantren.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p2", page.Items[0].ID)

	_, err = cat.List(ctx, pesantren.ListParams{Province: "Jawa Timur"})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count("list"))

	_, err = cat.ByProvince(ctx, "", pesantren.ListParams{})
	assert.Error(t, err)
	_, err = cat.ByProgram(ctx, "", pesantren.ListParams{})
	assert.Error(t, err)
}

func TestDetail_AndPrefetch(t *testing.T) {
	cat, backend, c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.Prefetch(ctx, "p1"))
	_, ok := cache.Get[pesantren.Pesantren](c, DetailKey("p1"))
	assert.True(t, ok)

	p, err := cat.Detail(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Al-Hikmah", p.Name)
	assert.Equal(t, 1, backend.count("get"))

	_, err = cat.Detail(ctx, "missing")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestFeaturedPopularStatsAbout(t *testing.T) {
	cat, backend, _ := newTestCatalog(t)
	ctx := context.Background()

	for range 2 {
		featured, err := cat.Featured(ctx, 6)
		require.NoError(t, err)
		assert.Len(t, featured, 1)

		popular, err := cat.Popular(ctx, 6)
		require.NoError(t, err)
		assert.Len(t, popular, 2)

		stats, err := cat.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalPesantren)

		about, err := cat.About(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Tentang Kami", about.Title)
	}

	for _, name := range []string{"featured", "popular", "stats", "about"} {
		assert.Equal(t, 1, backend.count(name), name)
	}
}

func TestUpdatePesantren_PatchesCachedCopies(t *testing.T) {
	cat, backend, c := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)
	_, err = cat.Popular(ctx, 0)
	require.NoError(t, err)
	_, err = cat.Stats(ctx)
	require.NoError(t, err)

	updated, err := cat.UpdatePesantren(ctx, "p2", pesantren.Patch{Name: pesantren.Ptr("Tebuireng Baru")})
	require.NoError(t, err)
	assert.Equal(t, "Tebuireng Baru", updated.Name)
	assert.Equal(t, 1, backend.count("update"))

	detail, ok := cache.Get[pesantren.Pesantren](c, DetailKey("p2"))
	require.True(t, ok)
	assert.Equal(t, "Tebuireng Baru", detail.Name)

	page, err := cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, "Tebuireng Baru", page.Items[1].Name)

	popular, err := cat.Popular(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Tebuireng Baru", popular[1].Name)

	entry, ok := c.Peek(cache.NewKey(KindStats, nil))
	require.True(t, ok)
	assert.True(t, entry.Invalidated)
}

func TestUpdatePesantren_FailureLeavesCache(t *testing.T) {
	cat, backend, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)

	backend.failAll = apierr.FromStatus(http.StatusForbidden, "", nil)
	_, err = cat.UpdatePesantren(ctx, "p1", pesantren.Patch{Name: pesantren.Ptr("x")})
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))

	backend.failAll = nil
	page, err := cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, "Al-Hikmah", page.Items[0].Name)
}

func TestUpdatePesantrenInCache(t *testing.T) {
	cat, backend, c := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Detail(ctx, "p1")
	require.NoError(t, err)
	_, err = cat.List(ctx, pesantren.ListParams{})
	require.NoError(t, err)
	_, err = cat.Search(ctx, pesantren.Query{Text: "hikmah"}, 0)
	require.NoError(t, err)

	n := cat.UpdatePesantrenInCache("p1", pesantren.Patch{Rating: pesantren.Ptr(4.9)})
	assert.Equal(t, 3, n)
	assert.Zero(t, backend.count("update"))

	detail, _ := cache.Get[pesantren.Pesantren](c, DetailKey("p1"))
	assert.InDelta(t, 4.9, detail.Rating, 0.001)

	assert.Zero(t, cat.UpdatePesantrenInCache("p1", pesantren.Patch{}))
	assert.Zero(t, cat.UpdatePesantrenInCache("unknown", pesantren.Patch{Rating: pesantren.Ptr(1.0)}))
}

func TestUpdateAbout(t *testing.T) {
	cat, backend, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.UpdateAbout(ctx, pesantren.About{Title: "Profil"})
	require.NoError(t, err)

	about, err := cat.About(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Profil", about.Title)
	assert.Zero(t, backend.count("about"))
}

func TestInvalidateHelpers(t *testing.T) {
	cat, _, c := newTestCatalog(t)
	ctx := context.Background()

	_, _ = cat.List(ctx, pesantren.ListParams{})
	_, _ = cat.Featured(ctx, 3)
	_, _ = cat.Detail(ctx, "p1")
	_, _ = cat.About(ctx)

	cat.InvalidateListings()
	cat.InvalidateDetail("p1")
	cat.InvalidateAbout()

	c.Range(func(key cache.Key, entry cache.Entry) bool {
		assert.True(t, entry.Invalidated, key.String())
		return true
	})
}

func TestDatasetFed(t *testing.T) {
	mem := dataset.NewMemory(10)
	cat, _, _ := newTestCatalog(t, WithDataset(mem))

	_, err := cat.List(context.Background(), pesantren.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Len())
}
