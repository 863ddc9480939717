package platform

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-pesantren/portal-sub001/pkg/devserver"
	"github.com/portal-pesantren/portal-sub001/pkg/events"
	"github.com/portal-pesantren/portal-sub001/pkg/guard"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
	"github.com/portal-pesantren/portal-sub001/pkg/search"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

type testBackend struct {
	srv *devserver.Server
	ts  *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	srv, err := devserver.New(devserver.Config{SigningKey: []byte("platform-test-key")})
	require.NoError(t, err)

	items, err := devserver.DefaultSeed()
	require.NoError(t, err)
	srv.LoadPesantren(items...)
	for _, u := range devserver.DefaultUsers() {
		_, err := srv.AddUser(u)
		require.NoError(t, err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testBackend{srv: srv, ts: ts}
}

func (b *testBackend) config() *Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = b.ts.URL + b.srv.Prefix()
	cfg.Cache.MaxRetries = -1
	cfg.Search.Debounce = 10 * time.Millisecond
	cfg.Session.Persist = PersistMemory
	cfg.Session.File = ""
	cfg.Dataset.Persist = PersistMemory
	cfg.Dataset.File = ""
	return cfg
}

func startPlatform(t *testing.T, cfg *Config, opts ...Option) *Platform {
	t.Helper()
	p, err := New(append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	assert.ErrorContains(t, err, "config is required")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "xml"
	_, err := New(WithConfig(cfg))
	assert.ErrorContains(t, err, "config validation errors")
}

func TestPlatform_ComponentsWired(t *testing.T) {
	b := newTestBackend(t)
	p := startPlatform(t, b.config())

	assert.NotNil(t, p.Bus())
	assert.NotNil(t, p.Client())
	assert.NotNil(t, p.Cache())
	assert.NotNil(t, p.Catalog())
	assert.NotNil(t, p.Search())
	assert.NotNil(t, p.Session())
	assert.NotNil(t, p.Guard())
	assert.Nil(t, p.DB())
	assert.Equal(t, PersistMemory, p.Config().Session.Persist)
	assert.True(t, p.lifecycle.IsStarted())
	assert.Equal(t, session.StatusUnauthenticated, p.Session().Status())
}

func TestPlatform_CatalogFeedsFallback(t *testing.T) {
	b := newTestBackend(t)
	p := startPlatform(t, b.config())
	ctx := context.Background()

	page, err := p.Catalog().List(ctx, pesantren.ListParams{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Pagination.Total)
	assert.Equal(t, 8, p.Dataset().Len())

	q := pesantren.Query{Text: "bogor", Filters: pesantren.NewFilters()}
	res, err := p.Search().Resolve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, search.OriginPrimary, res.Origin)
	assert.Len(t, res.Items, 2)

	b.ts.Close()
	p.Cache().Clear()

	res, err = p.Search().Resolve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, search.OriginFallback, res.Origin)
	assert.NotEmpty(t, res.Notice)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "ps-001", res.Items[0].ID)
}

func TestPlatform_DatasetFileFeedsFallbackAfterRestart(t *testing.T) {
	b := newTestBackend(t)
	cfg := b.config()
	cfg.Cache.MaxRetries = 3
	cfg.Dataset.Persist = PersistFile
	cfg.Dataset.File = filepath.Join(t.TempDir(), "dataset.yaml")
	ctx := context.Background()

	first := startPlatform(t, cfg)
	_, err := first.Catalog().List(ctx, pesantren.ListParams{Limit: 10})
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.FileExists(t, cfg.Dataset.File)

	b.ts.Close()
	second := startPlatform(t, cfg)
	assert.Equal(t, 8, second.Dataset().Len())

	start := time.Now()
	res, err := second.Search().Resolve(ctx, pesantren.Query{Text: "bogor"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, search.OriginFallback, res.Origin)
	assert.Equal(t, search.FallbackNotice, res.Notice)
	assert.Len(t, res.Items, 2)
}

func TestNew_DatasetPostgresRequiresDatabase(t *testing.T) {
	b := newTestBackend(t)
	cfg := b.config()
	cfg.Dataset.Persist = PersistPostgres
	cfg.Database.DSN = "postgres://localhost/unused"

	p := &Platform{config: cfg, lifecycle: NewLifecycle()}
	_, err := p.createDatasetBacking()
	assert.ErrorContains(t, err, "requires a database")
}

func TestPlatform_SessionLifecycle(t *testing.T) {
	b := newTestBackend(t)
	persister := session.NewMemoryPersister()
	p := startPlatform(t, b.config(), WithPersister(persister))
	ctx := context.Background()

	_, err := p.Catalog().Featured(ctx, 0)
	require.NoError(t, err)
	require.Positive(t, p.Cache().Len())

	user, err := p.Session().Login(ctx, devserver.DemoEmail, devserver.DemoPassword, true)
	require.NoError(t, err)
	assert.Equal(t, devserver.DemoEmail, user.Email)
	assert.Equal(t, session.StatusAuthenticated, p.Session().Status())
	assert.NotEmpty(t, persister.Values()[session.KeyAccessToken])

	d := p.Guard().Check("/dashboard", p.Session().Status())
	assert.Equal(t, guard.Allow, d.Action)

	me, err := p.Client().Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)

	require.NoError(t, p.Session().Logout(ctx))
	assert.Equal(t, session.StatusUnauthenticated, p.Session().Status())
	assert.Zero(t, p.Cache().Len())
	assert.Empty(t, persister.Values())

	d = p.Guard().Check("/dashboard", p.Session().Status())
	assert.Equal(t, guard.Redirect, d.Action)
	assert.Equal(t, "/login?redirect=%2Fdashboard", d.Location)
}

func TestPlatform_NavigatorRedirectsOnInvalidation(t *testing.T) {
	b := newTestBackend(t)
	var navigations []string
	p := startPlatform(t, b.config(), WithNavigator(
		guard.NavigatorFunc(func(loc string) { navigations = append(navigations, loc) }),
		func() string { return "/favorites" },
	))
	ctx := context.Background()

	_, err := p.Session().Login(ctx, devserver.DemoEmail, devserver.DemoPassword, false)
	require.NoError(t, err)
	stale := events.TokenDigest(p.Session().AccessToken())
	_, err = p.Session().Login(ctx, devserver.DemoEmail, devserver.DemoPassword, false)
	require.NoError(t, err)
	require.NotEqual(t, stale, events.TokenDigest(p.Session().AccessToken()))

	p.Bus().Publish(events.Event{Type: events.SessionInvalidated, Reason: "http_401", TokenDigest: stale})
	assert.Equal(t, session.StatusAuthenticated, p.Session().Status())
	assert.Empty(t, navigations)

	// Revoke the current token server side; the next request is rejected.
	require.NoError(t, p.Client().Logout(ctx, ""))
	_, err = p.Client().Me(ctx)
	require.Error(t, err)

	assert.Equal(t, session.StatusUnauthenticated, p.Session().Status())
	assert.Equal(t, []string{"/login?redirect=%2Ffavorites"}, navigations)

	require.NoError(t, p.Close())
	p.Bus().Publish(events.Event{Type: events.SessionInvalidated})
	assert.Len(t, navigations, 1)
}

func TestPlatform_RestoresPersistedSession(t *testing.T) {
	b := newTestBackend(t)
	persister := session.NewMemoryPersister()

	first := startPlatform(t, b.config(), WithPersister(persister))
	_, err := first.Session().Login(context.Background(), devserver.DemoEmail, devserver.DemoPassword, true)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := startPlatform(t, b.config(), WithPersister(persister))
	assert.Equal(t, session.StatusAuthenticated, second.Session().Status())
	assert.Equal(t, devserver.DemoEmail, second.Session().Current().User.Email)
}

func TestPlatform_SeedsDataset(t *testing.T) {
	b := newTestBackend(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
pesantren:
  - id: local-1
    name: Pesantren Lokal
    province: Banten
    programs: [Tahfidz]
`), cfgTestFilePerms))

	cfg := b.config()
	cfg.Dataset.Seed = seed
	p := startPlatform(t, cfg)

	got, ok := p.Dataset().Get("local-1")
	require.True(t, ok)
	assert.Equal(t, "Banten", got.Province)
}

func TestPlatform_StartFailsOnMissingSeed(t *testing.T) {
	b := newTestBackend(t)
	cfg := b.config()
	cfg.Dataset.Seed = filepath.Join(t.TempDir(), "missing.yaml")

	p, err := New(WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	err = p.Start(context.Background())
	assert.ErrorContains(t, err, "starting dataset")
	assert.False(t, p.lifecycle.IsStarted())
}

func TestPlatform_FilePersistence(t *testing.T) {
	b := newTestBackend(t)
	cfg := b.config()
	cfg.Session.Persist = PersistFile
	cfg.Session.File = filepath.Join(t.TempDir(), "session.yaml")
	p := startPlatform(t, cfg)

	_, err := p.Session().Login(context.Background(), devserver.DemoEmail, devserver.DemoPassword, true)
	require.NoError(t, err)
	assert.FileExists(t, cfg.Session.File)
}

func TestPlatform_CloseWithoutStart(t *testing.T) {
	b := newTestBackend(t)
	p, err := New(WithConfig(b.config()))
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
