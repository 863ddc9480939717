// Package platform assembles the directory client: HTTP adapter, entity
// cache, search coordinator, session store and route guard, configured
// from a single Config.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	_ "github.com/lib/pq" // postgres driver

	"github.com/portal-pesantren/portal-sub001/pkg/cache"
	"github.com/portal-pesantren/portal-sub001/pkg/catalog"
	"github.com/portal-pesantren/portal-sub001/pkg/client"
	"github.com/portal-pesantren/portal-sub001/pkg/database/migrate"
	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	datasetpg "github.com/portal-pesantren/portal-sub001/pkg/dataset/postgres"
	"github.com/portal-pesantren/portal-sub001/pkg/events"
	"github.com/portal-pesantren/portal-sub001/pkg/guard"
	"github.com/portal-pesantren/portal-sub001/pkg/search"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
	sessionpg "github.com/portal-pesantren/portal-sub001/pkg/session/postgres"
)

// Platform is the main platform facade.
type Platform struct {
	config    *Config
	lifecycle *Lifecycle

	bus     *events.Bus
	client  *client.Client
	cache   *cache.Cache
	catalog *catalog.Catalog
	search  *search.Coordinator
	session *session.Store
	guard   *guard.Guard

	dataset   *dataset.Memory
	mirrored  *dataset.Mirrored
	persister session.Persister

	db     *sql.DB
	ownsDB bool

	unsubscribe func()
	unwatch     func()
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		bus:       events.NewBus(),
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.closeDB()
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	if err := p.initClient(opts); err != nil {
		return err
	}
	if err := p.initSession(opts); err != nil {
		return err
	}
	if err := p.initCatalog(); err != nil {
		return err
	}
	p.initSearch()
	p.initGuard(opts)
	p.finalizeSetup()
	return nil
}

// initGuard creates the route guard and, when a navigator is supplied,
// redirects through it on session invalidation. The session store is
// already subscribed, so stale rejections it ignored do not redirect.
func (p *Platform) initGuard(opts *Options) {
	p.guard = guard.New(p.config.Guard)
	if opts.Navigator == nil {
		return
	}
	location := opts.Location
	if location == nil {
		location = func() string { return "/" }
	}
	p.unwatch = p.guard.Watch(p.bus, opts.Navigator, location,
		guard.WithSessionStatus(p.session.Status))
}

// initDatabase opens the configured database and applies migrations.
func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
	} else if p.config.Database.DSN != "" {
		db, err := sql.Open("postgres", p.config.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
		p.db = db
		p.ownsDB = true
	}

	if p.db != nil && p.config.Database.AutoMigrate {
		if err := migrate.Run(p.db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}
	return nil
}

// initClient creates the HTTP adapter. Tokens are read from the session
// store, which is created afterwards.
func (p *Platform) initClient(opts *Options) error {
	clientOpts := []client.Option{
		client.WithEventBus(p.bus),
		client.WithTokenSource(client.TokenSourceFunc(func() string {
			if p.session == nil {
				return ""
			}
			return p.session.AccessToken()
		})),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(opts.HTTPClient))
	}

	c, err := client.New(client.Config{
		BaseURL:   p.config.API.BaseURL,
		Timeout:   p.config.API.Timeout,
		UserAgent: p.config.API.UserAgent,
	}, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	p.client = c
	return nil
}

// initSession creates the persister and the session store.
func (p *Platform) initSession(opts *Options) error {
	persister, err := p.createPersister(opts)
	if err != nil {
		return err
	}
	p.persister = persister

	storeOpts := []session.Option{session.WithEventBus(p.bus)}
	if opts.Clock != nil {
		storeOpts = append(storeOpts, session.WithClock(opts.Clock))
	}
	p.session = session.NewStore(p.client, persister, session.Config{
		StrictRevalidation: p.config.Session.StrictRevalidation,
		RevalidateTimeout:  p.config.Session.RevalidateTimeout,
	}, storeOpts...)
	p.lifecycle.AddCloser("session", p.session)
	return nil
}

func (p *Platform) createPersister(opts *Options) (session.Persister, error) {
	if opts.Persister != nil {
		return opts.Persister, nil
	}

	switch p.config.Session.Persist {
	case PersistMemory:
		return session.NewMemoryPersister(), nil
	case PersistFile:
		return session.NewFilePersister(p.config.Session.File), nil
	case PersistPostgres:
		if p.db == nil {
			return nil, fmt.Errorf("postgres session persistence requires a database")
		}
		store := sessionpg.New(p.db, sessionpg.Config{
			Profile: p.config.Session.Profile,
			TTL:     p.config.Session.TTL,
		})
		interval := p.config.Session.CleanupInterval
		p.lifecycle.Add("session-cleanup",
			func(context.Context) error {
				if p.config.Session.TTL > 0 && interval > 0 {
					store.StartCleanupRoutine(interval)
				}
				return nil
			},
			func(context.Context) error { return store.Close() },
		)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session persistence %q", p.config.Session.Persist)
	}
}

// initCatalog creates the cache, the fallback dataset and the catalog.
func (p *Platform) initCatalog() error {
	p.cache = cache.New(cache.Config{
		GCWindow: p.config.Cache.GCWindow,
		Retry:    p.config.Cache.RetryPolicy(),
	})
	p.lifecycle.Add("cache",
		func(context.Context) error {
			p.cache.Start()
			return nil
		},
		func(context.Context) error { return p.cache.Close() },
	)

	p.dataset = dataset.NewMemory(p.config.Dataset.Capacity)
	var store dataset.Store = p.dataset
	backing, err := p.createDatasetBacking()
	if err != nil {
		return err
	}
	if backing != nil {
		p.mirrored = dataset.NewMirrored(p.dataset, backing)
		store = p.mirrored
	}
	p.lifecycle.Add("dataset", p.loadDataset, nil)

	p.catalog = catalog.New(p.client, p.cache,
		catalog.WithWindows(p.config.Cache.Windows),
		catalog.WithDataset(store),
	)
	return nil
}

// createDatasetBacking returns the durable copy of the fallback dataset,
// or nil when the dataset lives in memory only.
func (p *Platform) createDatasetBacking() (dataset.Store, error) {
	switch p.config.Dataset.Persist {
	case PersistMemory:
		return nil, nil
	case PersistFile:
		return dataset.NewFile(p.config.Dataset.File, p.config.Dataset.Capacity), nil
	case PersistPostgres:
		if p.db == nil {
			return nil, fmt.Errorf("postgres dataset persistence requires a database")
		}
		return datasetpg.New(p.db, datasetpg.Config{Capacity: p.config.Dataset.Capacity}), nil
	default:
		return nil, fmt.Errorf("unknown dataset persistence %q", p.config.Dataset.Persist)
	}
}

// loadDataset restores the persisted snapshot and applies the seed file.
func (p *Platform) loadDataset(ctx context.Context) error {
	if p.mirrored != nil {
		n, err := p.mirrored.Restore(ctx)
		if err != nil {
			slog.Warn("restoring dataset snapshot failed", "error", err)
		} else {
			slog.Debug("restored dataset snapshot", "count", n)
		}
	}
	if p.config.Dataset.Seed == "" {
		return nil
	}

	var store dataset.Store = p.dataset
	if p.mirrored != nil {
		store = p.mirrored
	}
	n, err := dataset.Seed(ctx, store, p.config.Dataset.Seed)
	if err != nil {
		return fmt.Errorf("seeding dataset: %w", err)
	}
	slog.Info("seeded dataset", "path", p.config.Dataset.Seed, "count", n)
	return nil
}

// initSearch creates the search coordinator over the catalog and the
// fallback dataset.
func (p *Platform) initSearch() {
	resolver := search.NewFallbackResolver(p.catalog.Search, p.dataset, p.config.Search.Limit)
	p.search = search.NewCoordinator(resolver,
		search.WithDebouncer(search.NewDebouncer(p.config.Search.Debounce)),
	)
	p.lifecycle.AddCloser("search", p.search)
}

// finalizeSetup drops cached data when the session ends so nothing fetched
// with the previous credentials is served afterwards.
func (p *Platform) finalizeSetup() {
	p.unsubscribe = p.bus.Subscribe(func(e events.Event) {
		p.cache.Clear()
		slog.Debug("cache cleared", "event", string(e.Type), "reason", e.Reason)
	}, events.SessionEnded, events.SessionInvalidated)
}

// Start starts background work and restores the session.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	// An unreadable session leaves the store signed out.
	if err := p.session.Init(ctx); err != nil {
		slog.Warn("restoring session failed", "error", err)
	}
	return nil
}

// Stop stops background work.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Bus returns the event bus shared by all components.
func (p *Platform) Bus() *events.Bus {
	return p.bus
}

// Client returns the HTTP adapter.
func (p *Platform) Client() *client.Client {
	return p.client
}

// Cache returns the entity cache.
func (p *Platform) Cache() *cache.Cache {
	return p.cache
}

// Catalog returns the cached entity fetchers.
func (p *Platform) Catalog() *catalog.Catalog {
	return p.catalog
}

// Search returns the search coordinator.
func (p *Platform) Search() *search.Coordinator {
	return p.search
}

// Session returns the auth session store.
func (p *Platform) Session() *session.Store {
	return p.session
}

// Guard returns the route guard.
func (p *Platform) Guard() *guard.Guard {
	return p.guard
}

// Dataset returns the local fallback dataset.
func (p *Platform) Dataset() *dataset.Memory {
	return p.dataset
}

// DB returns the database connection, nil when none is configured.
func (p *Platform) DB() *sql.DB {
	return p.db
}

// closeResource closes a resource and appends any error.
func closeResource(result **multierror.Error, name string, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*result = multierror.Append(*result, fmt.Errorf("closing %s: %w", name, err))
	}
}

func (p *Platform) closeDB() error {
	if p.db == nil || !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

// Close stops the platform and closes all platform resources.
func (p *Platform) Close() error {
	var result *multierror.Error

	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.unwatch != nil {
		p.unwatch()
	}
	if p.lifecycle.IsStarted() {
		if err := p.lifecycle.Stop(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
	} else {
		closeResource(&result, "search", p.search)
		closeResource(&result, "session", p.session)
		closeResource(&result, "cache", p.cache)
	}
	if err := p.closeDB(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing database: %w", err))
	}

	return result.ErrorOrNil()
}
