package platform

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/portal-pesantren/portal-sub001/pkg/guard"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is the database connection (optional, opened from config if not provided).
	DB *sql.DB

	// HTTPClient replaces the API client's transport (optional).
	HTTPClient *http.Client

	// Persister stores session tokens (optional, created from config if not provided).
	Persister session.Persister

	// Clock overrides the session store's time source (optional).
	Clock func() time.Time

	// Navigator receives the guard's redirects when the session is
	// invalidated or ended (optional). Location reports where the user is.
	Navigator guard.Navigator
	Location  func() string
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection. The platform does not close it.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithHTTPClient sets the HTTP client used to reach the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = hc
	}
}

// WithPersister sets the session persister.
func WithPersister(p session.Persister) Option {
	return func(o *Options) {
		o.Persister = p
	}
}

// WithClock sets the session store's time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

// WithNavigator has the route guard redirect through nav when the session
// is invalidated or ended. location returns the current path with query.
func WithNavigator(nav guard.Navigator, location func() string) Option {
	return func(o *Options) {
		o.Navigator = nav
		o.Location = location
	}
}
