// Package guard decides whether a navigation may proceed given the
// current session status.
package guard

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/portal-pesantren/portal-sub001/pkg/events"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

// Default route table.
const (
	DefaultLoginPath   = "/login"
	DefaultLandingPath = "/dashboard"
	RedirectParam      = "redirect"
)

// DefaultProtected returns the path prefixes that require a session.
func DefaultProtected() []string {
	return []string{"/dashboard", "/profile", "/admin", "/favorites"}
}

// DefaultAuthEntry returns the paths signed-in users are sent away from.
func DefaultAuthEntry() []string {
	return []string{"/login", "/register"}
}

// Action is the outcome of a check.
type Action int

// Actions.
const (
	// Allow lets the navigation proceed.
	Allow Action = iota
	// Redirect sends the user to Decision.Location instead.
	Redirect
	// Wait defers the decision until the session status is known.
	Wait
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Wait:
		return "wait"
	default:
		return "unknown"
	}
}

// Decision is the result of Check.
type Decision struct {
	Action   Action
	Location string
}

// Config holds the route table.
type Config struct {
	Protected   []string `yaml:"protected"`
	AuthEntry   []string `yaml:"auth_entry"`
	LoginPath   string   `yaml:"login_path"`
	LandingPath string   `yaml:"landing_path"`
}

// DefaultConfig returns the standard route table.
func DefaultConfig() Config {
	return Config{
		Protected:   DefaultProtected(),
		AuthEntry:   DefaultAuthEntry(),
		LoginPath:   DefaultLoginPath,
		LandingPath: DefaultLandingPath,
	}
}

// Guard evaluates navigations against a route table. It holds no state
// beyond its configuration.
type Guard struct {
	cfg Config
}

// New creates a guard. Empty fields of cfg take their defaults.
func New(cfg Config) *Guard {
	def := DefaultConfig()
	if len(cfg.Protected) == 0 {
		cfg.Protected = def.Protected
	}
	if len(cfg.AuthEntry) == 0 {
		cfg.AuthEntry = def.AuthEntry
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = def.LandingPath
	}
	return &Guard{cfg: cfg}
}

// Check decides a navigation to target, a path with optional query.
//
// Protected paths require StatusAuthenticated and otherwise redirect to the
// login path with the original target as the redirect parameter. Auth
// entry paths redirect authenticated users to the redirect parameter when
// it is a safe relative path, else to the landing path. While the status is
// still unknown, protected and auth entry paths are deferred.
func (g *Guard) Check(target string, status session.Status) Decision {
	path, query := splitTarget(target)

	switch {
	case g.IsProtected(path):
		switch status {
		case session.StatusAuthenticated:
			return Decision{Action: Allow}
		case session.StatusUnknown:
			return Decision{Action: Wait}
		default:
			return Decision{Action: Redirect, Location: g.LoginURL(target)}
		}
	case g.isAuthEntry(path):
		switch status {
		case session.StatusAuthenticated:
			return Decision{Action: Redirect, Location: g.resolveRedirect(query.Get(RedirectParam))}
		case session.StatusUnknown:
			return Decision{Action: Wait}
		default:
			return Decision{Action: Allow}
		}
	default:
		return Decision{Action: Allow}
	}
}

// IsProtected reports whether path falls under a protected prefix.
func (g *Guard) IsProtected(path string) bool {
	for _, prefix := range g.cfg.Protected {
		if matchPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Guard) isAuthEntry(path string) bool {
	for _, p := range g.cfg.AuthEntry {
		if matchPrefix(path, p) {
			return true
		}
	}
	return false
}

// LoginURL returns the login path carrying target as the return path.
func (g *Guard) LoginURL(target string) string {
	if target == "" || target == "/" {
		return g.cfg.LoginPath
	}
	return g.cfg.LoginPath + "?" + url.Values{RedirectParam: {target}}.Encode()
}

// resolveRedirect accepts only local paths that are not themselves auth
// entry paths.
func (g *Guard) resolveRedirect(raw string) string {
	next := strings.TrimSpace(raw)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return g.cfg.LandingPath
	}
	parsed, err := url.Parse(next)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" || parsed.Path == "" {
		return g.cfg.LandingPath
	}
	if g.isAuthEntry(parsed.Path) {
		return g.cfg.LandingPath
	}
	if parsed.RawQuery != "" {
		return parsed.Path + "?" + parsed.RawQuery
	}
	return parsed.Path
}

// matchPrefix matches whole path segments, so /profile covers
// /profile/edit but not /profiles.
func matchPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func splitTarget(target string) (string, url.Values) {
	path, rawQuery, _ := strings.Cut(target, "?")
	if path == "" {
		path = "/"
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	return path, query
}

// Navigator performs a navigation on behalf of the guard.
type Navigator interface {
	Navigate(location string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(location string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(location string) { f(location) }

// WatchOption configures Watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	status func() session.Status
}

// WithSessionStatus makes Watch ignore invalidations that left the session
// authenticated, such as a rejection of a token that was already replaced.
// The session store must be subscribed to the bus before Watch is called.
func WithSessionStatus(status func() session.Status) WatchOption {
	return func(o *watchOptions) { o.status = status }
}

// Watch redirects to login when the session is invalidated, and when the
// user signs out while on a protected path. current returns the location
// the user is on. The returned function stops watching.
func (g *Guard) Watch(bus *events.Bus, nav Navigator, current func() string, opts ...WatchOption) func() {
	var o watchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return bus.Subscribe(func(e events.Event) {
		target := current()
		path, _ := splitTarget(target)

		switch e.Type {
		case events.SessionInvalidated:
			if path == g.cfg.LoginPath {
				return
			}
			if o.status != nil && o.status() == session.StatusAuthenticated {
				slog.Debug("guard: session still valid, staying", "path", path, "reason", e.Reason)
				return
			}
			slog.Info("guard: session invalidated, redirecting to login", "from", path, "reason", e.Reason)
			if g.IsProtected(path) {
				nav.Navigate(g.LoginURL(target))
				return
			}
			nav.Navigate(g.cfg.LoginPath)
		case events.SessionEnded:
			if g.IsProtected(path) {
				nav.Navigate(g.cfg.LoginPath)
			}
		}
	}, events.SessionInvalidated, events.SessionEnded)
}
