package guard

import (
	"net/http"

	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

// Middleware gates HTTP navigations. status reports the current session
// status for the request. Redirects use 302; deferred decisions answer 503
// with Retry-After so the caller retries once hydration finishes.
func (g *Guard) Middleware(status func(*http.Request) session.Status) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(r.URL.RequestURI(), status(r))
			switch d.Action {
			case Redirect:
				http.Redirect(w, r, d.Location, http.StatusFound)
			case Wait:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session is loading", http.StatusServiceUnavailable)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// StoreStatus adapts a session store to Middleware.
func StoreStatus(store *session.Store) func(*http.Request) session.Status {
	return func(*http.Request) session.Status { return store.Status() }
}
