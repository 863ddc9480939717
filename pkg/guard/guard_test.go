package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-pesantren/portal-sub001/pkg/events"
	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

func TestCheck(t *testing.T) {
	g := New(Config{})

	tests := []struct {
		name     string
		target   string
		status   session.Status
		action   Action
		location string
	}{
		{"public page signed out", "/pesantren/p1", session.StatusUnauthenticated, Allow, ""},
		{"public page unknown", "/", session.StatusUnknown, Allow, ""},
		{"protected signed in", "/dashboard", session.StatusAuthenticated, Allow, ""},
		{"protected signed out", "/dashboard", session.StatusUnauthenticated, Redirect, "/login?redirect=%2Fdashboard"},
		{"nested protected", "/profile/edit", session.StatusUnauthenticated, Redirect, "/login?redirect=%2Fprofile%2Fedit"},
		{"protected with query", "/favorites?page=2", session.StatusUnauthenticated, Redirect, "/login?redirect=%2Ffavorites%3Fpage%3D2"},
		{"segment boundary", "/profiles", session.StatusUnauthenticated, Allow, ""},
		{"protected unknown", "/admin", session.StatusUnknown, Wait, ""},
		{"login signed out", "/login", session.StatusUnauthenticated, Allow, ""},
		{"register signed in", "/register", session.StatusAuthenticated, Redirect, "/dashboard"},
		{"login signed in honors redirect", "/login?redirect=%2Ffavorites", session.StatusAuthenticated, Redirect, "/favorites"},
		{"redirect keeps query", "/login?redirect=%2Fprofile%3Ftab%3Dsecurity", session.StatusAuthenticated, Redirect, "/profile?tab=security"},
		{"absolute redirect rejected", "/login?redirect=https%3A%2F%2Fevil.example", session.StatusAuthenticated, Redirect, "/dashboard"},
		{"protocol relative rejected", "/login?redirect=%2F%2Fevil.example", session.StatusAuthenticated, Redirect, "/dashboard"},
		{"backslash rejected", "/login?redirect=%2F%5Cevil.example", session.StatusAuthenticated, Redirect, "/dashboard"},
		{"redirect loop rejected", "/login?redirect=%2Flogin", session.StatusAuthenticated, Redirect, "/dashboard"},
		{"login unknown", "/login", session.StatusUnknown, Wait, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(tt.target, tt.status)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

func TestCheck_CustomConfig(t *testing.T) {
	g := New(Config{Protected: []string{"/akun/"}, LoginPath: "/masuk", LandingPath: "/beranda", AuthEntry: []string{"/masuk"}})

	d := g.Check("/akun/saya", session.StatusUnauthenticated)
	assert.Equal(t, Redirect, d.Action)
	assert.Equal(t, "/masuk?redirect=%2Fakun%2Fsaya", d.Location)

	assert.Equal(t, Allow, g.Check("/dashboard", session.StatusUnauthenticated).Action)
	assert.Equal(t, "/beranda", g.Check("/masuk", session.StatusAuthenticated).Location)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "redirect", Redirect.String())
	assert.Equal(t, "wait", Wait.String())
	assert.Equal(t, "unknown", Action(9).String())
}

func TestMiddleware(t *testing.T) {
	g := New(DefaultConfig())
	status := session.StatusUnauthenticated
	h := g.Middleware(func(*http.Request) session.Status { return status })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
		return rec
	}

	rec := serve("/dashboard/stats")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?redirect=%2Fdashboard%2Fstats", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, serve("/search?q=tahfidz").Code)

	status = session.StatusUnknown
	rec = serve("/admin")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	status = session.StatusAuthenticated
	assert.Equal(t, http.StatusOK, serve("/admin").Code)
	rec = serve("/login")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestWatch(t *testing.T) {
	g := New(DefaultConfig())
	bus := events.NewBus()

	var navigations []string
	current := "/profile?tab=security"
	stop := g.Watch(bus, NavigatorFunc(func(loc string) {
		navigations = append(navigations, loc)
	}), func() string { return current })

	bus.Publish(events.Event{Type: events.SessionInvalidated, Reason: "http_401"})
	require.Len(t, navigations, 1)
	assert.Equal(t, "/login?redirect=%2Fprofile%3Ftab%3Dsecurity", navigations[0])

	current = "/pesantren/p1"
	bus.Publish(events.Event{Type: events.SessionInvalidated})
	require.Len(t, navigations, 2)
	assert.Equal(t, "/login", navigations[1])

	current = "/login"
	bus.Publish(events.Event{Type: events.SessionInvalidated})
	assert.Len(t, navigations, 2)

	current = "/pesantren/p1"
	bus.Publish(events.Event{Type: events.SessionEnded})
	assert.Len(t, navigations, 2)

	current = "/dashboard"
	bus.Publish(events.Event{Type: events.SessionEnded})
	require.Len(t, navigations, 3)
	assert.Equal(t, "/login", navigations[2])

	stop()
	bus.Publish(events.Event{Type: events.SessionInvalidated})
	assert.Len(t, navigations, 3)
}

func TestWatch_IgnoresInvalidationWhileAuthenticated(t *testing.T) {
	g := New(DefaultConfig())
	bus := events.NewBus()

	status := session.StatusAuthenticated
	var navigations []string
	stop := g.Watch(bus, NavigatorFunc(func(loc string) {
		navigations = append(navigations, loc)
	}), func() string { return "/dashboard" }, WithSessionStatus(func() session.Status { return status }))
	defer stop()

	bus.Publish(events.Event{Type: events.SessionInvalidated, Reason: "http_401"})
	assert.Empty(t, navigations)

	status = session.StatusUnauthenticated
	bus.Publish(events.Event{Type: events.SessionInvalidated, Reason: "http_401"})
	assert.Equal(t, []string{"/login?redirect=%2Fdashboard"}, navigations)
}
