// Package devserver is an in-memory implementation of the directory REST
// API. It backs the CLI's devserver command and the end-to-end tests of
// the client packages.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

const (
	// DefaultPrefix is the path the API is mounted under.
	DefaultPrefix = "/api/v1"

	// DefaultIssuer is the iss claim of issued tokens.
	DefaultIssuer = "portal-devserver"

	defaultSubsetLimit = 6
	defaultSearchLimit = 20
)

// Config configures the development server.
type Config struct {
	// Prefix is the path the API is served under.
	Prefix string

	// SigningKey signs HS256 access tokens. Required.
	SigningKey []byte

	// Issuer is the iss claim of issued tokens.
	Issuer string

	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL time.Duration

	// MaxLoginAttempts answers 429 after this many consecutive failed logins
	// for one email. Zero disables the limit.
	MaxLoginAttempts int

	// Latency delays every response.
	Latency time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the server's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server serves the directory API from memory.
type Server struct {
	cfg      Config
	now      func() time.Time
	mux      *http.ServeMux
	accounts *accounts
	dir      *directory

	attemptsMu sync.Mutex
	attempts   map[string]int
}

// New creates a server with no listings and no users.
func New(cfg Config, opts ...Option) (*Server, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("devserver: signing key is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 1 * time.Hour
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 24 * time.Hour * 30 // 30 days
	}

	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		mux:      http.NewServeMux(),
		attempts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.accounts = newAccounts(cfg.Issuer, cfg.SigningKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, s.now)
	s.dir = newDirectory(s.now)
	s.registerRoutes()
	return s, nil
}

// LoadPesantren adds or replaces listings.
func (s *Server) LoadPesantren(items ...pesantren.Pesantren) {
	s.dir.load(items)
}

// AddUser creates an account.
func (s *Server) AddUser(seed UserSeed) (account.User, error) {
	return s.accounts.create(seed)
}

// Prefix returns the path the API is served under.
func (s *Server) Prefix() string {
	return s.cfg.Prefix
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-r.Context().Done():
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	p := s.cfg.Prefix
	s.mux.HandleFunc("GET "+p+"/pesantren", s.handleList)
	s.mux.HandleFunc("GET "+p+"/pesantren/search", s.handleSearch)
	s.mux.HandleFunc("GET "+p+"/pesantren/featured", s.handleFeatured)
	s.mux.HandleFunc("GET "+p+"/pesantren/popular", s.handlePopular)
	s.mux.HandleFunc("GET "+p+"/pesantren/stats", s.handleStats)
	s.mux.HandleFunc("GET "+p+"/pesantren/{id}", s.handleGet)
	s.mux.Handle("PUT "+p+"/pesantren/{id}", s.requireUser(s.handleUpdate))
	s.mux.HandleFunc("GET "+p+"/about", s.handleAbout)
	s.mux.Handle("PUT "+p+"/about", s.requireUser(s.handleUpdateAbout))

	s.mux.HandleFunc("POST "+p+"/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST "+p+"/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST "+p+"/auth/refresh", s.handleRefresh)
	s.mux.Handle("POST "+p+"/auth/logout", s.requireUser(s.handleLogout))
	s.mux.Handle("GET "+p+"/auth/me", s.requireUser(s.handleMe))
	s.mux.Handle("PUT "+p+"/auth/profile", s.requireUser(s.handleProfile))
	s.mux.Handle("PUT "+p+"/auth/change-password", s.requireUser(s.handleChangePassword))
}

// StartCleanupRoutine periodically drops expired refresh tokens and
// revocations until ctx is done.
func (s *Server) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.accounts.cleanup(ctx)
			}
		}
	}()
}

type userKey struct{}

type principal struct {
	user account.User
	jti  string
}

// requireUser authenticates the bearer token and passes the user on.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		sub, jti, err := s.accounts.verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token is invalid or expired", nil)
			return
		}
		user, err := s.accounts.user(sub)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token is invalid or expired", nil)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, principal{user: user, jti: jti})
		next(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) principal {
	p, _ := r.Context().Value(userKey{}).(principal)
	return p
}

// response is the standard success envelope.
type response struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message,omitempty"`
	Data       any                   `json:"data,omitempty"`
	Errors     map[string][]string   `json:"errors,omitempty"`
	Pagination *pesantren.Pagination `json:"pagination,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string, fields map[string][]string) {
	writeJSON(w, status, response{Success: false, Message: msg, Errors: fields})
}

// writeValidation answers 422 with the field errors of err, or 400 when
// err carries none.
func writeValidation(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation failed", apiErr.Fields)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return false
	}
	return true
}

func limitParam(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return min(n, pesantren.MaxPageSize)
	}
	return def
}

func logRequest(r *http.Request, msg string, args ...any) {
	slog.Debug("devserver: "+msg, append([]any{"method", r.Method, "path", r.URL.Path}, args...)...)
}
