package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/events"
)

// DefaultRevalidateTimeout bounds the background check run by Init.
const DefaultRevalidateTimeout = 10 * time.Second

// Minimum password length accepted by the backend.
const minPasswordLength = 8

// Config configures a Store.
type Config struct {
	// StrictRevalidation signs the user out when the startup check fails
	// for any reason, not only when the backend rejects the token.
	StrictRevalidation bool

	// RevalidateTimeout bounds the startup check.
	RevalidateTimeout time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithEventBus subscribes the store to session invalidations and makes it
// publish session start and end events.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the auth session state machine.
type Store struct {
	api       API
	persister Persister
	bus       *events.Bus
	cfg       Config
	now       func() time.Time

	mu       sync.RWMutex
	status   Status
	user     *account.User
	tokens   account.Tokens
	remember bool
	// epoch increments on every transition so background work started
	// under an older state cannot overwrite a newer one.
	epoch uint64

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewStore creates a store in StatusUnknown. Call Init to hydrate it.
func NewStore(api API, persister Persister, cfg Config, opts ...Option) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if cfg.RevalidateTimeout <= 0 {
		cfg.RevalidateTimeout = DefaultRevalidateTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:       api,
		persister: persister,
		cfg:       cfg,
		now:       time.Now,
		subs:      make(map[int]func(Snapshot)),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus != nil {
		s.unsubscribe = s.bus.Subscribe(s.onInvalidated, events.SessionInvalidated)
	}
	return s
}

// Init hydrates the session from the persister. A stored, unexpired
// session is marked Authenticated at once and revalidated in the
// background; anything else leaves the store Unauthenticated.
func (s *Store) Init(ctx context.Context) error {
	access, refresh, user, err := s.load(ctx)
	if err != nil {
		slog.Warn("session: reading persisted session failed", "error", err)
		s.transition(StatusUnauthenticated, nil, account.Tokens{}, false)
		return fmt.Errorf("hydrating session: %w", err)
	}
	if access == "" || user == nil {
		s.transition(StatusUnauthenticated, nil, account.Tokens{}, false)
		return nil
	}
	if tokenExpired(access, s.now()) {
		slog.Info("session: persisted access token expired")
		s.clearPersisted(ctx)
		s.transition(StatusUnauthenticated, nil, account.Tokens{}, false)
		return nil
	}

	epoch := s.transition(StatusAuthenticated, user, account.Tokens{AccessToken: access, RefreshToken: refresh}, true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rctx, cancel := context.WithTimeout(s.ctx, s.cfg.RevalidateTimeout)
		defer cancel()
		_ = s.revalidate(rctx, epoch)
	}()
	return nil
}

func (s *Store) load(ctx context.Context) (string, string, *account.User, error) {
	access, _, err := s.persister.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", "", nil, err
	}
	refresh, _, err := s.persister.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", "", nil, err
	}
	raw, ok, err := s.persister.Get(ctx, KeyUser)
	if err != nil || !ok || raw == "" {
		return access, refresh, nil, err
	}
	var user account.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		slog.Warn("session: discarding unreadable persisted user", "error", err)
		return access, refresh, nil, nil
	}
	return access, refresh, &user, nil
}

// Revalidate asks the backend who the current token belongs to and
// refreshes the stored user.
func (s *Store) Revalidate(ctx context.Context) error {
	s.mu.RLock()
	epoch := s.epoch
	authed := s.status == StatusAuthenticated
	s.mu.RUnlock()
	if !authed {
		return ErrNotAuthenticated
	}
	return s.revalidate(ctx, epoch)
}

func (s *Store) revalidate(ctx context.Context, epoch uint64) error {
	user, err := s.api.Me(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	if err == nil {
		s.user = &user
		s.epoch++
		remember := s.remember
		s.mu.Unlock()

		if remember {
			s.persistUser(ctx, user)
		}
		s.notify()
		return nil
	}
	s.mu.Unlock()

	switch {
	case apierr.Is(err, apierr.KindUnauthorized):
		// Normally already handled through the bus; this covers stores
		// wired without one.
		s.invalidate("revalidation_401", "")
	case s.cfg.StrictRevalidation:
		slog.Warn("session: revalidation failed, signing out", "error", err)
		s.invalidate("revalidation_failed", "")
	default:
		slog.Warn("session: revalidation failed, keeping stored session", "error", err)
	}
	return fmt.Errorf("revalidating session: %w", err)
}

// Login validates the credentials locally, then signs in. With rememberMe
// false the tokens are kept in memory only.
func (s *Store) Login(ctx context.Context, email, password string, rememberMe bool) (account.User, error) {
	var v apierr.Validator
	v.Required("email", email, "Email wajib diisi")
	v.Email("email", email)
	v.Required("password", password, "Password wajib diisi")
	if err := v.Err(); err != nil {
		return account.User{}, err
	}

	resp, err := s.api.Login(ctx, account.LoginRequest{
		Email:      strings.TrimSpace(email),
		Password:   password,
		RememberMe: rememberMe,
	})
	if err != nil {
		return account.User{}, mapAuthError(err)
	}
	s.start(ctx, resp, rememberMe, "login")
	return resp.User, nil
}

// Register validates the form locally, creates the account and signs in.
func (s *Store) Register(ctx context.Context, req account.RegisterRequest) (account.User, error) {
	if req.Role == "" {
		req.Role = account.RoleParent
	}
	req.Email = strings.TrimSpace(req.Email)

	var v apierr.Validator
	v.Required("name", req.Name, "Nama wajib diisi")
	v.Required("email", req.Email, "Email wajib diisi")
	v.Email("email", req.Email)
	v.Phone("phone", req.Phone)
	v.Required("password", req.Password, "Password wajib diisi")
	v.MinLength("password", req.Password, minPasswordLength, "Password minimal 8 karakter")
	v.Check(req.Password == req.ConfirmPassword, "password_confirmation", "Konfirmasi password tidak cocok")
	v.Check(req.Role.Valid(), "role", "Peran tidak valid")
	v.Check(req.AcceptTerms, "accept_terms", "Anda harus menyetujui syarat dan ketentuan")
	if err := v.Err(); err != nil {
		return account.User{}, err
	}

	resp, err := s.api.Register(ctx, req)
	if err != nil {
		return account.User{}, mapAuthError(err)
	}
	s.start(ctx, resp, true, "register")
	return resp.User, nil
}

// mapAuthError narrows failures of login and register to the categories
// shown on auth forms.
func mapAuthError(err error) error {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apierr.New(apierr.KindUnknown, err)
	}

	var kind apierr.Kind
	switch apiErr.Kind {
	case apierr.KindUnauthorized:
		kind = apierr.KindInvalidCredentials
	case apierr.KindForbidden:
		kind = apierr.KindAccountUnverified
	case apierr.KindRateLimited, apierr.KindNetwork, apierr.KindUnprocessable, apierr.KindValidation:
		return err
	default:
		kind = apierr.KindUnknown
	}

	mapped := apierr.New(kind, err)
	mapped.Status = apiErr.Status
	mapped.Detail = apiErr.Detail
	mapped.Fields = apiErr.Fields
	return mapped
}

func (s *Store) start(ctx context.Context, resp account.AuthResponse, remember bool, reason string) {
	user := resp.User
	s.transition(StatusAuthenticated, &user, resp.Tokens, remember)

	if remember {
		s.persist(ctx, resp.Tokens, user)
	} else {
		s.clearPersisted(ctx)
	}
	slog.Info("session: signed in", "user_id", user.ID, "remember", remember, "via", reason)
	s.publish(events.SessionStarted, reason)
}

// Logout signs out. Local state and persisted keys are always cleared,
// even when the backend call fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.tokens.RefreshToken
	hadToken := s.tokens.AccessToken != ""
	s.mu.RUnlock()

	if hadToken {
		if err := s.api.Logout(ctx, refresh); err != nil {
			slog.Warn("session: backend logout failed, clearing locally", "error", err)
		}
	}

	s.clearPersisted(ctx)
	s.transition(StatusUnauthenticated, nil, account.Tokens{}, false)
	slog.Info("session: signed out")
	s.publish(events.SessionEnded, "logout")
	return nil
}

// UpdateProfile updates the signed-in user's profile.
func (s *Store) UpdateProfile(ctx context.Context, update account.ProfileUpdate) (account.User, error) {
	if s.Status() != StatusAuthenticated {
		return account.User{}, ErrNotAuthenticated
	}

	var v apierr.Validator
	v.Phone("phone", update.Phone)
	if err := v.Err(); err != nil {
		return account.User{}, err
	}

	user, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return account.User{}, err
	}

	s.mu.Lock()
	s.user = &user
	s.epoch++
	remember := s.remember
	s.mu.Unlock()

	if remember {
		s.persistUser(ctx, user)
	}
	s.notify()
	return user, nil
}

// ChangePassword changes the signed-in user's password.
func (s *Store) ChangePassword(ctx context.Context, change account.PasswordChange) error {
	if s.Status() != StatusAuthenticated {
		return ErrNotAuthenticated
	}

	var v apierr.Validator
	v.Required("current_password", change.CurrentPassword, "Password saat ini wajib diisi")
	v.Required("new_password", change.NewPassword, "Password baru wajib diisi")
	v.MinLength("new_password", change.NewPassword, minPasswordLength, "Password minimal 8 karakter")
	v.Check(change.NewPassword == change.ConfirmPassword, "password_confirmation", "Konfirmasi password tidak cocok")
	if err := v.Err(); err != nil {
		return err
	}
	return s.api.ChangePassword(ctx, change)
}

func (s *Store) onInvalidated(e events.Event) {
	s.invalidate(e.Reason, e.TokenDigest)
}

// invalidate drops the session after the backend rejected it. A non-empty
// tokenDigest names the rejected token; the session is kept when it has
// since moved on to a different token.
func (s *Store) invalidate(reason, tokenDigest string) {
	s.mu.Lock()
	if s.status == StatusUnauthenticated {
		s.mu.Unlock()
		return
	}
	if tokenDigest != "" && tokenDigest != events.TokenDigest(s.tokens.AccessToken) {
		s.mu.Unlock()
		slog.Debug("session: ignoring rejection of a replaced token", "reason", reason, "token", tokenDigest)
		return
	}
	s.status = StatusUnauthenticated
	s.user = nil
	s.tokens = account.Tokens{}
	s.remember = false
	s.epoch++
	s.mu.Unlock()

	slog.Info("session: invalidated", "reason", reason)
	s.clearPersisted(s.ctx)
	s.notify()
}

// transition replaces the state and notifies subscribers. It returns the
// new epoch.
func (s *Store) transition(status Status, user *account.User, tokens account.Tokens, remember bool) uint64 {
	s.mu.Lock()
	s.status = status
	s.user = user
	s.tokens = tokens
	s.remember = remember
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	s.notify()
	return epoch
}

func (s *Store) persist(ctx context.Context, tokens account.Tokens, user account.User) {
	if err := s.persister.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		slog.Warn("session: persisting access token failed", "error", err)
		return
	}
	if tokens.RefreshToken != "" {
		if err := s.persister.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
			slog.Warn("session: persisting refresh token failed", "error", err)
		}
	} else if err := s.persister.Delete(ctx, KeyRefreshToken); err != nil {
		slog.Warn("session: clearing refresh token failed", "error", err)
	}
	s.persistUser(ctx, user)
}

func (s *Store) persistUser(ctx context.Context, user account.User) {
	data, err := json.Marshal(user)
	if err != nil {
		slog.Warn("session: encoding user failed", "error", err)
		return
	}
	if err := s.persister.Set(ctx, KeyUser, string(data)); err != nil {
		slog.Warn("session: persisting user failed", "error", err)
	}
}

func (s *Store) clearPersisted(ctx context.Context) {
	if err := s.persister.Delete(context.WithoutCancel(ctx), AllKeys...); err != nil {
		slog.Warn("session: clearing persisted session failed", "error", err)
	}
}

func (s *Store) publish(t events.Type, reason string) {
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: t, Reason: reason})
	}
}

// AccessToken returns the current access token, "" when signed out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.RefreshToken
}

// Status returns the current state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Current returns a snapshot of the session.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Status: s.status}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Subscribe registers fn for every state change. The returned function
// unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *Store) notify() {
	snap := s.Current()

	s.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Close stops background revalidation and detaches from the event bus.
func (s *Store) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}
