// Package session owns the signed-in state of the client: who the user
// is, which tokens authorize requests, and whether those survive a
// restart. State moves Unknown -> Authenticated | Unauthenticated and is
// changed only through Store methods or a session-invalidated event.
package session

import (
	"context"
	"errors"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
)

// Status is the session state.
type Status int

// Session states.
const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

// String returns the lower-case state name.
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Keys under which session data is persisted.
const (
	KeyAccessToken  = "portal.access_token"
	KeyRefreshToken = "portal.refresh_token"
	KeyUser         = "portal.user"
)

// AllKeys lists every persisted key.
var AllKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Snapshot is a copy of the session state at one point in time.
type Snapshot struct {
	Status Status
	User   *account.User
}

// Authenticated reports whether the snapshot is signed in.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Persister stores session values across restarts.
type Persister interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// API is the subset of the backend client the store calls.
type API interface {
	Login(ctx context.Context, req account.LoginRequest) (account.AuthResponse, error)
	Register(ctx context.Context, req account.RegisterRequest) (account.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (account.User, error)
	UpdateProfile(ctx context.Context, update account.ProfileUpdate) (account.User, error)
	ChangePassword(ctx context.Context, change account.PasswordChange) error
}
