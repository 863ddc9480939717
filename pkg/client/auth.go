package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
)

const (
	pathLogin          = "/auth/login"
	pathRegister       = "/auth/register"
	pathLogout         = "/auth/logout"
	pathMe             = "/auth/me"
	pathProfile        = "/auth/profile"
	pathChangePassword = "/auth/change-password"
	pathRefresh        = "/auth/refresh"
)

// Login exchanges credentials for tokens. A 401 here means wrong
// credentials and does not publish a session invalidation.
func (c *Client) Login(ctx context.Context, req account.LoginRequest) (account.AuthResponse, error) {
	var out account.AuthResponse
	if _, err := c.do(ctx, request{
		method:          http.MethodPost,
		path:            pathLogin,
		body:            req,
		credentialCheck: true,
	}, &out); err != nil {
		return account.AuthResponse{}, fmt.Errorf("logging in: %w", err)
	}
	return out, nil
}

// Register creates an account and returns its first tokens.
func (c *Client) Register(ctx context.Context, req account.RegisterRequest) (account.AuthResponse, error) {
	var out account.AuthResponse
	if _, err := c.do(ctx, request{
		method:          http.MethodPost,
		path:            pathRegister,
		body:            req,
		credentialCheck: true,
	}, &out); err != nil {
		return account.AuthResponse{}, fmt.Errorf("registering: %w", err)
	}
	return out, nil
}

// Logout revokes the current tokens on the backend.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var body any
	if refreshToken != "" {
		body = map[string]string{"refresh_token": refreshToken}
	}
	// A 401 on logout is expected for already-expired sessions.
	if _, err := c.do(ctx, request{
		method:          http.MethodPost,
		path:            pathLogout,
		body:            body,
		credentialCheck: true,
	}, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (account.User, error) {
	var user account.User
	if _, err := c.do(ctx, request{method: http.MethodGet, path: pathMe}, &user); err != nil {
		return account.User{}, fmt.Errorf("fetching current user: %w", err)
	}
	return user, nil
}

// UpdateProfile updates the current user's profile.
func (c *Client) UpdateProfile(ctx context.Context, update account.ProfileUpdate) (account.User, error) {
	var user account.User
	if _, err := c.do(ctx, request{method: http.MethodPut, path: pathProfile, body: update}, &user); err != nil {
		return account.User{}, fmt.Errorf("updating profile: %w", err)
	}
	return user, nil
}

// ChangePassword changes the current user's password.
func (c *Client) ChangePassword(ctx context.Context, change account.PasswordChange) error {
	if _, err := c.do(ctx, request{method: http.MethodPut, path: pathChangePassword, body: change}, nil); err != nil {
		return fmt.Errorf("changing password: %w", err)
	}
	return nil
}

// Refresh exchanges a refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (account.AuthResponse, error) {
	var out account.AuthResponse
	if _, err := c.do(ctx, request{
		method:          http.MethodPost,
		path:            pathRefresh,
		body:            map[string]string{"refresh_token": refreshToken},
		credentialCheck: true,
	}, &out); err != nil {
		return account.AuthResponse{}, fmt.Errorf("refreshing token: %w", err)
	}
	return out, nil
}
