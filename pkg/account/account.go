// Package account defines user identity and the auth request/response
// shapes exchanged with the backend.
package account

import "time"

// Role is a user's role in the directory.
type Role string

// Roles known to the backend.
const (
	RoleParent         Role = "parent"
	RoleAdmin          Role = "admin"
	RolePesantrenAdmin Role = "pesantren_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleAdmin, RolePesantrenAdmin:
		return true
	default:
		return false
	}
}

// CanManagePesantren reports whether the role may edit listings.
func (r Role) CanManagePesantren() bool {
	return r == RoleAdmin || r == RolePesantrenAdmin
}

// User is the authenticated identity.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email" yaml:"email"`
	Phone     string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	Role      Role      `json:"role" yaml:"role"`
	Verified  bool      `json:"is_verified" yaml:"verified"`
	AvatarURL string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"` // #nosec G117 -- credential submitted to the backend, never stored
	RememberMe bool   `json:"remember_me"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	Password        string `json:"password"`              // #nosec G117 -- credential submitted to the backend
	ConfirmPassword string `json:"password_confirmation"` // #nosec G117 -- credential submitted to the backend
	Role            Role   `json:"role"`
	AcceptTerms     bool   `json:"accept_terms"`
}

// ProfileUpdate is the body of PUT /auth/profile. Empty fields are left
// unchanged by the backend.
type ProfileUpdate struct {
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// PasswordChange is the body of PUT /auth/change-password.
type PasswordChange struct {
	CurrentPassword string `json:"current_password"`      // #nosec G117 -- credential submitted to the backend
	NewPassword     string `json:"new_password"`          // #nosec G117 -- credential submitted to the backend
	ConfirmPassword string `json:"password_confirmation"` // #nosec G117 -- credential submitted to the backend
}

// Tokens is the credential material issued by the backend.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// ExpiresIn is the access token lifetime in seconds, 0 if unknown.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// AuthResponse is returned by login, register and refresh.
type AuthResponse struct {
	User User `json:"user"`
	Tokens
}
