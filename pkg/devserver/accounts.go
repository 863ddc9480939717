package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
)

// Account errors.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnverified         = errors.New("account not verified")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
)

// Seed account used by DefaultUsers.
const (
	DemoEmail    = "demo@portalpesantren.id"
	DemoPassword = "bismillah123"
	AdminEmail   = "admin@portalpesantren.id"
)

// UserSeed describes an account created at startup.
type UserSeed struct {
	Name     string       `yaml:"name"`
	Email    string       `yaml:"email"`
	Phone    string       `yaml:"phone"`
	Password string       `yaml:"password"` // #nosec G117 -- development fixture
	Role     account.Role `yaml:"role"`
	Verified bool         `yaml:"verified"`
}

// DefaultUsers returns the development accounts: a verified parent, an
// admin and an unverified parent.
func DefaultUsers() []UserSeed {
	return []UserSeed{
		{Name: "Demo Wali Santri", Email: DemoEmail, Password: DemoPassword, Role: account.RoleParent, Verified: true},
		{Name: "Admin Portal", Email: AdminEmail, Password: DemoPassword, Role: account.RoleAdmin, Verified: true},
		{Name: "Belum Verifikasi", Email: "pending@portalpesantren.id", Password: DemoPassword, Role: account.RoleParent},
	}
}

type storedUser struct {
	account.User
	passwordHash []byte
}

type refreshToken struct {
	userID    string
	expiresAt time.Time
}

// accounts is the in-memory user and token store.
type accounts struct {
	issuer     string
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	users   map[string]*storedUser
	byEmail map[string]string
	refresh map[string]refreshToken
	// revoked holds the jti of signed-out access tokens until they expire.
	revoked map[string]time.Time
}

func newAccounts(issuer string, key []byte, accessTTL, refreshTTL time.Duration, now func() time.Time) *accounts {
	return &accounts{
		issuer:     issuer,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		users:      make(map[string]*storedUser),
		byEmail:    make(map[string]string),
		refresh:    make(map[string]refreshToken),
		revoked:    make(map[string]time.Time),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// create stores a new user with a bcrypt password hash.
func (a *accounts) create(seed UserSeed) (account.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
	if err != nil {
		return account.User{}, fmt.Errorf("hashing password: %w", err)
	}
	role := seed.Role
	if role == "" {
		role = account.RoleParent
	}

	email := normalizeEmail(seed.Email)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.byEmail[email]; exists {
		return account.User{}, ErrEmailTaken
	}
	u := &storedUser{
		User: account.User{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(seed.Name),
			Email:     email,
			Phone:     seed.Phone,
			Role:      role,
			Verified:  seed.Verified,
			CreatedAt: a.now().UTC(),
		},
		passwordHash: hash,
	}
	a.users[u.ID] = u
	a.byEmail[email] = u.ID
	return u.User, nil
}

// authenticate checks email and password.
func (a *accounts) authenticate(email, password string) (account.User, error) {
	a.mu.RLock()
	id, ok := a.byEmail[normalizeEmail(email)]
	var u storedUser
	if ok {
		u = *a.users[id]
	}
	a.mu.RUnlock()

	if !ok {
		return account.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return account.User{}, ErrInvalidCredentials
	}
	if !u.Verified {
		return account.User{}, ErrUnverified
	}
	return u.User, nil
}

func (a *accounts) user(id string) (account.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[id]
	if !ok {
		return account.User{}, ErrUserNotFound
	}
	return u.User, nil
}

func (a *accounts) updateProfile(id string, update account.ProfileUpdate) (account.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[id]
	if !ok {
		return account.User{}, ErrUserNotFound
	}
	if name := strings.TrimSpace(update.Name); name != "" {
		u.Name = name
	}
	if update.Phone != "" {
		u.Phone = update.Phone
	}
	if update.AvatarURL != "" {
		u.AvatarURL = update.AvatarURL
	}
	return u.User, nil
}

func (a *accounts) changePassword(id, current, next string) error {
	a.mu.RLock()
	u, ok := a.users[id]
	var hash []byte
	if ok {
		hash = u.passwordHash
	}
	a.mu.RUnlock()
	if !ok {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	a.mu.Lock()
	u.passwordHash = newHash
	a.mu.Unlock()
	return nil
}

// issue signs an access token and stores a fresh refresh token.
func (a *accounts) issue(u account.User) (account.Tokens, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"iss":   a.issuer,
		"sub":   u.ID,
		"email": u.Email,
		"name":  u.Name,
		"role":  string(u.Role),
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(a.accessTTL).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return account.Tokens{}, fmt.Errorf("signing access token: %w", err)
	}

	refresh := rand.Text()
	a.mu.Lock()
	a.refresh[refresh] = refreshToken{userID: u.ID, expiresAt: now.Add(a.refreshTTL)}
	a.mu.Unlock()

	return account.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.accessTTL.Seconds()),
	}, nil
}

// verify validates an access token and returns its subject and jti.
func (a *accounts) verify(token string) (string, string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" {
		return "", "", ErrInvalidToken
	}

	a.mu.RLock()
	_, revoked := a.revoked[jti]
	a.mu.RUnlock()
	if revoked {
		return "", "", ErrInvalidToken
	}
	return sub, jti, nil
}

// rotate exchanges a refresh token for new tokens. The old one is consumed.
func (a *accounts) rotate(refresh string) (account.User, account.Tokens, error) {
	a.mu.Lock()
	rt, ok := a.refresh[refresh]
	delete(a.refresh, refresh)
	a.mu.Unlock()

	if !ok || a.now().After(rt.expiresAt) {
		return account.User{}, account.Tokens{}, ErrInvalidToken
	}
	u, err := a.user(rt.userID)
	if err != nil {
		return account.User{}, account.Tokens{}, ErrInvalidToken
	}
	tokens, err := a.issue(u)
	if err != nil {
		return account.User{}, account.Tokens{}, err
	}
	return u, tokens, nil
}

// revoke invalidates an access token by jti and an optional refresh token.
func (a *accounts) revoke(jti, refresh string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if jti != "" {
		a.revoked[jti] = a.now().Add(a.accessTTL)
	}
	if refresh != "" {
		delete(a.refresh, refresh)
	}
}

// cleanup drops expired refresh tokens and revocations.
func (a *accounts) cleanup(_ context.Context) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for token, rt := range a.refresh {
		if now.After(rt.expiresAt) {
			delete(a.refresh, token)
		}
	}
	for jti, until := range a.revoked {
		if now.After(until) {
			delete(a.revoked, jti)
		}
	}
}

func (a *accounts) counts() (users, refresh, revoked int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users), len(a.refresh), len(a.revoked)
}
