package devserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

const minPasswordLength = 8

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page := s.dir.list(pesantren.ParseListValues(r.URL.Query()))
	logRequest(r, "list", "total", page.Pagination.Total)
	writeJSON(w, http.StatusOK, response{Success: true, Data: page.Items, Pagination: &page.Pagination})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := pesantren.ParseSearchValues(r.URL.Query())
	writeData(w, s.dir.search(q, limitParam(r, defaultSearchLimit)))
}

func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.dir.featured(limitParam(r, defaultSubsetLimit)))
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.dir.popular(limitParam(r, defaultSubsetLimit)))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.dir.stats())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.dir.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pesantren not found", nil)
		return
	}
	writeData(w, p)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !currentUser(r).user.Role.CanManagePesantren() {
		writeError(w, http.StatusForbidden, "insufficient role", nil)
		return
	}
	var patch pesantren.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	var v apierr.Validator
	if patch.Name != nil {
		v.Required("name", *patch.Name, "Nama wajib diisi")
	}
	v.Check(patch.Rating == nil || (*patch.Rating >= 0 && *patch.Rating <= 5), "rating", "Rating harus antara 0 dan 5")
	if err := v.Err(); err != nil {
		writeValidation(w, err)
		return
	}

	p, ok := s.dir.update(r.PathValue("id"), patch)
	if !ok {
		writeError(w, http.StatusNotFound, "pesantren not found", nil)
		return
	}
	logRequest(r, "pesantren updated", "id", p.ID)
	writeData(w, p)
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.dir.getAbout())
}

func (s *Server) handleUpdateAbout(w http.ResponseWriter, r *http.Request) {
	if currentUser(r).user.Role != account.RoleAdmin {
		writeError(w, http.StatusForbidden, "insufficient role", nil)
		return
	}
	var about pesantren.About
	if !decodeBody(w, r, &about) {
		return
	}
	var v apierr.Validator
	v.Required("title", about.Title, "Judul wajib diisi")
	v.Required("description", about.Description, "Deskripsi wajib diisi")
	if err := v.Err(); err != nil {
		writeValidation(w, err)
		return
	}
	writeData(w, s.dir.setAbout(about))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if s.limited(email) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts", nil)
		return
	}

	user, err := s.accounts.authenticate(email, req.Password)
	switch {
	case errors.Is(err, ErrUnverified):
		writeError(w, http.StatusForbidden, "account not verified", nil)
		return
	case err != nil:
		s.recordFailure(email)
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	s.resetFailures(email)
	s.writeAuth(w, http.StatusOK, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = account.RoleParent
	}

	var v apierr.Validator
	v.Required("name", req.Name, "Nama wajib diisi")
	v.Required("email", req.Email, "Email wajib diisi")
	v.Email("email", req.Email)
	v.Phone("phone", req.Phone)
	v.MinLength("password", req.Password, minPasswordLength, "Password minimal 8 karakter")
	v.Check(req.Password == req.ConfirmPassword, "password_confirmation", "Konfirmasi password tidak cocok")
	// Self-registration never grants admin roles.
	v.Check(req.Role == account.RoleParent, "role", "Peran tidak valid")
	v.Check(req.AcceptTerms, "accept_terms", "Anda harus menyetujui syarat dan ketentuan")
	if err := v.Err(); err != nil {
		writeValidation(w, err)
		return
	}

	user, err := s.accounts.create(UserSeed{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     req.Role,
		Verified: true,
	})
	if errors.Is(err, ErrEmailTaken) {
		writeError(w, http.StatusUnprocessableEntity, "validation failed",
			map[string][]string{"email": {"Email sudah terdaftar"}})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create account", nil)
		return
	}
	logRequest(r, "account registered", "user_id", user.ID)
	s.writeAuth(w, http.StatusCreated, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, tokens, err := s.accounts.rotate(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", nil)
		return
	}
	writeData(w, account.AuthResponse{User: user, Tokens: tokens})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	s.accounts.revoke(currentUser(r).jti, req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeData(w, currentUser(r).user)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var update account.ProfileUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	var v apierr.Validator
	v.Phone("phone", update.Phone)
	if err := v.Err(); err != nil {
		writeValidation(w, err)
		return
	}
	user, err := s.accounts.updateProfile(currentUser(r).user.ID, update)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found", nil)
		return
	}
	writeData(w, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var change account.PasswordChange
	if !decodeBody(w, r, &change) {
		return
	}
	var v apierr.Validator
	v.Required("current_password", change.CurrentPassword, "Password saat ini wajib diisi")
	v.MinLength("new_password", change.NewPassword, minPasswordLength, "Password minimal 8 karakter")
	v.Check(change.NewPassword == change.ConfirmPassword, "password_confirmation", "Konfirmasi password tidak cocok")
	if err := v.Err(); err != nil {
		writeValidation(w, err)
		return
	}

	err := s.accounts.changePassword(currentUser(r).user.ID, change.CurrentPassword, change.NewPassword)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnprocessableEntity, "validation failed",
			map[string][]string{"current_password": {"Password saat ini salah"}})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not change password", nil)
	default:
		writeJSON(w, http.StatusOK, response{Success: true, Message: "password changed"})
	}
}

func (s *Server) writeAuth(w http.ResponseWriter, status int, user account.User) {
	tokens, err := s.accounts.issue(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue tokens", nil)
		return
	}
	writeJSON(w, status, response{Success: true, Data: account.AuthResponse{User: user, Tokens: tokens}})
}

func (s *Server) limited(email string) bool {
	if s.cfg.MaxLoginAttempts <= 0 {
		return false
	}
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	return s.attempts[email] >= s.cfg.MaxLoginAttempts
}

func (s *Server) recordFailure(email string) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	s.attempts[strings.ToLower(email)]++
}

func (s *Server) resetFailures(email string) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	delete(s.attempts, email)
}
