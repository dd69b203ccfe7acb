package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/metrics"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
)

const minPasswordLength = 8

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	users    Identities
	orgs     *org.Service
	dir      session.Directory
	recorder quote.Recorder
	metrics  *metrics.Metrics
}

func newAuthHandler(users Identities, orgs *org.Service, dir session.Directory, rec quote.Recorder, m *metrics.Metrics) *authHandler {
	return &authHandler{users: users, orgs: orgs, dir: dir, recorder: rec, metrics: m}
}

// Signup handles POST /api/v1/auth/signup. When organization_name is given,
// the new identity becomes the first admin of a new organization.
func (h *authHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email            string `json:"email"`
		Password         string `json:"password"`
		Name             string `json:"name"`
		OrganizationName string `json:"organization_name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "a valid email is required")
		return
	case len(req.Password) < minPasswordLength:
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "password must be at least 8 characters")
		return
	case req.Name == "":
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}

	ident, err := h.users.Register(r.Context(), user.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{"user": ident}

	if strings.TrimSpace(req.OrganizationName) != "" {
		o, m, err := h.orgs.Create(r.Context(), org.CreateOrganizationInput{Name: req.OrganizationName}, ident.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp["organization"] = o
		resp["membership"] = m
		auditLog(h.recorder, r, o.ID, "organization.create", "organization", o.ID, map[string]string{"name": o.Name})
	}

	token, _, err := h.users.CreateSession(r.Context(), ident.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp["token"] = token

	writeJSON(w, http.StatusCreated, resp)
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email and password are required")
		return
	}

	id, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			h.countAuth(false)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	ident, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.countAuth(false)
			slog.Warn("credentials without profile", "identity_id", id)
			writeError(w, http.StatusUnauthorized, "unauthorized", "account profile is missing")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	memberships, err := session.LoadMemberships(r.Context(), h.dir, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, _, err := h.users.CreateSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.countAuth(true)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":       token,
		"user":        ident,
		"memberships": nonNil(memberships),
	})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	ident, err := h.users.GetByID(r.Context(), p.IdentityID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// A session whose profile is gone cannot be used; end it.
			_ = h.users.DeleteSession(r.Context(), p.Token)
			writeError(w, http.StatusUnauthorized, "unauthorized", "account profile is missing")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	memberships, err := session.LoadMemberships(r.Context(), h.dir, p.IdentityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        ident,
		"memberships": nonNil(memberships),
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.users.DeleteSession(r.Context(), p.Token); err != nil {
		slog.Warn("deleting session", "identity_id", p.IdentityID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) countAuth(ok bool) {
	if h.metrics == nil {
		return
	}
	if ok {
		h.metrics.IncAuthSuccess("password")
	} else {
		h.metrics.IncAuthFailure("password")
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
