package api

import (
	"net/http"
	"strings"

	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// memberHandler groups membership administration handlers. Every route runs
// behind the manage users gate.
type memberHandler struct {
	orgs     *org.Service
	users    Identities
	recorder quote.Recorder
}

func newMemberHandler(orgs *org.Service, users Identities, rec quote.Recorder) *memberHandler {
	return &memberHandler{orgs: orgs, users: users, recorder: rec}
}

// List handles GET /api/v1/orgs/{orgID}/members.
func (h *memberHandler) List(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())

	members, err := h.orgs.Members(r.Context(), act.Organization.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
}

// Add handles POST /api/v1/orgs/{orgID}/members. The identity is looked up
// by email and must already have signed up.
func (h *memberHandler) Add(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())

	var req struct {
		Email  string     `json:"email"`
		Role   string     `json:"role"`
		Status org.Status `json:"status"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email is required")
		return
	}
	role, ok := capability.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "role must be one of: admin, manager, agent")
		return
	}

	ident, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	m, err := h.orgs.AddMember(r.Context(), act.Organization.ID, ident.ID, role, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(h.recorder, r, act.Organization.ID, "member.add", "membership", ident.ID,
		map[string]string{"role": m.Role.String(), "status": string(m.Status)})
	writeJSON(w, http.StatusCreated, m)
}

// Update handles PUT /api/v1/orgs/{orgID}/members/{userID}.
func (h *memberHandler) Update(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		Role   *string     `json:"role"`
		Status *org.Status `json:"status"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	var in org.UpdateMemberInput
	detail := map[string]string{}
	if req.Role != nil {
		role, ok := capability.ParseRole(*req.Role)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "role must be one of: admin, manager, agent")
			return
		}
		in.Role = &role
		detail["role"] = role.String()
	}
	if req.Status != nil {
		in.Status = req.Status
		detail["status"] = string(*req.Status)
	}

	m, err := h.orgs.UpdateMember(r.Context(), act.Organization.ID, userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(h.recorder, r, act.Organization.ID, "member.update", "membership", userID, detail)
	writeJSON(w, http.StatusOK, m)
}

// Remove handles DELETE /api/v1/orgs/{orgID}/members/{userID}.
func (h *memberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())
	userID, ok := uuidParam(w, r, "userID")
	if !ok {
		return
	}

	if err := h.orgs.RemoveMember(r.Context(), act.Organization.ID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(h.recorder, r, act.Organization.ID, "member.remove", "membership", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// uuidParam reads a UUID path parameter, writing a 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if _, err := uuid.Parse(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a UUID")
		return "", false
	}
	return v, true
}
