package api

import (
	"net/http"

	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/session"
)

// orgHandler groups organization HTTP handlers.
type orgHandler struct {
	orgs     *org.Service
	dir      session.Directory
	recorder quote.Recorder
}

func newOrgHandler(orgs *org.Service, dir session.Directory, rec quote.Recorder) *orgHandler {
	return &orgHandler{orgs: orgs, dir: dir, recorder: rec}
}

// List handles GET /api/v1/orgs: the organizations the caller can switch to.
func (h *orgHandler) List(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	memberships, err := session.LoadMemberships(r.Context(), h.dir, p.IdentityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": nonNil(memberships)})
}

// Create handles POST /api/v1/orgs. The caller becomes the first admin.
func (h *orgHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var in org.CreateOrganizationInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	o, m, err := h.orgs.Create(r.Context(), in, p.IdentityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(h.recorder, r, o.ID, "organization.create", "organization", o.ID, map[string]string{"name": o.Name})
	writeJSON(w, http.StatusCreated, map[string]any{"organization": o, "membership": m})
}

// Get handles GET /api/v1/orgs/{orgID}: switching to an organization. The
// response carries the caller's role and capabilities within it.
func (h *orgHandler) Get(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())
	if act == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	auditLog(h.recorder, r, act.Organization.ID, "organization.switch", "organization", act.Organization.ID, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"organization": act.Organization,
		"membership":   act.Membership,
		"capabilities": act.Capabilities,
	})
}

// UpdateSettings handles PUT /api/v1/orgs/{orgID}/settings.
func (h *orgHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	act := auth.ActivationFromContext(r.Context())

	var settings org.Settings
	if err := readJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	o, err := h.orgs.UpdateSettings(r.Context(), act.Organization.ID, settings)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(h.recorder, r, o.ID, "organization.settings", "organization", o.ID, nil)
	writeJSON(w, http.StatusOK, o)
}
