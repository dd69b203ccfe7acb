package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// auditLog emits a structured log line for an administrative action and, when
// a recorder is configured, adds it to the organization's audit trail.
func auditLog(rec quote.Recorder, r *http.Request, orgID, action, resourceType, resourceID string, detail map[string]string) {
	attrs := []any{
		"action", action,
		"organization_id", orgID,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"request_id", RequestIDFromContext(r.Context()),
	}
	var actorID string
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		actorID = p.IdentityID
		attrs = append(attrs, "actor_id", actorID)
	}
	for k, v := range detail {
		attrs = append(attrs, k, v)
	}
	slog.Info("audit", attrs...)

	if rec == nil || orgID == "" {
		return
	}
	rec.Record(audit.Entry{
		OrganizationID: orgID,
		ActorID:        actorID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Detail:         detail,
	})
}

// auditHandler serves the audit log of the active organization.
type auditHandler struct {
	log AuditReader
}

func newAuditHandler(log AuditReader) *auditHandler {
	return &auditHandler{log: log}
}

// List handles GET /api/v1/orgs/{orgID}/audit.
func (h *auditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "audit log is not configured")
		return
	}

	q := audit.Query{
		OrganizationID: chi.URLParam(r, "orgID"),
		ResourceType:   r.URL.Query().Get("resource_type"),
		ResourceID:     r.URL.Query().Get("resource_id"),
		Cursor:         r.URL.Query().Get("cursor"),
	}
	if q.ResourceID != "" {
		if _, err := uuid.Parse(q.ResourceID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "resource_id must be a UUID")
			return
		}
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q.Limit = limit

	entries, next, err := h.log.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	resp := map[string]any{"entries": entries}
	if next != "" {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseLimit reads the optional limit query parameter, writing a 400 when it
// is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	l, err := strconv.Atoi(s)
	if err != nil || l < 1 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return 0, false
	}
	if l > 100 {
		l = 100
	}
	return l, true
}
