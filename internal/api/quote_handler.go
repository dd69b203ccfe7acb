package api

import (
	"net/http"

	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/go-chi/chi/v5"
)

// quoteHandler groups quote HTTP handlers. Authorization happens in
// quote.Service; handlers only translate requests and errors.
type quoteHandler struct {
	quotes *quote.Service
}

func newQuoteHandler(quotes *quote.Service) *quoteHandler {
	return &quoteHandler{quotes: quotes}
}

// quoteView is a quote plus the actions the caller may take on it.
type quoteView struct {
	*quote.Quote
	AvailableActions []quote.Action `json:"available_actions"`
}

func viewFor(q *quote.Quote, actor quote.Actor) quoteView {
	return quoteView{
		Quote:            q,
		AvailableActions: nonNil(quote.AvailableActions(q, actor.Capabilities, actor.ID)),
	}
}

// List handles GET /api/v1/orgs/{orgID}/quotes.
func (h *quoteHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)

	params := quote.ListParams{
		Status: quote.Status(r.URL.Query().Get("status")),
		Cursor: r.URL.Query().Get("cursor"),
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	params.Limit = limit

	quotes, next, err := h.quotes.List(r.Context(), actor, params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		views = append(views, viewFor(q, actor))
	}
	resp := map[string]any{"quotes": views}
	if next != "" {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/orgs/{orgID}/quotes.
func (h *quoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)

	var in quote.CreateQuoteInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	q, err := h.quotes.Create(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewFor(q, actor))
}

// Get handles GET /api/v1/orgs/{orgID}/quotes/{id}.
func (h *quoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	q, err := h.quotes.Get(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFor(q, actor))
}

// Update handles PUT /api/v1/orgs/{orgID}/quotes/{id}.
func (h *quoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var in quote.UpdateQuoteInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	q, err := h.quotes.Update(r.Context(), actor, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFor(q, actor))
}

// Delete handles DELETE /api/v1/orgs/{orgID}/quotes/{id}.
func (h *quoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.quotes.Delete(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Act handles POST /api/v1/orgs/{orgID}/quotes/{id}/{action}, where action
// is a lifecycle trigger or reopen. Reject accepts an optional reason.
func (h *quoteHandler) Act(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromRequest(r)
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	name := chi.URLParam(r, "action")
	var (
		q   *quote.Quote
		err error
	)
	if name == string(quote.ActionReopen) {
		q, err = h.quotes.Reopen(r.Context(), actor, id)
	} else {
		trigger, known := quote.ParseTrigger(name)
		if !known {
			writeError(w, http.StatusNotFound, "not_found", "unknown quote action "+name)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			if err := readJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
				return
			}
		}
		q, err = h.quotes.Transition(r.Context(), actor, id, trigger, req.Reason)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFor(q, actor))
}
