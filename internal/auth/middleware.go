package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/google/uuid"
)

type contextKey int

const (
	principalContextKey contextKey = iota
	actorContextKey
	activationContextKey
)

// ContextWithPrincipal returns a new context carrying the given principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the principal from the context, or nil if not present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// ContextWithActivation returns a new context carrying the activated
// organization and the actor derived from it.
func ContextWithActivation(ctx context.Context, identityID string, act *session.Activation) context.Context {
	ctx = context.WithValue(ctx, activationContextKey, act)
	return context.WithValue(ctx, actorContextKey, quote.Actor{
		ID:             identityID,
		OrganizationID: act.Organization.ID,
		Capabilities:   act.Capabilities,
	})
}

// ActivationFromContext extracts the activation, or nil if not present.
func ActivationFromContext(ctx context.Context) *session.Activation {
	act, _ := ctx.Value(activationContextKey).(*session.Activation)
	return act
}

// ActorFromContext extracts the actor set by OrgMiddleware.
func ActorFromContext(ctx context.Context) (quote.Actor, bool) {
	a, ok := ctx.Value(actorContextKey).(quote.Actor)
	return a, ok
}

// SessionMiddleware validates the bearer session token and injects the
// principal into the request context.
func SessionMiddleware(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			id, err := sessions.SessionIdentity(r.Context(), token)
			if err != nil || id == "" {
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := ContextWithPrincipal(r.Context(), &Principal{IdentityID: id, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrgMiddleware activates the organization named by orgID(r) for the
// principal, the same way a client switches organizations, and injects the
// resulting actor. Callers without an active membership get 403.
func OrgMiddleware(dir session.Directory, orgID func(*http.Request) string, observe ActivationObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				writeUnauthorized(w, "authentication required")
				return
			}

			id := orgID(r)
			if _, err := uuid.Parse(id); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", "invalid organization id")
				return
			}

			act, err := session.Activate(r.Context(), dir, p.IdentityID, id)
			if observe != nil {
				observe(activationOutcome(err))
			}
			if err != nil {
				if errors.Is(err, session.ErrOrganizationUnavailable) {
					writeForbidden(w, "not an active member of this organization")
					return
				}
				slog.Error("activating organization", "organization_id", id, "error", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable", "organization could not be loaded")
				return
			}

			ctx := ContextWithActivation(r.Context(), p.IdentityID, act)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects requests whose actor does not pass gate. It must
// run after OrgMiddleware.
func RequireCapability(gate Gate, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "authentication required")
				return
			}
			if !gate(actor.Capabilities) {
				writeForbidden(w, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    code,
			Message: message,
		},
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}
