// Package auth authenticates API requests by session token and resolves the
// organization a request acts within.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/session"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	IdentityID string
	Token      string
}

// SessionLookup resolves session tokens to identity ids. *user.Store
// implements it.
type SessionLookup interface {
	SessionIdentity(ctx context.Context, token string) (string, error)
}

// ActivationObserver is told the outcome of every per-request organization
// activation.
type ActivationObserver func(outcome string)

// Gate decides whether a capability set may pass.
type Gate func(capability.Set) bool

// Common gates.
var (
	CanManageUsers  Gate = func(c capability.Set) bool { return c.ManageUsers }
	CanViewAuditLog Gate = func(c capability.Set) bool { return c.ViewAuditLog }
	IsAdmin         Gate = func(c capability.Set) bool { return c.Admin() }
)

// activationOutcome maps an Activate error to a metrics label.
func activationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrOrganizationUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// ActorFromRequest is a convenience for handlers.
func ActorFromRequest(r *http.Request) (quote.Actor, bool) {
	return ActorFromContext(r.Context())
}
