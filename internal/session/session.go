// Package session owns the signed-in identity of a client process, the
// organizations it belongs to, and which one of them is active.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/user"
)

// CurrentOrganizationKey is the KeyStore key holding the last activated
// organization id.
const CurrentOrganizationKey = "currentOrganizationId"

var (
	ErrInvalidCredentials      = user.ErrInvalidCredentials
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrOrganizationUnavailable = errors.New("organization unavailable")
	ErrCorruptedSession        = errors.New("authenticated identity has no profile")
	ErrNotConfigured           = errors.New("no backend configured")
	ErrNoSession               = errors.New("no session")
	ErrNotSignedIn             = errors.New("not signed in")
	ErrNoActiveOrganization    = errors.New("no active organization")
)

// Directory answers organization and membership lookups.
type Directory interface {
	FetchMemberships(ctx context.Context, identityID string) ([]org.MembershipSummary, error)
	FetchOrganization(ctx context.Context, id string) (*org.Organization, error)
	FetchMembership(ctx context.Context, identityID, orgID string) (*org.Membership, error)
}

// Backend is everything the Store needs from the remote side. FetchProfile
// returns an error matching user.ErrNotFound when the identity has no
// profile, and CurrentSession returns ErrNoSession when nobody is signed in.
type Backend interface {
	Directory
	Authenticate(ctx context.Context, email, password string) (string, error)
	CurrentSession(ctx context.Context) (string, error)
	RevokeSession(ctx context.Context) error
	FetchProfile(ctx context.Context, identityID string) (*user.Identity, error)
}

// KeyStore persists small string values across process restarts.
type KeyStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Mode is the display state of the Store.
type Mode string

const (
	ModeInitializing  Mode = "initializing"
	ModeReady         Mode = "ready"
	ModeNotConfigured Mode = "not_configured"
	ModeSetupRequired Mode = "setup_required"
)

// Activation is an organization installed as active together with the
// membership that grants access to it.
type Activation struct {
	Organization *org.Organization
	Membership   *org.Membership
	Capabilities capability.Set
}

// State is a point-in-time copy of the Store. Organization, Membership and
// Capabilities are either all set or all nil.
type State struct {
	Mode         Mode
	Initializing bool
	Err          error
	Identity     *user.Identity
	Memberships  []org.MembershipSummary
	Organization *org.Organization
	Membership   *org.Membership
	Capabilities *capability.Set
}

// SignedIn reports whether an identity is present.
func (s State) SignedIn() bool { return s.Identity != nil }

func unavailable(op string, err error) error {
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
