// Package backend implements session.Backend over the Postgres stores.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
)

// SessionTokenKey is the KeyStore key holding the opaque session token.
const SessionTokenKey = "sessionToken"

// Identities is the part of *user.Store the backend uses.
type Identities interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
	CreateSession(ctx context.Context, identityID string) (string, *user.Session, error)
	SessionIdentity(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
	GetByID(ctx context.Context, id string) (*user.Identity, error)
}

// Organizations is the part of *org.Store the backend uses.
type Organizations interface {
	ListMembershipsForUser(ctx context.Context, userID string) ([]org.MembershipSummary, error)
	GetByID(ctx context.Context, id string) (*org.Organization, error)
	GetMembership(ctx context.Context, userID, orgID string) (*org.Membership, error)
}

// Directory implements session.Directory. The HTTP API uses it on its own
// to activate an organization per request.
type Directory struct {
	orgs Organizations
}

// NewDirectory creates a Directory over the organization store.
func NewDirectory(orgs Organizations) *Directory {
	return &Directory{orgs: orgs}
}

func (d *Directory) FetchMemberships(ctx context.Context, identityID string) ([]org.MembershipSummary, error) {
	return d.orgs.ListMembershipsForUser(ctx, identityID)
}

func (d *Directory) FetchOrganization(ctx context.Context, id string) (*org.Organization, error) {
	return d.orgs.GetByID(ctx, id)
}

func (d *Directory) FetchMembership(ctx context.Context, identityID, orgID string) (*org.Membership, error) {
	return d.orgs.GetMembership(ctx, identityID, orgID)
}

// Postgres implements session.Backend for a single local actor. The session
// token is kept in the same KeyStore as the selected organization.
type Postgres struct {
	*Directory
	users Identities
	keys  session.KeyStore
}

// NewPostgres creates the backend.
func NewPostgres(users Identities, orgs Organizations, keys session.KeyStore) *Postgres {
	return &Postgres{Directory: NewDirectory(orgs), users: users, keys: keys}
}

// Authenticate verifies the credentials and starts a remote session. A
// session already held by this client is revoked first, best effort.
func (p *Postgres) Authenticate(ctx context.Context, email, password string) (string, error) {
	id, err := p.users.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}
	token, _, err := p.users.CreateSession(ctx, id)
	if err != nil {
		return "", err
	}
	if prev, ok, _ := p.keys.Get(SessionTokenKey); ok && prev != "" && prev != token {
		if err := p.users.DeleteSession(ctx, prev); err != nil && !errors.Is(err, user.ErrNotFound) {
			slog.Warn("revoking previous session failed", "error", err)
		}
	}
	if err := p.keys.Set(SessionTokenKey, token); err != nil {
		return "", fmt.Errorf("storing session token: %w", err)
	}
	return id, nil
}

// CurrentSession resolves the stored token. A token the server no longer
// knows is dropped and reported as no session.
func (p *Postgres) CurrentSession(ctx context.Context) (string, error) {
	token, ok, err := p.keys.Get(SessionTokenKey)
	if err != nil {
		return "", fmt.Errorf("reading session token: %w", err)
	}
	if !ok || token == "" {
		return "", session.ErrNoSession
	}

	id, err := p.users.SessionIdentity(ctx, token)
	if errors.Is(err, user.ErrNotFound) {
		if err := p.keys.Delete(SessionTokenKey); err != nil {
			slog.Warn("dropping stale session token failed", "error", err)
		}
		return "", session.ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// RevokeSession deletes the remote session. The local token is removed even
// when the remote call fails.
func (p *Postgres) RevokeSession(ctx context.Context) error {
	token, ok, err := p.keys.Get(SessionTokenKey)
	if err != nil || !ok {
		if delErr := p.keys.Delete(SessionTokenKey); delErr != nil {
			return delErr
		}
		return err
	}

	remoteErr := p.users.DeleteSession(ctx, token)
	if err := p.keys.Delete(SessionTokenKey); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// FetchProfile loads the application profile of an identity.
func (p *Postgres) FetchProfile(ctx context.Context, identityID string) (*user.Identity, error) {
	return p.users.GetByID(ctx, identityID)
}

var (
	_ Identities    = (*user.Store)(nil)
	_ Organizations = (*org.Store)(nil)
)
