package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"golang.org/x/sync/errgroup"
)

// LoadMemberships fetches the identity's memberships and keeps the active
// ones, oldest first.
func LoadMemberships(ctx context.Context, d Directory, identityID string) ([]org.MembershipSummary, error) {
	all, err := d.FetchMemberships(ctx, identityID)
	if err != nil {
		return nil, unavailable("loading memberships", err)
	}

	active := make([]org.MembershipSummary, 0, len(all))
	for _, m := range all {
		if m.Status == org.StatusActive {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	return active, nil
}

// SelectTarget picks the organization to activate: the persisted id if the
// identity still holds it, else the oldest membership. ok is false when
// there is nothing to select.
func SelectTarget(memberships []org.MembershipSummary, persisted string) (orgID string, ok bool) {
	if persisted != "" {
		for _, m := range memberships {
			if m.OrganizationID == persisted {
				return persisted, true
			}
		}
	}
	if len(memberships) == 0 {
		return "", false
	}
	return memberships[0].OrganizationID, true
}

// Activate loads the organization and the identity's membership in it and
// derives the capability set. Both reads run concurrently and must succeed
// before anything is derived. A missing record or a membership that is not
// active yields ErrOrganizationUnavailable.
func Activate(ctx context.Context, d Directory, identityID, orgID string) (*Activation, error) {
	var (
		o *org.Organization
		m *org.Membership
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		o, err = d.FetchOrganization(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		m, err = d.FetchMembership(gctx, identityID, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, org.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrganizationUnavailable, orgID)
		}
		return nil, unavailable("activating organization", err)
	}

	if o == nil || m == nil || m.OrganizationID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationUnavailable, orgID)
	}
	if m.Status != org.StatusActive {
		return nil, fmt.Errorf("%w: membership is %s", ErrOrganizationUnavailable, m.Status)
	}

	return &Activation{
		Organization: o,
		Membership:   m,
		Capabilities: capability.For(m.Role),
	}, nil
}
