package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/user"
)

// fakeBackend is an in-memory Backend. Errors can be injected per call.
type fakeBackend struct {
	mu sync.Mutex

	passwords   map[string]string // email -> password
	emailIDs    map[string]string // email -> identity id
	profiles    map[string]*user.Identity
	orgs        map[string]*org.Organization
	memberships map[string]*org.Membership // identity|org

	current string // identity id of the remote session

	authErr        error
	sessionErr     error
	revokeErr      error
	membershipsErr error
	orgErr         error

	revokeCalls    int
	panicOnCurrent bool

	// beforeMembership runs at the start of FetchMembership, without the
	// fake's lock held.
	beforeMembership func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		passwords:   make(map[string]string),
		emailIDs:    make(map[string]string),
		profiles:    make(map[string]*user.Identity),
		orgs:        make(map[string]*org.Organization),
		memberships: make(map[string]*org.Membership),
	}
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (f *fakeBackend) addUser(id, email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[email] = password
	f.emailIDs[email] = id
	f.profiles[id] = &user.Identity{ID: id, Email: email, Name: id, Active: true}
}

func (f *fakeBackend) addOrg(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgs[id] = &org.Organization{ID: id, Name: "Org " + id}
}

func (f *fakeBackend) addMembership(userID, orgID string, role capability.Role, status org.Status, joinedDay int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships[userID+"|"+orgID] = &org.Membership{
		ID:             "m-" + userID + "-" + orgID,
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		Status:         status,
		JoinedAt:       baseTime.AddDate(0, 0, joinedDay),
	}
}

func (f *fakeBackend) setStatus(userID, orgID string, status org.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships[userID+"|"+orgID].Status = status
}

func (f *fakeBackend) Authenticate(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return "", f.authErr
	}
	if p, ok := f.passwords[email]; !ok || p != password {
		return "", user.ErrInvalidCredentials
	}
	f.current = f.emailIDs[email]
	return f.current, nil
}

func (f *fakeBackend) CurrentSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCurrent {
		panic("boom")
	}
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	if f.current == "" {
		return "", ErrNoSession
	}
	return f.current, nil
}

func (f *fakeBackend) RevokeSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.current = ""
	return nil
}

func (f *fakeBackend) FetchProfile(_ context.Context, id string) (*user.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, fmt.Errorf("getting identity by id: %w", user.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) FetchMemberships(_ context.Context, id string) ([]org.MembershipSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.membershipsErr != nil {
		return nil, f.membershipsErr
	}
	var out []org.MembershipSummary
	for _, m := range f.memberships {
		if m.UserID == id {
			out = append(out, org.MembershipSummary{
				OrganizationID:   m.OrganizationID,
				OrganizationName: f.orgs[m.OrganizationID].Name,
				Role:             m.Role,
				Status:           m.Status,
				JoinedAt:         m.JoinedAt,
			})
		}
	}
	return out, nil
}

func (f *fakeBackend) FetchOrganization(_ context.Context, id string) (*org.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	o, ok := f.orgs[id]
	if !ok {
		return nil, fmt.Errorf("getting organization: %w", org.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeBackend) FetchMembership(_ context.Context, userID, orgID string) (*org.Membership, error) {
	if f.beforeMembership != nil {
		f.beforeMembership()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[userID+"|"+orgID]
	if !ok {
		return nil, fmt.Errorf("getting membership: %w", org.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// failingKeys fails every write.
type failingKeys struct{ *MemoryKeyStore }

func (failingKeys) Set(string, string) error { return errors.New("disk full") }
func (failingKeys) Delete(string) error      { return errors.New("disk full") }
