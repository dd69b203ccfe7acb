package org

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/alecgard/quotedesk/internal/capability"
)

// Validation and policy errors returned by the Service layer.
var (
	ErrNameRequired    = errors.New("name is required")
	ErrTaxRateInvalid  = errors.New("tax_rate must be between 0 and 100")
	ErrValidityInvalid = errors.New("validity_days must not be negative")
	ErrStatusInvalid   = errors.New("status must be one of: active, pending, inactive")
	ErrLastAdmin       = errors.New("cannot remove or demote the last active admin")
)

// Repository is the persistence surface the Service needs. *Store
// implements it.
type Repository interface {
	Create(ctx context.Context, in CreateOrganizationInput, creatorID string) (*Organization, *Membership, error)
	GetByID(ctx context.Context, id string) (*Organization, error)
	UpdateSettings(ctx context.Context, id string, settings Settings) (*Organization, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]MembershipSummary, error)
	GetMembership(ctx context.Context, userID, orgID string) (*Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]Member, error)
	AddMember(ctx context.Context, orgID, userID string, role capability.Role, status Status) (*Membership, error)
	UpdateMember(ctx context.Context, orgID, userID string, in UpdateMemberInput) (*Membership, error)
	RemoveMember(ctx context.Context, orgID, userID string) error
	CountActiveAdmins(ctx context.Context, orgID string) (int, error)
}

// Service provides validated organization and membership administration.
type Service struct {
	repo Repository
}

// NewService creates a new Service wrapping the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates the input and creates an organization owned by creatorID.
func (s *Service) Create(ctx context.Context, in CreateOrganizationInput, creatorID string) (*Organization, *Membership, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, nil, ErrNameRequired
	}
	if err := validateSettings(in.Settings); err != nil {
		return nil, nil, err
	}
	return s.repo.Create(ctx, in, creatorID)
}

// Get returns an organization by id.
func (s *Service) Get(ctx context.Context, id string) (*Organization, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateSettings validates and replaces the settings bag.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings Settings) (*Organization, error) {
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	return s.repo.UpdateSettings(ctx, id, settings)
}

// MembershipsFor lists every membership held by userID.
func (s *Service) MembershipsFor(ctx context.Context, userID string) ([]MembershipSummary, error) {
	return s.repo.ListMembershipsForUser(ctx, userID)
}

// Members lists the members of an organization.
func (s *Service) Members(ctx context.Context, orgID string) ([]Member, error) {
	return s.repo.ListMembers(ctx, orgID)
}

// AddMember adds userID to orgID. New members are active unless status says
// otherwise.
func (s *Service) AddMember(ctx context.Context, orgID, userID string, role capability.Role, status Status) (*Membership, error) {
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return nil, ErrStatusInvalid
	}
	return s.repo.AddMember(ctx, orgID, userID, role, status)
}

// UpdateMember changes a member's role or status. An organization always
// keeps at least one active admin.
func (s *Service) UpdateMember(ctx context.Context, orgID, userID string, in UpdateMemberInput) (*Membership, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, ErrStatusInvalid
	}

	current, err := s.repo.GetMembership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	losesAdmin := (in.Role != nil && *in.Role != capability.RoleAdmin) ||
		(in.Status != nil && *in.Status != StatusActive)
	if losesAdmin {
		if err := s.ensureNotLastAdmin(ctx, current); err != nil {
			return nil, err
		}
	}

	return s.repo.UpdateMember(ctx, orgID, userID, in)
}

// RemoveMember deletes a membership, keeping at least one active admin.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	current, err := s.repo.GetMembership(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if err := s.ensureNotLastAdmin(ctx, current); err != nil {
		return err
	}
	return s.repo.RemoveMember(ctx, orgID, userID)
}

func (s *Service) ensureNotLastAdmin(ctx context.Context, m *Membership) error {
	if m.Role != capability.RoleAdmin || m.Status != StatusActive {
		return nil
	}
	n, err := s.repo.CountActiveAdmins(ctx, m.OrganizationID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func validateSettings(st Settings) error {
	if math.IsNaN(st.TaxRate) || math.IsInf(st.TaxRate, 0) || st.TaxRate < 0 || st.TaxRate > 100 {
		return ErrTaxRateInvalid
	}
	if st.ValidityDays < 0 {
		return ErrValidityInvalid
	}
	return nil
}
