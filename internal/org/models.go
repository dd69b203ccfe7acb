package org

import (
	"time"

	"github.com/alecgard/quotedesk/internal/capability"
)

// Status is the lifecycle state of a membership. Only StatusActive grants
// capabilities.
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusInactive:
		return true
	}
	return false
}

// Settings is the per-organization settings bag.
type Settings struct {
	TaxRate      float64 `json:"tax_rate"`
	PaymentTerms string  `json:"payment_terms"`
	ValidityDays int     `json:"validity_days"`
	LogoURL      string  `json:"logo_url,omitempty"`
}

// Organization is a tenant.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership links an identity to an organization with a role. At most one
// exists per (user, organization) pair.
type Membership struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id"`
	Role           capability.Role `json:"role"`
	Status         Status          `json:"status"`
	JoinedAt       time.Time       `json:"joined_at"`
}

// MembershipSummary is one row of an identity's membership list.
type MembershipSummary struct {
	OrganizationID   string          `json:"organization_id"`
	OrganizationName string          `json:"organization_name"`
	Role             capability.Role `json:"role"`
	Status           Status          `json:"status"`
	JoinedAt         time.Time       `json:"joined_at"`
}

// Member is a membership joined with the member's profile.
type Member struct {
	Membership
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateOrganizationInput holds the fields required to create an organization.
type CreateOrganizationInput struct {
	Name     string   `json:"name"`
	Settings Settings `json:"settings"`
}

// UpdateMemberInput holds optional fields for a partial membership update.
type UpdateMemberInput struct {
	Role   *capability.Role `json:"role,omitempty"`
	Status *Status          `json:"status,omitempty"`
}
