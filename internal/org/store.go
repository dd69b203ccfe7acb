package org

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound            = errors.New("organization or membership not found")
	ErrDuplicateMembership = errors.New("identity is already a member of this organization")
)

// Store provides database operations for organizations and memberships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const orgColumns = `id, name, settings, created_at, updated_at`

const membershipColumns = `id, user_id, organization_id, role, status, joined_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	var settingsJSON []byte
	if err := row.Scan(&o.ID, &o.Name, &settingsJSON, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &o.Settings); err != nil {
			return nil, fmt.Errorf("unmarshalling settings: %w", err)
		}
	}
	return &o, nil
}

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	var role, status string
	if err := row.Scan(&m.ID, &m.UserID, &m.OrganizationID, &role, &status, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Role = capability.RoleFromString(role)
	m.Status = Status(status)
	return &m, nil
}

// Create inserts an organization and makes creatorID its first admin.
func (s *Store) Create(ctx context.Context, in CreateOrganizationInput, creatorID string) (*Organization, *Membership, error) {
	settingsJSON, err := json.Marshal(in.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling settings: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := scanOrganization(tx.QueryRow(ctx,
		`INSERT INTO organizations (name, settings) VALUES ($1, $2) RETURNING `+orgColumns,
		in.Name, settingsJSON,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("creating organization: %w", err)
	}

	m, err := scanMembership(tx.QueryRow(ctx,
		`INSERT INTO memberships (user_id, organization_id, role, status)
		 VALUES ($1, $2, $3, $4) RETURNING `+membershipColumns,
		creatorID, o.ID, capability.RoleAdmin.String(), string(StatusActive),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("creating admin membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing organization: %w", err)
	}
	return o, m, nil
}

// GetByID retrieves an organization by its ID.
func (s *Store) GetByID(ctx context.Context, id string) (*Organization, error) {
	o, err := scanOrganization(s.pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return o, nil
}

// UpdateSettings replaces the settings bag of an organization.
func (s *Store) UpdateSettings(ctx context.Context, id string, settings Settings) (*Organization, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshalling settings: %w", err)
	}
	o, err := scanOrganization(s.pool.QueryRow(ctx,
		`UPDATE organizations SET settings = $2, updated_at = now() WHERE id = $1 RETURNING `+orgColumns,
		id, settingsJSON))
	if err != nil {
		return nil, fmt.Errorf("updating settings: %w", err)
	}
	return o, nil
}

// ListMembershipsForUser returns every membership of userID regardless of
// status, oldest first.
func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]MembershipSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.organization_id, o.name, m.role, m.status, m.joined_at
		 FROM memberships m JOIN organizations o ON o.id = m.organization_id
		 WHERE m.user_id = $1
		 ORDER BY m.joined_at ASC, m.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var out []MembershipSummary
	for rows.Next() {
		var ms MembershipSummary
		var role, status string
		if err := rows.Scan(&ms.OrganizationID, &ms.OrganizationName, &role, &status, &ms.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		ms.Role = capability.RoleFromString(role)
		ms.Status = Status(status)
		out = append(out, ms)
	}
	return out, rows.Err()
}

// GetMembership retrieves the membership of userID in orgID.
func (s *Store) GetMembership(ctx context.Context, userID, orgID string) (*Membership, error) {
	m, err := scanMembership(s.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID))
	if err != nil {
		return nil, fmt.Errorf("getting membership: %w", err)
	}
	return m, nil
}

// ListMembers returns the memberships of an organization joined with profiles.
func (s *Store) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.user_id, m.organization_id, m.role, m.status, m.joined_at, u.email, u.full_name
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.organization_id = $1
		 ORDER BY m.joined_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var mb Member
		var role, status string
		if err := rows.Scan(&mb.ID, &mb.UserID, &mb.OrganizationID, &role, &status, &mb.JoinedAt, &mb.Email, &mb.Name); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		mb.Role = capability.RoleFromString(role)
		mb.Status = Status(status)
		out = append(out, mb)
	}
	return out, rows.Err()
}

// AddMember inserts a membership.
func (s *Store) AddMember(ctx context.Context, orgID, userID string, role capability.Role, status Status) (*Membership, error) {
	m, err := scanMembership(s.pool.QueryRow(ctx,
		`INSERT INTO memberships (user_id, organization_id, role, status)
		 VALUES ($1, $2, $3, $4) RETURNING `+membershipColumns,
		userID, orgID, role.String(), string(status)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateMembership
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return m, nil
}

// UpdateMember performs a partial update on a membership.
func (s *Store) UpdateMember(ctx context.Context, orgID, userID string, in UpdateMemberInput) (*Membership, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, in.Role.String())
		argIdx++
	}
	if in.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*in.Status))
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetMembership(ctx, userID, orgID)
	}

	args = append(args, userID, orgID)
	query := fmt.Sprintf(
		`UPDATE memberships SET %s WHERE user_id = $%d AND organization_id = $%d RETURNING `+membershipColumns,
		strings.Join(setClauses, ", "), argIdx, argIdx+1)

	m, err := scanMembership(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("updating member: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership.
func (s *Store) RemoveMember(ctx context.Context, orgID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND organization_id = $2`, userID, orgID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAdmins returns the number of active admin memberships in orgID.
func (s *Store) CountActiveAdmins(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE organization_id = $1 AND role = $2 AND status = $3`,
		orgID, capability.RoleAdmin.String(), string(StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}
