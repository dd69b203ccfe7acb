package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecgard/quotedesk/internal/cursor"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes entries in a single multi-row INSERT. It is a no-op
// when entries is empty.
func (s *Store) BatchInsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 8
	args := make([]any, 0, len(entries)*cols)
	rows := make([]string, 0, len(entries))

	for i, e := range entries {
		base := i * cols
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))

		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshalling audit detail: %w", err)
		}
		args = append(args,
			e.ID, e.OrganizationID, e.ActorID, e.Action,
			e.ResourceType, e.ResourceID, detail, e.Timestamp,
		)
	}

	query := `INSERT INTO audit_log
		(id, organization_id, actor_id, action, resource_type, resource_id, detail, timestamp)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting audit entries: %w", err)
	}
	return nil
}

// List returns a page of entries for one organization, newest first, and the
// cursor of the next page (empty when there is none).
func (s *Store) List(ctx context.Context, q Query) ([]*Entry, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhereClause(q)

	if q.Cursor != "" {
		ts, id, err := cursor.Decode(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		n := len(args)
		where += fmt.Sprintf(" AND (timestamp, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT id, organization_id, actor_id, action, resource_type, resource_id, detail, timestamp
	FROM audit_log` + where +
		` ORDER BY timestamp DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ActorID, &e.Action,
			&e.ResourceType, &e.ResourceID, &detail, &e.Timestamp); err != nil {
			return nil, "", fmt.Errorf("scanning audit row: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, "", fmt.Errorf("unmarshalling audit detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating audit rows: %w", err)
	}

	var next string
	if len(entries) > limit {
		last := entries[limit-1]
		next = cursor.Encode(last.Timestamp, last.ID)
		entries = entries[:limit]
	}
	return entries, next, nil
}

// buildWhereClause always filters by organization; the result starts with
// " WHERE".
func buildWhereClause(q Query) (string, []any) {
	args := []any{q.OrganizationID}
	conditions := []string{"organization_id = $1"}

	if q.ResourceType != "" {
		args = append(args, q.ResourceType)
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if q.ResourceID != "" {
		args = append(args, q.ResourceID)
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}
