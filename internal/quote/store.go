package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecgard/quotedesk/internal/cursor"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("quote not found")
	ErrConflict = errors.New("quote was changed by someone else")
)

// Store provides database operations for quotes and their line items.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const quoteColumns = `id, organization_id, number, client_id, status,
	subtotal, discount, tax, total_amount, valid_until, terms, notes,
	created_by, approved_by, sent_at, created_at, updated_at`

const itemColumns = `id, quote_id, position, product_id, description, quantity, unit_price, total`

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	var status string
	err := row.Scan(
		&q.ID,
		&q.OrganizationID,
		&q.Number,
		&q.ClientID,
		&status,
		&q.Subtotal,
		&q.Discount,
		&q.Tax,
		&q.Total,
		&q.ValidUntil,
		&q.Terms,
		&q.Notes,
		&q.CreatedBy,
		&q.ApprovedBy,
		&q.SentAt,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	q.Status = Status(status)
	return &q, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadItems(ctx context.Context, db querier, quoteID string) ([]LineItem, error) {
	rows, err := db.Query(ctx,
		`SELECT `+itemColumns+` FROM quote_line_items WHERE quote_id = $1 ORDER BY position ASC`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.Position, &it.ProductID,
			&it.Description, &it.Quantity, &it.UnitPrice, &it.Total); err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx pgx.Tx, quoteID string, items []LineItem) ([]LineItem, error) {
	out := make([]LineItem, 0, len(items))
	for _, in := range items {
		var it LineItem
		err := tx.QueryRow(ctx,
			`INSERT INTO quote_line_items (quote_id, position, product_id, description, quantity, unit_price, total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+itemColumns,
			quoteID, in.Position, in.ProductID, in.Description, in.Quantity, in.UnitPrice, in.Total,
		).Scan(&it.ID, &it.QuoteID, &it.Position, &it.ProductID,
			&it.Description, &it.Quantity, &it.UnitPrice, &it.Total)
		if err != nil {
			return nil, fmt.Errorf("inserting line item: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// Create inserts a quote with the next number of its organization's
// sequence, together with its line items.
func (s *Store) Create(ctx context.Context, q *Quote) (*Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var number int
	err = tx.QueryRow(ctx,
		`UPDATE organizations SET quote_seq = quote_seq + 1 WHERE id = $1 RETURNING quote_seq`,
		q.OrganizationID).Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("allocating quote number: organization %s not found", q.OrganizationID)
		}
		return nil, fmt.Errorf("allocating quote number: %w", err)
	}

	created, err := scanQuote(tx.QueryRow(ctx,
		`INSERT INTO quotes
		(organization_id, number, client_id, status, subtotal, discount, tax, total_amount,
		 valid_until, terms, notes, created_by, approved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+quoteColumns,
		q.OrganizationID, number, q.ClientID, string(q.Status),
		q.Subtotal, q.Discount, q.Tax, q.Total,
		q.ValidUntil, q.Terms, q.Notes, q.CreatedBy, q.ApprovedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting quote: %w", err)
	}

	if created.Items, err = insertItems(ctx, tx, created.ID, q.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing quote: %w", err)
	}
	return created, nil
}

// Get retrieves a quote of orgID with its line items.
func (s *Store) Get(ctx context.Context, orgID, id string) (*Quote, error) {
	q, err := scanQuote(s.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE organization_id = $1 AND id = $2`, orgID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting quote: %w", err)
	}
	if q.Items, err = loadItems(ctx, s.pool, q.ID); err != nil {
		return nil, err
	}
	return q, nil
}

// List returns a page of quotes ordered by created_at DESC, id DESC. Line
// items are not loaded.
func (s *Store) List(ctx context.Context, orgID string, params ListParams) ([]*Quote, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	args := []any{orgID}
	whereClauses := []string{"organization_id = $1"}

	if params.Status != "" {
		args = append(args, string(params.Status))
		whereClauses = append(whereClauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.Cursor != "" {
		ts, id, err := cursor.Decode(params.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		args = append(args, ts, id)
		whereClauses = append(whereClauses,
			fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, limit+1)
	query := fmt.Sprintf(`SELECT %s FROM quotes WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		quoteColumns, strings.Join(whereClauses, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating quotes: %w", err)
	}

	var next string
	if len(quotes) > limit {
		last := quotes[limit-1]
		next = cursor.Encode(last.CreatedAt, last.ID)
		quotes = quotes[:limit]
	}
	return quotes, next, nil
}

// Update rewrites the editable fields and line items of a draft. A quote
// that left draft since it was read yields ErrConflict.
func (s *Store) Update(ctx context.Context, q *Quote) (*Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := scanQuote(tx.QueryRow(ctx,
		`UPDATE quotes SET client_id = $3, subtotal = $4, discount = $5, tax = $6,
		 total_amount = $7, valid_until = $8, terms = $9, notes = $10, updated_at = now()
		 WHERE organization_id = $1 AND id = $2 AND status = $11
		 RETURNING `+quoteColumns,
		q.OrganizationID, q.ID, q.ClientID, q.Subtotal, q.Discount, q.Tax,
		q.Total, q.ValidUntil, q.Terms, q.Notes, string(StatusDraft),
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.missingOrConflict(ctx, q.OrganizationID, q.ID)
		}
		return nil, fmt.Errorf("updating quote: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM quote_line_items WHERE quote_id = $1`, q.ID); err != nil {
		return nil, fmt.Errorf("clearing line items: %w", err)
	}
	if updated.Items, err = insertItems(ctx, tx, q.ID, q.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing quote: %w", err)
	}
	return updated, nil
}

// Delete removes a quote; its line items go with it.
func (s *Store) Delete(ctx context.Context, orgID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quotes WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("deleting quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WriteStatus persists a lifecycle change, provided the quote is still in
// change.From. Nil side-effect fields keep their stored values.
func (s *Store) WriteStatus(ctx context.Context, orgID, id string, change Change) (*Quote, error) {
	q, err := scanQuote(s.pool.QueryRow(ctx,
		`UPDATE quotes SET status = $3,
		 approved_by = COALESCE($4, approved_by),
		 sent_at = COALESCE($5, sent_at),
		 notes = COALESCE($6, notes),
		 updated_at = now()
		 WHERE organization_id = $1 AND id = $2 AND status = $7
		 RETURNING `+quoteColumns,
		orgID, id, string(change.To), change.ApprovedBy, change.SentAt, change.Notes, string(change.From),
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.missingOrConflict(ctx, orgID, id)
		}
		return nil, fmt.Errorf("writing quote status: %w", err)
	}
	if q.Items, err = loadItems(ctx, s.pool, q.ID); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Store) missingOrConflict(ctx context.Context, orgID, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quotes WHERE organization_id = $1 AND id = $2)`, orgID, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking quote: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
