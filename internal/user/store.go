package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// DefaultSessionDuration is used when NewStore is given a non-positive duration.
const DefaultSessionDuration = 7 * 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("identity not found")
	ErrEmailTaken         = errors.New("email is already registered")
)

// Store provides database operations for credentials, profiles and sessions.
// Credentials (auth_identities) and profiles (users) are separate tables: an
// identity can authenticate even when its profile row is missing, which the
// session layer treats as a corrupted session.
type Store struct {
	pool            *pgxpool.Pool
	sessionDuration time.Duration
	now             func() time.Time
}

// NewStore creates a new identity store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, sessionDuration time.Duration) *Store {
	if sessionDuration <= 0 {
		sessionDuration = DefaultSessionDuration
	}
	return &Store{pool: pool, sessionDuration: sessionDuration, now: time.Now}
}

const profileColumns = `id, email, full_name, is_active, created_at, last_login_at`

func scanIdentity(row pgx.Row) (*Identity, error) {
	u := &Identity{}
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Active, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates credentials and the matching profile in one transaction.
func (s *Store) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	email := normalizeEmail(in.Email)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO auth_identities (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, string(hash),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating credentials: %w", err)
	}

	u, err := scanIdentity(tx.QueryRow(ctx,
		`INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)
		 RETURNING `+profileColumns,
		id, email, in.Name,
	))
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing registration: %w", err)
	}
	return u, nil
}

// Authenticate verifies credentials and returns the identity id. Unknown
// emails, wrong passwords and deactivated profiles all yield
// ErrInvalidCredentials. A missing profile does not fail here.
func (s *Store) Authenticate(ctx context.Context, email, password string) (string, error) {
	var (
		id     string
		hash   string
		active *bool
	)
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, a.password_hash, u.is_active
		 FROM auth_identities a LEFT JOIN users u ON u.id = a.id
		 WHERE a.email = $1`, normalizeEmail(email),
	).Scan(&id, &hash, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("looking up credentials: %w", err)
	}

	if !CheckPassword(hash, password) {
		return "", ErrInvalidCredentials
	}
	if active != nil && !*active {
		return "", ErrInvalidCredentials
	}

	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, s.now()); err != nil {
		return "", fmt.Errorf("recording login: %w", err)
	}
	return id, nil
}

// GetByID retrieves a profile by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Identity, error) {
	u, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting identity by id: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a profile by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	u, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("getting identity by email: %w", err)
	}
	return u, nil
}

// UpdateProfile performs a partial update of a profile.
func (s *Store) UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*Identity, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("full_name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *in.Active)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING `+profileColumns,
		strings.Join(setClauses, ", "), argIdx)

	u, err := scanIdentity(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("updating identity: %w", err)
	}
	return u, nil
}

// CheckPassword verifies a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateSession creates a new session for the given identity. It returns the
// opaque plaintext token (handed to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, identityID string) (string, *Session, error) {
	plaintext, err := newToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	sess := &Session{}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, identity_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, identity_id, created_at, expires_at`,
		hashToken(plaintext), identityID, now, now.Add(s.sessionDuration),
	).Scan(&sess.TokenHash, &sess.IdentityID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// SessionIdentity resolves a plaintext session token to the identity id it
// was issued for. Expired and unknown tokens yield ErrNotFound. The profile
// is deliberately not joined.
func (s *Store) SessionIdentity(ctx context.Context, plaintext string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT identity_id FROM sessions WHERE token_hash = $1 AND expires_at > now()`,
		hashToken(plaintext),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting session: %w", err)
	}
	return id, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hashToken(plaintext))
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
