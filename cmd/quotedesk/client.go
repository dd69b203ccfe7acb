package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/backend"
	"github.com/alecgard/quotedesk/internal/config"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/secret"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
)

// client is the single actor a CLI invocation acts as. Its session and
// selected organization survive between invocations in the state file.
type client struct {
	pool      *pgxpool.Pool
	users     *user.Store
	sessions  *session.Store
	orgs      *org.Service
	quotes    *quote.Service
	collector *audit.Collector
}

func openClient(ctx context.Context) (*client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sealer, err := secret.NewSealer(cfg.Client.StateKey)
	if err != nil {
		return nil, fmt.Errorf("client.state_key: %w", err)
	}
	keys := session.NewFileKeyStore(cfg.Client.StateFile, sealer)

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	users := user.NewStore(pool, cfg.Session.Duration)
	orgStore := org.NewStore(pool)
	collector := audit.NewCollector(audit.NewStore(pool), cfg.Audit.BatchSize, cfg.Audit.FlushInterval)

	c := &client{
		pool:     pool,
		users:    users,
		sessions: session.New(backend.NewPostgres(users, orgStore, keys), keys, session.WithLogger(slog.Default())),
		orgs:     org.NewService(orgStore),
		quotes: quote.NewService(quote.NewStore(pool), orgStore,
			quote.WithRecorder(collector),
		),
		collector: collector,
	}
	c.sessions.Init(ctx)
	return c, nil
}

// Close flushes pending audit entries and releases the database pool.
func (c *client) Close() {
	c.collector.Flush()
	c.sessions.Close()
	c.pool.Close()
}

// actor returns the signed-in identity within its active organization.
func (c *client) actor() (quote.Actor, error) {
	a, err := c.sessions.Actor()
	switch {
	case errors.Is(err, session.ErrNotSignedIn):
		return a, errors.New("not signed in: run `quotedesk login`")
	case errors.Is(err, session.ErrNoActiveOrganization):
		return a, errors.New("no active organization: run `quotedesk org switch <id>`")
	}
	return a, err
}

// requireIdentity returns the signed-in identity or an error naming the
// state the store is in.
func (c *client) requireIdentity() (*user.Identity, error) {
	st := c.sessions.State()
	if st.Identity != nil {
		return st.Identity, nil
	}
	if st.Err != nil {
		return nil, fmt.Errorf("not signed in: %w", st.Err)
	}
	return nil, errors.New("not signed in: run `quotedesk login`")
}

// record writes an audit entry for actions outside the quote service.
func (c *client) record(orgID, actorID, action, resourceType, resourceID string) {
	c.collector.Record(audit.Entry{
		OrganizationID: orgID,
		ActorID:        actorID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
	})
}

// withClient opens a client for the duration of fn.
func withClient(ctx context.Context, fn func(*client) error) error {
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// readSecret reads one line from r after printing prompt to w.
func readSecret(r io.Reader, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
