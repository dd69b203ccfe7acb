package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/quotedesk/internal/api"
	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/backend"
	"github.com/alecgard/quotedesk/internal/config"
	"github.com/alecgard/quotedesk/internal/metrics"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/ratelimit"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quotedesk HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

const sessionSweepInterval = time.Hour

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		st := pool.Stat()
		return metrics.PoolStats{
			Total:         st.TotalConns(),
			Idle:          st.IdleConns(),
			Acquired:      st.AcquiredConns(),
			Max:           st.MaxConns(),
			EmptyAcquires: st.EmptyAcquireCount(),
		}
	})

	userStore := user.NewStore(pool, cfg.Session.Duration)
	orgStore := org.NewStore(pool)
	auditStore := audit.NewStore(pool)

	collector := audit.NewCollector(auditStore, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	collector.OnFlush(m.ObserveAuditFlush)
	m.RegisterAuditBuffer(collector.Pending)

	quotes := quote.NewService(quote.NewStore(pool), orgStore,
		quote.WithRecorder(collector),
		quote.WithTransitionObserver(func(trigger string, _, _ quote.Status, err error) {
			m.ObserveTransition(trigger, api.TransitionOutcome(err))
		}),
	)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Login > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Login, cfg.RateLimit.Window)
	}

	router := api.NewRouter(api.RouterDeps{
		Users:          userStore,
		Orgs:           org.NewService(orgStore),
		Directory:      backend.NewDirectory(orgStore),
		Quotes:         quotes,
		AuditLog:       auditStore,
		Recorder:       collector,
		Metrics:        m,
		LoginLimiter:   limiter,
		DB:             pool,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		collector.Start(gctx)
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx, cfg.RateLimit.Window)
			return nil
		})
	}
	g.Go(func() error {
		sweepSessions(gctx, userStore)
		return nil
	})
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return drain(shutdownCtx, srv, collector)
	})

	return g.Wait()
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// drain stops the server, then flushes audit entries recorded by handlers
// that completed during shutdown, after the collector loop's last flush.
func drain(ctx context.Context, srv shutdowner, collector *audit.Collector) error {
	err := srv.Shutdown(ctx)
	collector.Stop()
	collector.Flush()
	return err
}

func sweepSessions(ctx context.Context, users *user.Store) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.CleanExpiredSessions(ctx)
			if err != nil {
				slog.Error("cleaning expired sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("cleaned expired sessions", "count", n)
			}
		}
	}
}
