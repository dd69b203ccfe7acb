package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/auth"
	"github.com/alecgard/quotedesk/internal/metrics"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/ratelimit"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Identities is the credential and profile store the API uses. *user.Store
// implements it.
type Identities interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.Identity, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	CreateSession(ctx context.Context, identityID string) (string, *user.Session, error)
	SessionIdentity(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
	GetByID(ctx context.Context, id string) (*user.Identity, error)
	GetByEmail(ctx context.Context, email string) (*user.Identity, error)
}

// AuditReader reads an organization's audit log. *audit.Store implements it.
type AuditReader interface {
	List(ctx context.Context, q audit.Query) ([]*audit.Entry, string, error)
}

// Pinger reports database reachability. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Users     Identities
	Orgs      *org.Service
	Directory session.Directory
	Quotes    *quote.Service
	AuditLog  AuditReader
	Recorder  quote.Recorder
	Metrics   *metrics.Metrics
	// LoginLimiter throttles login attempts per client IP. Nil disables it.
	LoginLimiter   *ratelimit.Limiter
	DB             Pinger
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger(deps.Metrics))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	authH := newAuthHandler(deps.Users, deps.Orgs, deps.Directory, deps.Recorder, deps.Metrics)
	orgs := newOrgHandler(deps.Orgs, deps.Directory, deps.Recorder)
	members := newMemberHandler(deps.Orgs, deps.Users, deps.Recorder)
	quotes := newQuoteHandler(deps.Quotes)
	auditH := newAuditHandler(deps.AuditLog)

	r.Get("/health", healthHandler(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/api/v1/metrics/summary", deps.Metrics.Handler())
	}

	r.Route("/api/v1/auth", func(ar chi.Router) {
		ar.Post("/signup", authH.Signup)
		ar.Group(func(lr chi.Router) {
			if deps.LoginLimiter != nil {
				lr.Use(ratelimit.Middleware(deps.LoginLimiter, ratelimit.ClientIP, func() {
					if deps.Metrics != nil {
						deps.Metrics.IncRateLimitRejection("login")
					}
				}))
			}
			lr.Post("/login", authH.Login)
		})
		ar.Group(func(sr chi.Router) {
			sr.Use(auth.SessionMiddleware(deps.Users))
			sr.Post("/logout", authH.Logout)
			sr.Get("/me", authH.Me)
		})
	})

	r.Route("/api/v1/orgs", func(or chi.Router) {
		or.Use(auth.SessionMiddleware(deps.Users))

		or.Get("/", orgs.List)
		or.Post("/", orgs.Create)

		or.Route("/{orgID}", func(sr chi.Router) {
			sr.Use(auth.OrgMiddleware(deps.Directory, orgIDParam, activationObserver(deps.Metrics)))

			sr.Get("/", orgs.Get)
			sr.With(auth.RequireCapability(auth.IsAdmin, "only admins can change organization settings")).
				Put("/settings", orgs.UpdateSettings)

			sr.Route("/members", func(mr chi.Router) {
				mr.Use(auth.RequireCapability(auth.CanManageUsers, "managing members requires the manage users capability"))
				mr.Get("/", members.List)
				mr.Post("/", members.Add)
				mr.Put("/{userID}", members.Update)
				mr.Delete("/{userID}", members.Remove)
			})

			sr.Route("/quotes", func(qr chi.Router) {
				qr.Get("/", quotes.List)
				qr.Post("/", quotes.Create)
				qr.Get("/{id}", quotes.Get)
				qr.Put("/{id}", quotes.Update)
				qr.Delete("/{id}", quotes.Delete)
				qr.Post("/{id}/{action}", quotes.Act)
			})

			sr.With(auth.RequireCapability(auth.CanViewAuditLog, "viewing the audit log requires the view audit log capability")).
				Get("/audit", auditH.List)
		})
	})

	return r
}

func orgIDParam(r *http.Request) string {
	return chi.URLParam(r, "orgID")
}

func activationObserver(m *metrics.Metrics) auth.ActivationObserver {
	if m == nil {
		return nil
	}
	return m.ObserveActivation
}

// healthHandler reports liveness and, when a database is configured, whether
// it answers a ping.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
	}
}
