// Package server is the composition root: it builds the services from
// config, mounts every route and runs the HTTP server until its context is
// cancelled.
//
// DEPENDENCY FLOW:
//
//	config ─┬─ TokenService, PasswordService ─┐
//	        └─ sqlite.DB (opened by main) ─────┼─ services ─ handlers ─ routes
//	prometheus.Registry ─ metrics.Collector ───┘
//
// One TokenService is created here and shared read-only by every request;
// the signing secret never leaves this package after construction.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/config"
	"github.com/sakif/codehost/internal/handler"
	"github.com/sakif/codehost/internal/metrics"
	"github.com/sakif/codehost/internal/middleware"
	"github.com/sakif/codehost/internal/repository/sqlite"
	"github.com/sakif/codehost/internal/sanitize"
	"github.com/sakif/codehost/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	// How long an idle client keeps its rate limit bucket.
	limiterTTL = 10 * time.Minute
)

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *chi.Mux
	limiter *middleware.RateLimiter
}

// Option customizes New. Used by tests to stand in for GitHub.
type Option func(*options)

type options struct {
	github handler.GitHubSignIn
}

// WithGitHub replaces the GitHub OAuth client built from config and mounts
// the GitHub routes even when no client credentials are configured.
func WithGitHub(gh handler.GitHubSignIn) Option {
	return func(o *options) { o.github = gh }
}

// New wires every layer. db stays owned by the caller.
func New(cfg *config.Config, db *sqlite.DB, reg *prometheus.Registry, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("server: creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("server: creating password service: %w", err)
	}

	github := o.github
	if github == nil && cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL())
	}

	collector := metrics.NewCollector(reg)
	svcOpts := []service.Option{
		service.WithTimeout(cfg.OperationTimeout),
		service.WithRecorder(collector),
	}
	san := sanitize.New()

	identity := service.NewIdentityService(db, tokens, passwords, san, logger, svcOpts...)
	accounts := service.NewAccountService(db, san, logger, svcOpts...)
	repos := service.NewRepositoryService(db, san, logger, svcOpts...)
	allocator := service.NewSequenceAllocator(db, cfg.SequenceMaxAttempts, logger, svcOpts...)
	issues := service.NewIssueService(db, db, db, allocator, san, logger, svcOpts...)
	prs := service.NewPullRequestService(db, db, allocator, san, logger, svcOpts...)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
		limiter: middleware.NewRateLimiter(cfg.AuthRatePerMinute, cfg.AuthRateBurst, limiterTTL, logger),
	}

	s.routes(routeDeps{
		identity:  identity,
		authH:     handler.NewAuthHandler(identity, github, logger),
		githubOn:  github != nil,
		userH:     handler.NewUserHandler(accounts, repos, logger),
		repoH:     handler.NewRepositoryHandler(repos, logger),
		issueH:    handler.NewIssueHandler(issues, logger),
		prH:       handler.NewPullRequestHandler(prs, logger),
		db:        db,
		gatherer:  reg,
		collector: collector,
	})
	return s, nil
}

type routeDeps struct {
	identity  *service.IdentityService
	authH     *handler.AuthHandler
	githubOn  bool
	userH     *handler.UserHandler
	repoH     *handler.RepositoryHandler
	issueH    *handler.IssueHandler
	prH       *handler.PullRequestHandler
	db        handler.Pinger
	gatherer  prometheus.Gatherer
	collector *metrics.Collector
}

// routes mounts the API.
//
// ROUTES (under /api/v1 unless noted):
//
//	GET    /health, /metrics                     (root)
//	POST   /auth/register, /auth/login           rate limited
//	POST   /auth/logout
//	GET    /auth/me            POST /auth/refresh            bearer
//	GET    /auth/github/login, /auth/github/callback         when configured
//	GET    /users, /users/{username}, /users/{username}/repos
//	PUT    /users/{username}                                  bearer
//	POST   /repos                                             bearer
//	GET    /repos/{owner}/{repo}
//	PUT    DELETE /repos/{owner}/{repo}                       bearer
//	GET    PUT DELETE /repos/{owner}/{repo}/star              bearer
//	GET    /repos/{owner}/{repo}/issues[/{number}]
//	POST   /repos/{owner}/{repo}/issues                       bearer
//	PATCH  /repos/{owner}/{repo}/issues/{number}              bearer
//	POST   /repos/{owner}/{repo}/issues/{number}/assignees    bearer
//	GET    /repos/{owner}/{repo}/pulls[/{number}]
//	POST   /repos/{owner}/{repo}/pulls                        bearer
//	PATCH  /repos/{owner}/{repo}/pulls/{number}               bearer
//	PUT    /repos/{owner}/{repo}/pulls/{number}/merge         bearer
//	PATCH  /repos/{owner}/{repo}/pulls/{number}/close|reopen  bearer
//
// MIDDLEWARE ORDER:
// RequestID first so the logger can read it, RealIP before anything that
// keys on the client address, Recoverer inside the logger so a panic is
// logged as a 500.
func (s *Server) routes(d routeDeps) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(d.collector))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handler.Health(d.db, s.logger))
	r.Handle("/metrics", metrics.Handler(d.gatherer))

	requireAuth := auth.RequireAuth(d.identity, s.logger)
	optionalAuth := auth.OptionalAuth(d.identity)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(s.limiter.Middleware).Post("/register", d.authH.Register)
			r.With(s.limiter.Middleware).Post("/login", d.authH.Login)
			r.Post("/logout", d.authH.Logout)
			r.With(requireAuth).Get("/me", d.authH.Me)
			r.With(requireAuth).Post("/refresh", d.authH.Refresh)
			if d.githubOn {
				r.Get("/github/login", d.authH.GitHubLogin)
				r.Get("/github/callback", d.authH.GitHubCallback)
			}
		})

		r.Route("/users", func(r chi.Router) {
			r.With(optionalAuth).Get("/", d.userH.List)
			r.With(optionalAuth).Get("/{username}", d.userH.Get)
			r.With(optionalAuth).Get("/{username}/repos", d.userH.Repositories)
			r.With(requireAuth).Put("/{username}", d.userH.Update)
		})

		r.With(requireAuth).Post("/repos", d.repoH.Create)
		r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(optionalAuth)
				r.Get("/", d.repoH.Get)
				r.Get("/issues", d.issueH.List)
				r.Get("/issues/{number}", d.issueH.Get)
				r.Get("/pulls", d.prH.List)
				r.Get("/pulls/{number}", d.prH.Get)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Put("/", d.repoH.Update)
				r.Delete("/", d.repoH.Delete)

				r.Get("/star", d.repoH.StarStatus)
				r.Put("/star", d.repoH.Star)
				r.Delete("/star", d.repoH.Unstar)

				r.Post("/issues", d.issueH.Create)
				r.Patch("/issues/{number}", d.issueH.Update)
				r.Post("/issues/{number}/assignees", d.issueH.Assign)

				r.Post("/pulls", d.prH.Create)
				r.Patch("/pulls/{number}", d.prH.Update)
				r.Put("/pulls/{number}/merge", d.prH.Merge)
				r.Patch("/pulls/{number}/close", d.prH.Close)
				r.Patch("/pulls/{number}/reopen", d.prH.Reopen)
			})
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then gives in-flight requests up to
// 30 seconds to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listening: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.limiter.Run(ctx.Done())
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
