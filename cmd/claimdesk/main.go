package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/claimdesk/claimdesk/internal/app"
	"github.com/claimdesk/claimdesk/internal/audit"
	audithttp "github.com/claimdesk/claimdesk/internal/audit/http"
	"github.com/claimdesk/claimdesk/internal/auth"
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/claims"
	"github.com/claimdesk/claimdesk/internal/companies"
	"github.com/claimdesk/claimdesk/internal/damage"
	"github.com/claimdesk/claimdesk/internal/dashboard"
	"github.com/claimdesk/claimdesk/internal/guard"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/observability"
	"github.com/claimdesk/claimdesk/internal/platform/cache"
	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/users"
	"github.com/claimdesk/claimdesk/internal/view"
	"github.com/claimdesk/claimdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, db.Options{
		DSN:             cfg.PGDSN,
		MaxConns:        cfg.PGMaxConns,
		ApplicationName: "claimdesk",
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "claimdesk_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	backendClient := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err := backendClient.Health(ctx); err != nil {
		logger.Warn("claims backend unreachable", slog.Any("error", err))
	}

	provider := identity.NewProvider(backendClient, sessionManager, logger,
		identity.WithRefreshTimeout(cfg.RefreshTimeout),
		identity.WithRecorder(metrics),
	)

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logger.Error("init policy enforcer", slog.Any("error", err))
		os.Exit(1)
	}
	authzMiddleware := authz.Middleware{
		Principal: identity.PrincipalFromRequest,
		Enforcer:  enforcer,
		Recorder:  metrics,
		Logger:    logger,
	}

	gate := &guard.Gatekeeper{
		Store:     guard.NewRedisRetryStore(redisClient, 30*time.Minute),
		Identity:  provider,
		Templates: templates,
		CSRF:      csrfManager,
		Recorder:  metrics,
		Logger:    logger,
		LoginPath: "/auth/login",

		AttemptTimeout: 2 * cfg.RefreshTimeout,
	}

	authHandler := auth.NewHandler(logger, provider, templates, csrfManager, cfg.LoginRatePerMinute)

	auditLogger := audit.NewLogger(dbpool)
	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, templates, csrfManager, gate)

	usersService := users.NewService(users.NewRepository(dbpool), auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService, templates, csrfManager, gate, authzMiddleware)

	companiesService := companies.NewService(companies.NewRepository(dbpool), auditLogger, logger)
	companiesHandler := companies.NewHandler(logger, companiesService, templates, csrfManager, gate, authzMiddleware)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("queue inspector close", slog.Any("error", err))
		}
	}()

	claimsHandler := claims.NewHandler(claims.Deps{
		Logger:    logger,
		API:       backendClient,
		Tokens:    provider,
		Jobs:      jobClient,
		Reports:   damage.NewResultStore(redisClient, cfg.DamageResultTTL),
		Audit:     auditLogger,
		Templates: templates,
		CSRF:      csrfManager,
		Gate:      gate,
		Authz:     authzMiddleware,
	})

	dashboardHandler := dashboard.NewHandler(dashboard.Deps{
		Logger:    logger,
		Stats:     backendClient,
		Tokens:    provider,
		Companies: companiesService,
		System: func(ctx context.Context) dashboard.SystemInfo {
			info := dashboard.SystemInfo{
				Env:            cfg.AppEnv,
				BackendURL:     cfg.BackendURL,
				BackendBreaker: backendClient.BreakerState(),
				DamageURL:      cfg.DamageURL,
			}
			queue, err := inspector.GetQueueInfo(jobs.QueueDefault)
			if err != nil {
				info.QueueErr = err.Error()
				return info
			}
			info.QueuePending = queue.Pending
			info.QueueActive = queue.Active
			return info
		},
		Templates: templates,
		CSRF:      csrfManager,
		Gate:      gate,
	})

	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Identity:         provider,
		Gate:             gate,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		ClaimsHandler:    claimsHandler,
		UsersHandler:     usersHandler,
		CompaniesHandler: companiesHandler,
		AuditHandler:     auditHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
