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

	"voicedesk/internal/agents"
	"voicedesk/internal/auth"
	"voicedesk/internal/config"
	"voicedesk/internal/httpapi"
	"voicedesk/internal/identity"
	"voicedesk/internal/notify"
	"voicedesk/internal/orgs"
	"voicedesk/internal/reporting"
	"voicedesk/internal/session"
	"voicedesk/internal/telephony"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Identity)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	identitySvc, err := identity.NewService(identity.Options{
		BaseURL:  cfg.Identity.URL,
		AnonKey:  cfg.Identity.AnonKey,
		Retry:    utils.RetryPolicy{MaxRetries: cfg.Identity.MaxRetries},
		Verifier: authManager,
		Store:    identity.NewRedisTokenStore(rdb, 0),
		Logger:   log.With("component", "identity"),
	})
	if err != nil {
		log.Error("identity init failed", "err", err)
		os.Exit(1)
	}

	provider, err := telephony.NewVapiProvider(telephony.VapiOptions{
		BaseURL: cfg.CallAPI.BaseURL,
		APIKey:  cfg.CallAPI.APIKey,
		Timeout: cfg.CallAPI.Timeout,
		Retry:   utils.RetryPolicy{MaxRetries: cfg.CallAPI.MaxRetries},
		Logger:  log.With("component", "telephony"),
	})
	if err != nil {
		log.Error("call api init failed", "err", err)
		os.Exit(1)
	}
	if err := provider.HealthCheck(rootCtx); err != nil {
		// Dashboards degrade to zeroed statistics; keep serving.
		log.Warn("call api unreachable at startup", "err", err)
	}

	orgResolver := orgs.NewResolver(orgs.NewPostgresRepo(db, cfg.DB.EnforceRLS, authManager), log.With("component", "orgs"))
	notes := notify.NewService(notify.NewRedisRepo(rdb), log.With("component", "notify"))

	registry := session.NewRegistry(session.RegistryOptions{
		Clients:     func(sid string) session.IdentityClient { return identitySvc.Client(sid) },
		Orgs:        orgResolver,
		Notifier:    notes,
		Logger:      log.With("component", "session"),
		InitTimeout: cfg.Session.InitTimeout,
	})
	defer registry.Shutdown()

	agentRepo := agents.NewPostgresRepo(db)
	agentSvc := agents.NewService(agents.Options{
		Repo:     agentRepo,
		Provider: provider,
		Orgs:     orgResolver,
		Notifier: notes,
		Logger:   log.With("component", "agents"),
	})
	reconciler := agents.NewReconciler(agentRepo, provider, rdb, log.With("component", "reconciler"))

	reports := reporting.NewService(reporting.Options{
		Source:   provider,
		Limit:    cfg.Stats.FetchLimit,
		Location: cfg.StatsLocation(),
		Logger:   log.With("component", "reporting"),
	})

	jobs, err := scheduleJobs(rootCtx, log, cfg, reconciler, registry)
	if err != nil {
		log.Error("job scheduling failed", "err", err)
		os.Exit(1)
	}
	jobs.Start()

	h := httpapi.Handlers{
		Sessions:     registry,
		Paths:        session.NewRedisPathMemory(rdb),
		Notes:        notes,
		Reports:      reports,
		Agents:       agentSvc,
		Voices:       provider,
		CookieSecure: cfg.Session.CookieSecure,
		Ready: []httpapi.ReadyCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) }},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
			{Name: "call_api", Check: provider.HealthCheck},
		},
	}
	r := newRouter(log, h, auth.RequireSession(authManager, registry, orgResolver.Lookup))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Wait for a running reconcile pass before closing its dependencies.
	select {
	case <-jobs.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("background jobs did not stop in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
