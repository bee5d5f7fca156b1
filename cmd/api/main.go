package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"voicedial-platform/internal/auth"
	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/config"
	"voicedial-platform/internal/engine"
	"voicedial-platform/internal/httpapi"
	"voicedial-platform/internal/scheduler"
	"voicedial-platform/internal/telephony"
	"voicedial-platform/internal/usersettings"
	"voicedial-platform/pkg/logger"
	"voicedial-platform/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		logger.New("").Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Best effort: containers inject env directly, local runs use .env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.App.Env)
	log.Info("starting voicedial api", "env", cfg.App.Env, "port", cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return err
	}
	defer rdb.Close()

	authMgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	campaignStore := campaign.NewPostgresStore(db)
	historyStore := callhistory.NewPostgresStore(db)
	settingsStore := usersettings.NewPostgresStore(db)

	engineClient := engine.NewHTTPClient(cfg.Engine)
	dialer := telephony.NewDialer(cfg.Webhook.BaseURL,
		telephony.NewTwilioBridger(),
		telephony.NewPlivoBridger(),
		telephony.NewTelnyxBridger(),
	)

	sched := scheduler.New(campaignStore, historyStore, settingsStore, engineClient, dialer,
		log, scheduler.Config{
			TickInterval:       cfg.Scheduler.TickInterval,
			StaleCallThreshold: cfg.Scheduler.StaleCallThreshold,
			MaxCallDuration:    cfg.Scheduler.MaxCallDuration,
			RetryBusy:          cfg.Scheduler.RetryBusy,
		})
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Webhook.BaseURL != "" {
		cleanup := registerEngineWebhook(ctx, log, rdb, engineClient, cfg)
		defer cleanup()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Log:      log,
		Auth:     authMgr,
		Webhooks: httpapi.NewWebhookHandler(sched, rdb, cfg.Engine.WebhookSecret),
		Admin:    httpapi.NewAdminHandler(sched, campaignStore),
		DBHealth: func() error { return utils.HealthCheck(context.Background(), db, 2*time.Second) },
		Redis:    rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	_ = logger.ShutdownFlush(shutdownCtx, time.Second)
	return nil
}
