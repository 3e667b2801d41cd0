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

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/opslog"
	"voicebridge/internal/status"
	"voicebridge/internal/telephony"
	"voicebridge/internal/transfer"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"

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

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
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

	// Call-control wiring, leaf-first: stores, carrier client, orchestrator,
	// reconciler, handlers.
	callStore := calls.NewPostgresStore(db)
	directory := calls.NewPostgresDirectory(db)
	messageRepo := status.NewPostgresMessageRepo(db)
	ops := opslog.NewService(opslog.NewPostgresRepo(db))
	carrier := telephony.NewRestClient(cfg.Twilio)

	transfers := transfer.NewService(
		transfer.NewRedisSessionStore(rdb),
		callStore,
		carrier,
		transfer.Config{
			CallerID:      cfg.Twilio.CallerID,
			PublicBaseURL: cfg.Twilio.PublicBaseURL,
			AcceptTimeout: cfg.Twilio.TransferAcceptTimeout,
		},
	)

	reconciler := status.NewReconciler(callStore, messageRepo, transfers, ops)

	webhooks := telephony.WebhookHandlers{
		Calls:      callStore,
		Directory:  directory,
		Transfers:  transfers,
		Reconciler: reconciler,
		Cfg:        cfg.Twilio,
	}
	api := httpapi.Handlers{
		Calls:     callStore,
		Transfers: transfers,
		Dialer:    carrier,
		Ops:       ops,
		Cfg:       cfg.Twilio,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		webhooks:  webhooks,
		api:       api,
		signature: telephony.NewSignatureValidator(cfg.Twilio.AuthToken),
		authMW:    auth.RequireAccessToken(authManager),
		baseURL:   cfg.Twilio.PublicBaseURL,
		db:        db,
		rdb:       rdb,
	})

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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
