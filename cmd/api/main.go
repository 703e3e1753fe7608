package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/luvidal/jogiscraper/internal/api"
	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/internal/captcha"
	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/internal/delivery"
	"github.com/luvidal/jogiscraper/internal/portal"
	"github.com/luvidal/jogiscraper/internal/reqstate"
	"github.com/luvidal/jogiscraper/internal/request"
	"github.com/luvidal/jogiscraper/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to service configuration")
	addr := flag.String("addr", "", "HTTP listen address override")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.DB, logger)
	if err != nil {
		log.Fatalf("failed to initialise store: %v", err)
	}
	defer db.Close()

	state := reqstate.New(cfg.State, logger)
	defer state.Close()

	broker := browser.NewBroker(cfg.Browser, logger)
	solver := captcha.NewSolver(cfg.Captcha, logger)
	registry := portal.NewRegistry(portal.Deps{
		Broker: broker,
		Solver: solver,
		Civil:  cfg.Civil,
		Logger: logger,
	})

	pool, err := request.NewWorkerPool(ctx, cfg.Worker.Concurrency, cfg.Worker.QueueSize)
	if err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}

	dispatcher := delivery.NewDispatcher(logger,
		delivery.NewEmailChannel(cfg.SMTP, logger),
		delivery.NewUploadChannel(cfg.Upload, logger),
	)

	manager := request.NewManager(db, registry, pool, dispatcher, state, logger)
	server := api.NewServer(manager, state, cfg.Server.InternalKey, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		pool.Close()
	}()

	logger.Info("api server listening", "addr", cfg.Server.Addr,
		"workers", cfg.Worker.Concurrency)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("api server stopped")
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
