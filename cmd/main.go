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

	"fluxdigest/internal/config"
	"fluxdigest/internal/database"
	"fluxdigest/internal/digest"
	"fluxdigest/internal/jobs"
	"fluxdigest/internal/push"
	"fluxdigest/internal/scheduler"
	"fluxdigest/internal/server"
	"fluxdigest/internal/settings"
	"fluxdigest/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	credVault, err := vault.New(cfg.VaultKey)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize vault",
			"error", err,
			"envVar", "VAULT_KEY")

		return
	}

	settingsSvc := settings.NewService(db, credVault)
	generator := digest.NewGenerator(db, log)
	dispatcher := push.NewDispatcher(log)
	jobStore := jobs.NewMemoryStore(jobs.TTL)
	runner := digest.NewTaskRunner(settingsSvc, generator, dispatcher, log)

	sched := scheduler.New(ctx, db, runner, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started")

	srv := server.New(db, settingsSvc, generator, jobStore, sched, dispatcher, log)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil &&
			!errors.Is(serveErr, http.ErrServerClosed) {
			log.ErrorContext(ctx, "HTTP server failed",
				"error", serveErr,
				"addr", cfg.Addr)
			cancel()
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"addr", cfg.Addr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to shut down HTTP server",
			"error", err)
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}
