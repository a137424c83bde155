package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/mobile-transfer/internal/api/http"
	"github.com/veranemoloko/mobile-transfer/internal/app"
	cfgpkg "github.com/veranemoloko/mobile-transfer/internal/config"
)

func main() {

	cfg, err := cfgpkg.Load(".env")
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("failed to prepare working directories", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := a.TaskService.RecoverInterruptedTasks(ctx); err != nil {
		logger.Error("failed to recover interrupted tasks", "error", err)
	}

	router := h.NewRouter(a.TaskService, a.Engines, logger)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		IdleTimeout: cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := a.TaskService.Shutdown(shutdownCtx); err != nil {
		logger.Error("task service shutdown failed", "error", err)
	}
}
