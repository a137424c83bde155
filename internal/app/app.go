// Package app assembles the task service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veranemoloko/mobile-transfer/internal/catalog"
	"github.com/veranemoloko/mobile-transfer/internal/config"
	"github.com/veranemoloko/mobile-transfer/internal/download"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
	"github.com/veranemoloko/mobile-transfer/internal/finalize"
	"github.com/veranemoloko/mobile-transfer/internal/repository"
	"github.com/veranemoloko/mobile-transfer/internal/service"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Repo        *repository.TaskStorage
	TaskService *service.TaskService
	Engines     service.Engines
}

// New builds the repository, download pipeline and task service. Engine version
// probes that fail are logged and leave the version empty.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	repo, err := repository.NewTaskStorage(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task repository: %w", err)
	}

	accounts, err := catalog.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	logger.Info("accounts loaded", "count", len(accounts.Accounts()), "path", cfg.AccountsFile)

	controller := download.NewController(
		catalog.NewHTTPLookup(cfg.CatalogBaseURL, cfg.CatalogTimeout, logger),
		accounts,
		download.NewHTTPTransport(cfg.SpeedSampleInterval, logger),
		finalize.NewMetadataFinalizer(logger),
		cfg.TempDir,
		cfg.DownloadOptions(),
		logger,
	)

	engines := service.Engines{
		BackupPath:  cfg.BackupEngine,
		InstallPath: cfg.InstallEngine,
	}
	engines.BackupVersion = probe(ctx, cfg.BackupEngine, engine.BackupVersionPrefix, logger)
	engines.InstallVersion = probe(ctx, cfg.InstallEngine, engine.InstallVersionPrefix, logger)

	taskService := service.NewTaskService(repo, controller, engines, cfg.ServiceOptions(), logger)

	return &App{
		Repo:        repo,
		TaskService: taskService,
		Engines:     engines,
	}, nil
}

func probe(ctx context.Context, executable, prefix string, logger *slog.Logger) string {
	version, err := engine.ProbeVersion(ctx, executable, prefix, logger)
	if err != nil {
		logger.Warn("failed to probe engine version", "engine", executable, "error", err)
		return ""
	}
	logger.Info("engine detected", "engine", executable, "version", version)
	return version
}
