package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
	"github.com/veranemoloko/mobile-transfer/internal/executor"
	"github.com/veranemoloko/mobile-transfer/internal/supervisor"
)

// ArchiveExt is the extension of installable application archives.
const ArchiveExt = ".ipa"

func (s *TaskService) runInstall(ctx context.Context, at *activeTask, r domain.CreateInstallRequest) domain.TaskOutcome {
	archives, err := listArchives(r.Location)
	if err != nil {
		at.logError("failed to list archives: %v", err)
		return domain.Failed(domain.ReasonInternal, err)
	}

	total := int64(len(archives))
	at.agg.Register(subsystemInstall)
	at.agg.Update(subsystemInstall, domain.NewProgress(0, total))

	at.log("%s", s.engines.InstallPath)
	at.log("Core Version: %s", s.engines.InstallVersion)
	at.log("Installing %d apps...", len(archives))

	records := make([]domain.ItemRecord, len(archives))
	for i, a := range archives {
		records[i] = domain.ItemRecord{ID: a, Name: a, Status: domain.ItemStatusPending}
	}
	at.setItems(records)

	var finished int64
	var failed []string
	outcomes := executor.Run(ctx, archives, s.opts.InstallConcurrency,
		func(ctx context.Context, name string) domain.TaskOutcome {
			at.updateItem(name, func(rec *domain.ItemRecord) {
				rec.Status = domain.ItemStatusRunning
			})
			at.agg.Touch()
			return s.installOne(ctx, at, r, name)
		},
		func(c executor.Completion[string]) {
			finished++
			outcome := c.Outcome
			at.updateItem(c.Item, func(rec *domain.ItemRecord) {
				rec.Status = domain.ItemStatusFor(outcome)
				rec.Outcome = &outcome
				if outcome.IsSuccess() {
					rec.Progress = 1
				}
			})
			if outcome.IsFailed() {
				failed = append(failed, c.Item)
			}
			at.agg.Update(subsystemInstall, domain.NewProgress(finished, total))
			at.agg.Touch()
		},
	)

	if total == 0 {
		at.agg.Update(subsystemInstall, domain.NewProgress(1, 1))
	}
	if ctx.Err() != nil {
		return domain.Cancelled()
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		at.logError("Failed to install %d apps: %s", len(failed), strings.Join(failed, ", "))
		return domain.Failed(domain.ReasonProcessNonZeroExit,
			fmt.Errorf("failed to install %s", strings.Join(failed, ", ")))
	}

	s.logger.Info("install finished", "task_id", at.id, "apps", len(outcomes))
	return domain.Success()
}

func (s *TaskService) installOne(ctx context.Context, at *activeTask, r domain.CreateInstallRequest, name string) domain.TaskOutcome {
	logger := s.logger.With("task_id", at.id, "archive", name)
	at.log("Requested %s", name)

	sup := supervisor.New(engine.Command(s.engines.InstallPath, engine.InstallArgs(engine.InstallOptions{
		Device:  r.Device,
		Archive: filepath.Join(r.Location, name),
	})), logger)

	receipt, err := sup.Run(ctx, nil, func(chunk string) {
		logger.Debug("engine output", "chunk", chunk)
	})

	outcome := processOutcome(ctx, engine.InstallVersionPrefix, sup, receipt, err)
	switch {
	case outcome.IsSuccess():
		at.log("Install Completed: %s", name)
	case receipt != nil:
		at.logError("Install Failed %s: %d", name, receipt.ExitCode)
		if tail := supervisor.StderrTail(receipt.Stderr, stderrTailLines); tail != "" {
			at.logError("%s", tail)
		}
	default:
		at.logError("Install Failed %s: %s", name, outcome.Message)
	}
	return outcome
}

// listArchives returns the archive file names in dir, sorted.
func listArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ArchiveExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
