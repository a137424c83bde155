package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/download"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
)

// ApplicationsDir is the directory below a backup location holding downloaded archives.
const ApplicationsDir = "Applications"

func (s *TaskService) runBackup(ctx context.Context, at *activeTask, r domain.CreateBackupRequest) domain.TaskOutcome {
	logger := s.logger.With("task_id", at.id)

	if err := os.MkdirAll(r.Location, 0755); err != nil {
		at.logError("failed to create backup location: %v", err)
		return domain.Failed(domain.ReasonInternal, fmt.Errorf("failed to create backup location: %w", err))
	}

	at.agg.Register(subsystemDevice)

	var items []domain.WorkItem
	if r.BackupApps {
		items = backupItems(r, filepath.Join(r.Location, ApplicationsDir))
		if len(items) > 0 && s.downloads == nil {
			at.logError("application downloads are not configured, skipping %d apps", len(items))
			items = nil
		}
	}
	if len(items) > 0 {
		at.agg.Register(subsystemApplications)
		at.setItems(pendingRecords(items))
	}

	var deviceOutcome domain.TaskOutcome
	var appOutcomes []domain.TaskOutcome

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deviceOutcome = s.runDeviceProcess(gctx, at, deviceProcess{
			engine:     engine.BackupVersionPrefix,
			executable: s.engines.BackupPath,
			version:    s.engines.BackupVersion,
			args: engine.BackupArgs(engine.BackupOptions{
				Device:     r.Device,
				Target:     r.Location,
				UseNetwork: r.UseNetwork,
			}),
		})
		return nil
	})
	if len(items) > 0 {
		g.Go(func() error {
			appOutcomes = s.runApplications(gctx, at, items)
			return nil
		})
	}
	_ = g.Wait()

	failedApps := 0
	for _, o := range appOutcomes {
		if o.IsFailed() {
			failedApps++
		}
	}
	if len(items) > 0 {
		logger.Info("application downloads finished",
			"total", len(items),
			"failed", failedApps,
		)
		if failedApps > 0 {
			at.logError("%d of %d applications failed to download", failedApps, len(items))
		}
	}

	if ctx.Err() != nil && !deviceOutcome.IsSuccess() {
		return domain.Cancelled()
	}
	return deviceOutcome
}

// runApplications downloads the backup's application archives and mirrors the batch
// state into the task.
func (s *TaskService) runApplications(ctx context.Context, at *activeTask, items []domain.WorkItem) []domain.TaskOutcome {
	at.log("Downloading %d apps...", len(items))

	batch := download.NewBatch(s.downloads, s.opts.DownloadConcurrency, s.logger.With("task_id", at.id))
	seenLogs := 0
	batch.OnChange = func(snap download.Snapshot) {
		for _, line := range snap.Logs[seenLogs:] {
			at.tracker.AppendLog(line, false)
		}
		seenLogs = len(snap.Logs)

		applySnapshot(at, snap)
		at.agg.Update(subsystemApplications, snap.Progress())
		at.agg.Touch()
	}
	return batch.Run(ctx, items)
}

func backupItems(r domain.CreateBackupRequest, targetDir string) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, len(r.Apps))
	for _, app := range r.Apps {
		item := app
		if item.Account == "" {
			item.Account = domain.AnyAccount
		}
		if len(item.AllowedAccounts) == 0 {
			item.AllowedAccounts = r.AllowedAccounts
		}
		item.TargetDir = targetDir
		items = append(items, item)
	}
	return items
}

func pendingRecords(items []domain.WorkItem) []domain.ItemRecord {
	records := make([]domain.ItemRecord, len(items))
	for i, item := range items {
		records[i] = domain.ItemRecord{
			ID:     item.ID,
			Name:   item.Name,
			Status: domain.ItemStatusPending,
		}
	}
	return records
}

func applySnapshot(at *activeTask, snap download.Snapshot) {
	running := func(st download.ItemState) func(*domain.ItemRecord) {
		return func(rec *domain.ItemRecord) {
			copyState(rec, st)
			rec.Status = domain.ItemStatusRunning
		}
	}
	finished := func(st download.ItemState) func(*domain.ItemRecord) {
		return func(rec *domain.ItemRecord) {
			copyState(rec, st)
			if st.Outcome != nil {
				rec.Status = domain.ItemStatusFor(*st.Outcome)
			}
		}
	}

	for _, st := range snap.Running {
		at.updateItem(st.ID, running(st))
	}
	for _, st := range snap.Succeeded {
		at.updateItem(st.ID, finished(st))
	}
	for _, st := range snap.Failed {
		at.updateItem(st.ID, finished(st))
	}
}

func copyState(rec *domain.ItemRecord, st download.ItemState) {
	if st.Name != "" {
		rec.Name = st.Name
	}
	rec.Version = st.Version
	rec.Avatar = st.Avatar
	rec.Progress = st.Progress
	rec.Speed = st.Speed
	if st.Outcome != nil {
		o := *st.Outcome
		rec.Outcome = &o
	}
}
