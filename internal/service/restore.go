package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
)

// runRestore exposes the backup location to the engine as <location>/<task id>,
// which the engine resolves as its --source, and removes the link afterwards.
func (s *TaskService) runRestore(ctx context.Context, at *activeTask, r domain.CreateRestoreRequest) domain.TaskOutcome {
	logger := s.logger.With("task_id", at.id)
	source := at.id.String()
	link := filepath.Join(r.Location, source)

	if err := createSourceLink(link, r.Location); err != nil {
		at.logError("failed to create link: %v", err)
		return domain.Failed(domain.ReasonInternal, fmt.Errorf("failed to create link: %w", err))
	}
	defer func() {
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove restore link", "path", link, "error", err)
		}
	}()

	at.log("starting command...")
	return s.runDeviceProcess(ctx, at, deviceProcess{
		engine:     engine.BackupVersionPrefix,
		executable: s.engines.BackupPath,
		version:    s.engines.BackupVersion,
		args: engine.RestoreArgs(engine.RestoreOptions{
			Device:     r.Device,
			Source:     source,
			Target:     r.Location,
			UseNetwork: r.UseNetwork,
			Password:   r.Password,
			Mode:       r.Mode,
		}),
	})
}

func createSourceLink(link, target string) error {
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	return os.Symlink(abs, link)
}
