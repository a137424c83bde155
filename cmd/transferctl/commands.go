package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/mobile-transfer/internal/app"
	"github.com/veranemoloko/mobile-transfer/internal/config"
	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/progress"
	"github.com/veranemoloko/mobile-transfer/internal/validation"
)

var (
	device     string
	location   string
	useNetwork bool

	appListPath     string
	allowedAccounts []string

	restoreMode     string
	restorePassword string
)

func init() {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up device data and optionally download its applications",
		RunE:  runBackup,
	}
	addDeviceFlags(backupCmd)
	backupCmd.Flags().StringVar(&appListPath, "apps", "", "YAML file listing applications to download into <location>/Applications")
	backupCmd.Flags().StringSliceVar(&allowedAccounts, "allowed-account", nil, "account allowed to own listed applications (repeatable)")
	rootCmd.AddCommand(backupCmd)

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore device data from a backup location",
		RunE:  runRestore,
	}
	addDeviceFlags(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreMode, "mode", string(domain.RestoreModeMerge), "replace, merge or merge_without_apps")
	restoreCmd.Flags().StringVar(&restorePassword, "password", "", "backup encryption password")
	rootCmd.AddCommand(restoreCmd)

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install every .ipa archive in a directory",
		RunE:  runInstall,
	}
	installCmd.Flags().StringVarP(&device, "device", "u", "", "device UDID")
	installCmd.Flags().StringVarP(&location, "location", "l", "", "directory holding .ipa archives")
	_ = installCmd.MarkFlagRequired("device")
	_ = installCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(installCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the versions of the configured engines",
		RunE:  runVersion,
	}
	rootCmd.AddCommand(versionCmd)
}

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&device, "device", "u", "", "device UDID")
	cmd.Flags().StringVarP(&location, "location", "l", "", "backup directory")
	cmd.Flags().BoolVarP(&useNetwork, "network", "n", false, "connect to the device over the network")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("location")
}

func runBackup(cmd *cobra.Command, args []string) error {
	req := &domain.CreateBackupRequest{
		Device:          device,
		Location:        location,
		UseNetwork:      useNetwork,
		AllowedAccounts: allowedAccounts,
	}
	if appListPath != "" {
		list, err := loadAppList(appListPath)
		if err != nil {
			return err
		}
		req.BackupApps = true
		req.Apps = list.Apps
		if len(req.AllowedAccounts) == 0 {
			req.AllowedAccounts = list.AllowedAccounts
		}
	}
	if err := validation.ValidateRequest(req); err != nil {
		return err
	}

	return runTask(cmd.Context(), func(ctx context.Context, a *app.App) (*domain.Task, error) {
		return a.TaskService.CreateBackup(ctx, req)
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	req := &domain.CreateRestoreRequest{
		Device:     device,
		Location:   location,
		UseNetwork: useNetwork,
		Mode:       domain.RestoreMode(restoreMode),
		Password:   restorePassword,
	}
	if err := validation.ValidateRequest(req); err != nil {
		return err
	}

	return runTask(cmd.Context(), func(ctx context.Context, a *app.App) (*domain.Task, error) {
		return a.TaskService.CreateRestore(ctx, req)
	})
}

func runInstall(cmd *cobra.Command, args []string) error {
	req := &domain.CreateInstallRequest{
		Device:   device,
		Location: location,
	}
	if err := validation.ValidateRequest(req); err != nil {
		return err
	}

	return runTask(cmd.Context(), func(ctx context.Context, a *app.App) (*domain.Task, error) {
		return a.TaskService.CreateInstall(ctx, req)
	})
}

func runVersion(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engines := []struct{ path, prefix string }{
		{cfg.BackupEngine, engine.BackupVersionPrefix},
		{cfg.InstallEngine, engine.InstallVersionPrefix},
	}
	for _, e := range engines {
		version, err := engine.ProbeVersion(cmd.Context(), e.path, e.prefix, logger)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: unavailable (%v)\n", e.path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.path, version)
	}
	return nil
}

type createFunc func(ctx context.Context, a *app.App) (*domain.Task, error)

// runTask starts a task in-process, prints progress until it finishes and
// cancels it on SIGINT or SIGTERM.
func runTask(parent context.Context, create createFunc) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	cfg.LogFormat = "text"
	logger := config.SetupLogger(cfg)

	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = a.TaskService.Shutdown(ctx)
	}()

	task, err := create(parent, a)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "task %s (%s) started\n", task.ID, task.Kind)

	updates, unsubscribe, err := a.TaskService.Watch(task.ID)
	if err != nil && !errors.Is(err, errpkg.ErrTaskFinished) {
		return err
	}
	if unsubscribe != nil {
		defer unsubscribe()
	}

	printer := &progressPrinter{out: os.Stderr}
	cancelled := false
	for updates != nil {
		select {
		case p, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if current, err := a.TaskService.GetTask(parent, task.ID); err == nil {
				printer.print(current, p)
			}
		case <-sigCtx.Done():
			if !cancelled {
				cancelled = true
				fmt.Fprintln(os.Stderr, "\ncancelling...")
				_ = a.TaskService.CancelTask(parent, task.ID)
			}
		}
	}

	if err := a.TaskService.Wait(context.Background(), task.ID); err != nil {
		return err
	}
	final, err := a.TaskService.GetTask(context.Background(), task.ID)
	if err != nil {
		return err
	}
	printer.print(final, final.Progress)
	fmt.Fprintln(os.Stderr)

	if final.Status != domain.TaskStatusCompleted {
		msg := string(final.Status)
		if final.Outcome != nil && final.Outcome.Message != "" {
			msg += ": " + final.Outcome.Message
		}
		return fmt.Errorf("task %s %s", task.ID, msg)
	}
	fmt.Fprintf(os.Stderr, "task %s completed\n", task.ID)
	return nil
}

// progressPrinter writes new log lines followed by a one-line progress summary.
type progressPrinter struct {
	out      io.Writer
	lastLog  time.Time
	lineOpen bool
}

func (p *progressPrinter) print(task *domain.Task, pr domain.Progress) {
	for _, entry := range task.Logs {
		if !entry.Time.After(p.lastLog) {
			continue
		}
		p.lastLog = entry.Time
		p.clearLine()
		prefix := ""
		if entry.IsError {
			prefix = "! "
		}
		fmt.Fprintf(p.out, "%s%s\n", prefix, entry.Text)
	}

	fmt.Fprintf(p.out, "\r[%s] %5.1f%%%s", task.Status, pr.Fraction()*100, itemSummary(task.Items))
	p.lineOpen = true
}

func (p *progressPrinter) clearLine() {
	if p.lineOpen {
		fmt.Fprint(p.out, "\r\033[K")
		p.lineOpen = false
	}
}

// itemSummary lists running items with their transfer speed.
func itemSummary(items []domain.ItemRecord) string {
	var parts []string
	for _, it := range items {
		if it.Status != domain.ItemStatusRunning {
			continue
		}
		name := it.Name
		if name == "" {
			name = it.ID
		}
		part := fmt.Sprintf("%s %.0f%%", name, it.Progress*100)
		if it.Speed > 0 {
			part += " " + progress.EncodeSize(it.Speed) + "/s"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, ", ")
}
