package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/mobile-transfer/internal/catalog"
	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/download"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/finalize"
	"github.com/veranemoloko/mobile-transfer/internal/repository"
)

const testDevice = "00008030-001A2D3E0C12802E"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// writeEngine creates an executable shell script standing in for an engine.
func writeEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write engine script: %v", err)
	}
	return path
}

func newTestService(t *testing.T, engines Engines, downloads *download.Controller) (*TaskService, *repository.TaskStorage) {
	t.Helper()
	repo, err := repository.NewTaskStorage(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.NotifyInterval = 10 * time.Millisecond
	opts.CancelGrace = 5 * time.Second

	svc := NewTaskService(repo, downloads, engines, opts, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, repo
}

func waitTask(t *testing.T, svc *TaskService, id uuid.UUID) *domain.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx, id))

	task, err := svc.GetTask(ctx, id)
	require.NoError(t, err)
	return task
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

func logTexts(task *domain.Task) string {
	var b strings.Builder
	for _, l := range task.Logs {
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func TestTaskService_BackupCompletes(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	exe := writeEngine(t, `echo "$@" > `+argsFile+`
printf '[=====     ] 50%% Finished\r[==========] 100%% Finished\n'
echo "Backup Successful."
exit 0`)

	svc, _ := newTestService(t, Engines{BackupPath: exe, BackupVersion: "1.3.0"}, nil)
	location := filepath.Join(t.TempDir(), "backup")

	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:   testDevice,
		Location: location,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	require.NotNil(t, final.Outcome)
	assert.True(t, final.Outcome.IsSuccess())
	assert.Equal(t, domain.NewProgress(100, 100), final.Progress)

	logs := logTexts(final)
	assert.Contains(t, logs, exe)
	assert.Contains(t, logs, "Core Version: 1.3.0")
	assert.Contains(t, logs, "Core Command: -u "+testDevice+" backup "+location)
	assert.Contains(t, logs, "Backup Successful.")
	assert.Contains(t, logs, "result: 0")

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-u "+testDevice+" backup "+location, strings.TrimSpace(string(args)))

	info, err := os.Stat(location)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTaskService_BackupNonZeroExit(t *testing.T) {
	exe := writeEngine(t, `echo "device locked" >&2
exit 3`)
	svc, _ := newTestService(t, Engines{BackupPath: exe}, nil)

	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:   testDevice,
		Location: t.TempDir(),
	})
	require.NoError(t, err)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	require.NotNil(t, final.Outcome)
	assert.Equal(t, domain.ReasonProcessNonZeroExit, final.Outcome.Reason)
	assert.Contains(t, final.Outcome.Message, "exit code 3")
	assert.Contains(t, final.Outcome.Message, "device locked")
	assert.ErrorIs(t, final.Outcome.Err(), errpkg.ErrProcessNonZeroExit)
	assert.Equal(t, domain.NewProgress(100, 100), final.Progress)
}

func TestTaskService_BackupSpawnFailure(t *testing.T) {
	svc, _ := newTestService(t, Engines{BackupPath: filepath.Join(t.TempDir(), "missing")}, nil)

	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:   testDevice,
		Location: t.TempDir(),
	})
	require.NoError(t, err)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	require.NotNil(t, final.Outcome)
	assert.Equal(t, domain.ReasonProcessSpawnFailed, final.Outcome.Reason)
}

func TestTaskService_CancelRunningBackup(t *testing.T) {
	exe := writeEngine(t, `echo "Starting backup..."
sleep 30`)
	svc, repo := newTestService(t, Engines{BackupPath: exe}, nil)

	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:   testDevice,
		Location: t.TempDir(),
	})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		got, err := repo.GetTask(context.Background(), task.ID)
		return err == nil && strings.Contains(logTexts(got), "Starting backup...")
	})

	require.NoError(t, svc.CancelTask(context.Background(), task.ID))

	started := time.Now()
	final := waitTask(t, svc, task.ID)
	assert.Less(t, time.Since(started), 10*time.Second)
	assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	assert.Contains(t, logTexts(final), "Terminated by request.")

	err = svc.CancelTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, errpkg.ErrTaskFinished)
}

func TestTaskService_CancelUnknownTask(t *testing.T) {
	svc, _ := newTestService(t, Engines{}, nil)

	err := svc.CancelTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrTaskNotFound)
}

func TestTaskService_RestoreUsesSourceLink(t *testing.T) {
	location := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	linkFile := filepath.Join(t.TempDir(), "link")
	// $4 is the --source value; record whether the link resolves while running.
	exe := writeEngine(t, `echo "$@" > `+argsFile+`
if [ -L "`+location+`/$4" ]; then echo ok > `+linkFile+`; fi
echo "[==========] 100% Finished"`)

	svc, _ := newTestService(t, Engines{BackupPath: exe}, nil)
	task, err := svc.CreateRestore(context.Background(), &domain.CreateRestoreRequest{
		Device:   testDevice,
		Location: location,
		Mode:     domain.RestoreModeReplace,
		Password: "secret",
	})
	require.NoError(t, err)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t,
		"-u "+testDevice+" --source "+task.ID.String()+" restore --password secret --system --settings --remove "+location,
		strings.TrimSpace(string(args)))

	_, err = os.Stat(linkFile)
	assert.NoError(t, err, "source link should exist while the engine runs")

	_, err = os.Lstat(filepath.Join(location, task.ID.String()))
	assert.True(t, os.IsNotExist(err), "source link should be removed afterwards")

	logs := logTexts(final)
	assert.Contains(t, logs, "--password ********")
	assert.NotContains(t, logs, "secret")
	assert.Contains(t, logs, "starting command...")
}

func TestTaskService_InstallReportsFailures(t *testing.T) {
	archives := t.TempDir()
	for _, name := range []string{"a.ipa", "b.ipa", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(archives, name), []byte("x"), 0644))
	}
	exe := writeEngine(t, `case "$4" in
*b.ipa) echo "bad archive" >&2; exit 1 ;;
esac
exit 0`)

	svc, _ := newTestService(t, Engines{InstallPath: exe, InstallVersion: "1.1.1"}, nil)
	task, err := svc.CreateInstall(context.Background(), &domain.CreateInstallRequest{
		Device:   testDevice,
		Location: archives,
	})
	require.NoError(t, err)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	require.NotNil(t, final.Outcome)
	assert.Contains(t, final.Outcome.Message, "b.ipa")
	assert.NotContains(t, final.Outcome.Message, "a.ipa")
	assert.Equal(t, domain.NewProgress(100, 100), final.Progress)

	require.Len(t, final.Items, 2)
	statuses := map[string]domain.ItemStatus{}
	for _, it := range final.Items {
		statuses[it.ID] = it.Status
	}
	assert.Equal(t, domain.ItemStatusSucceeded, statuses["a.ipa"])
	assert.Equal(t, domain.ItemStatusFailed, statuses["b.ipa"])

	logs := logTexts(final)
	assert.Contains(t, logs, "Installing 2 apps...")
	assert.Contains(t, logs, "Install Completed: a.ipa")
	assert.Contains(t, logs, "Install Failed b.ipa: 1")
	assert.Contains(t, logs, "bad archive")
}

func TestTaskService_RecoverInterruptedTasks(t *testing.T) {
	repo, err := repository.NewTaskStorage(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	stale := &domain.Task{
		ID:        uuid.New(),
		Kind:      domain.TaskKindBackup,
		Status:    domain.TaskStatusInProgress,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	done := &domain.Task{
		ID:        uuid.New(),
		Kind:      domain.TaskKindInstall,
		Status:    domain.TaskStatusCompleted,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateTask(context.Background(), stale))
	require.NoError(t, repo.CreateTask(context.Background(), done))

	svc := NewTaskService(repo, nil, Engines{}, DefaultOptions(), newTestLogger())
	defer svc.Shutdown(context.Background())

	require.NoError(t, svc.RecoverInterruptedTasks(context.Background()))

	got, err := repo.GetTask(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, "interrupted by restart", got.Outcome.Message)

	got, err = repo.GetTask(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestTaskService_WatchDeliversProgress(t *testing.T) {
	exe := writeEngine(t, `echo "[==   ] 20% Finished"
sleep 0.3
echo "[==== ] 80% Finished"
sleep 0.3`)
	svc, _ := newTestService(t, Engines{BackupPath: exe}, nil)

	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:   testDevice,
		Location: t.TempDir(),
	})
	require.NoError(t, err)

	updates, unsubscribe, err := svc.Watch(task.ID)
	require.NoError(t, err)
	defer unsubscribe()

	var last domain.Progress
	for p := range updates {
		assert.GreaterOrEqual(t, p.Completed, last.Completed, "progress went backwards")
		last = p
	}
	assert.Equal(t, domain.NewProgress(100, 100), last)

	waitTask(t, svc, task.ID)
	_, _, err = svc.Watch(task.ID)
	assert.ErrorIs(t, err, errpkg.ErrTaskFinished)
}

func buildArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Payload/App.app/Info.plist")
	require.NoError(t, err)
	_, err = w.Write([]byte("plist"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestTaskService_BackupDownloadsApplications(t *testing.T) {
	archive := buildArchive(t)
	sum := md5.Sum(archive)
	checksum := hex.EncodeToString(sum[:])

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lookup":
			if r.URL.Query().Get("bundleId") != "com.example.app" {
				_ = json.NewEncoder(w).Encode(map[string]any{"resultCount": 0, "results": []any{}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"resultCount": 1,
				"results": []map[string]string{{
					"bundleId":    "com.example.app",
					"trackName":   "Example",
					"version":     "2.0",
					"downloadUrl": server.URL + "/files/app.ipa",
					"md5":         checksum,
				}},
			})
		case "/files/app.ipa":
			http.ServeContent(w, r, "app.ipa", time.Now(), bytes.NewReader(archive))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	logger := newTestLogger()
	opts := download.DefaultOptions()
	opts.RetryBudget = 2
	opts.RetryDelay = 10 * time.Millisecond
	opts.LookupPasses = 1
	controller := download.NewController(
		catalog.NewHTTPLookup(server.URL, 5*time.Second, logger),
		catalog.NewAccountStore(catalog.Account{Email: "owner@example.com", CountryCode: "US", DirectoryServicesID: "1"}),
		download.NewHTTPTransport(50*time.Millisecond, logger),
		finalize.NewMetadataFinalizer(logger),
		t.TempDir(),
		opts,
		logger,
	)

	exe := writeEngine(t, `echo "[==========] 100% Finished"`)
	svc, _ := newTestService(t, Engines{BackupPath: exe}, controller)

	location := filepath.Join(t.TempDir(), "backup")
	task, err := svc.CreateBackup(context.Background(), &domain.CreateBackupRequest{
		Device:     testDevice,
		Location:   location,
		BackupApps: true,
		Apps: []domain.WorkItem{
			{ID: "com.example.app"},
			{ID: "com.example.missing"},
		},
	})
	require.NoError(t, err)

	final := waitTask(t, svc, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status, "app failures do not fail the backup")
	assert.Equal(t, domain.NewProgress(200, 200), final.Progress)

	placed := filepath.Join(location, ApplicationsDir, "com.example.app+"+checksum+".ipa")
	zr, err := zip.OpenReader(placed)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, finalize.MetadataEntry)

	require.Len(t, final.Items, 2)
	byID := map[string]domain.ItemRecord{}
	for _, it := range final.Items {
		byID[it.ID] = it
	}
	assert.Equal(t, domain.ItemStatusSucceeded, byID["com.example.app"].Status)
	assert.Equal(t, "Example", byID["com.example.app"].Name)
	assert.Equal(t, domain.ItemStatusFailed, byID["com.example.missing"].Status)
	require.NotNil(t, byID["com.example.missing"].Outcome)
	assert.Equal(t, domain.ReasonLookupFailed, byID["com.example.missing"].Outcome.Reason)

	assert.Contains(t, logTexts(final), "1 of 2 applications failed to download")
}
