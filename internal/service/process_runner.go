package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/engine"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/metrics"
	"github.com/veranemoloko/mobile-transfer/internal/progress"
	"github.com/veranemoloko/mobile-transfer/internal/supervisor"
)

const stderrTailLines = 10

// deviceProcess is one engine run whose output drives the task's overall and
// current progress channels.
type deviceProcess struct {
	engine     string
	executable string
	version    string
	args       []string
}

// runDeviceProcess spawns the engine, parses its output into the task tracker and
// forces overall progress to complete once the process is gone.
func (s *TaskService) runDeviceProcess(ctx context.Context, at *activeTask, p deviceProcess) domain.TaskOutcome {
	logger := s.logger.With("task_id", at.id, "engine", p.engine)

	at.agg.Register(subsystemDevice)
	changed := func() {
		at.agg.Update(subsystemDevice, at.tracker.Overall())
		at.agg.Touch()
	}

	at.log("%s", p.executable)
	at.log("Core Version: %s", p.version)
	at.log("Core Command: %s", engine.RedactArgs(p.args))

	var splitter supervisor.LineSplitter
	handle := func(line string) {
		entry := progress.ParseLine(line)
		if entry.Kind == progress.KindLog {
			logger.Debug("engine output", "line", entry.Text)
		}
		if at.tracker.Apply(entry) {
			changed()
		}
	}

	sup := supervisor.New(engine.Command(p.executable, p.args), logger)
	receipt, err := sup.Run(ctx,
		func(pid int) {
			logger.Info("engine process started", "pid", pid)
		},
		func(chunk string) {
			for _, line := range splitter.Feed(chunk) {
				handle(line)
			}
		},
	)
	if rest := splitter.Flush(); rest != "" {
		handle(rest)
	}

	outcome := processOutcome(ctx, p.engine, sup, receipt, err)
	if receipt != nil {
		at.log("result: %d", receipt.ExitCode)
	}
	reportOutcome(at, outcome, receipt)

	at.tracker.SetOverall(domain.NewProgress(progress.OverallPercentTotal, progress.OverallPercentTotal))
	changed()
	return outcome
}

// processOutcome maps a supervisor result onto the failure taxonomy.
func processOutcome(ctx context.Context, engineName string, sup *supervisor.Supervisor, receipt *supervisor.Receipt, err error) domain.TaskOutcome {
	var outcome domain.TaskOutcome
	result := "success"

	switch {
	case err != nil && errors.Is(err, errpkg.ErrProcessSpawn):
		outcome = domain.Failed(domain.ReasonProcessSpawnFailed, err)
		result = "spawn_failed"
	case err != nil && ctx.Err() != nil:
		return domain.Cancelled()
	case err != nil && errors.Is(err, errpkg.ErrProcessTerminated):
		outcome = domain.Failed(domain.ReasonProcessTerminated, nil)
		result = "terminated"
	case err != nil:
		outcome = domain.Failed(domain.ReasonProcessSpawnFailed, err)
		result = "spawn_failed"
	case sup.Terminated():
		outcome = domain.Failed(domain.ReasonProcessTerminated, nil)
		result = "terminated"
	case receipt.ExitCode == 0:
		outcome = domain.Success()
	default:
		cause := fmt.Errorf("exit code %d", receipt.ExitCode)
		if tail := supervisor.StderrTail(receipt.Stderr, stderrTailLines); tail != "" {
			cause = fmt.Errorf("exit code %d: %s", receipt.ExitCode, tail)
		}
		outcome = domain.Failed(domain.ReasonProcessNonZeroExit, cause)
		result = "exit_" + strconv.Itoa(receipt.ExitCode)
	}

	metrics.ProcessExits.WithLabelValues(engineName, result).Inc()
	return outcome
}

func reportOutcome(at *activeTask, outcome domain.TaskOutcome, receipt *supervisor.Receipt) {
	switch outcome.Reason {
	case domain.ReasonProcessTerminated:
		at.logError("Terminated by request.")
	case domain.ReasonProcessSpawnFailed:
		at.logError("failed to start process: %s", outcome.Message)
	case domain.ReasonProcessNonZeroExit:
		if receipt != nil {
			if tail := supervisor.StderrTail(receipt.Stderr, stderrTailLines); tail != "" {
				at.logError("%s", tail)
			}
		}
	}
}
