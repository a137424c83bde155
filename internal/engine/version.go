package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veranemoloko/mobile-transfer/internal/supervisor"
)

const probeTimeout = 10 * time.Second

// ProbeVersion runs "<executable> -v" and returns its first stdout line with
// prefix removed. It is meant to run once at startup for diagnostics.
func ProbeVersion(ctx context.Context, executable, prefix string, logger *slog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	sup := supervisor.New(Command(executable, []string{"-v"}), logger)
	receipt, err := sup.Run(ctx, nil, nil)
	if err != nil {
		return "", fmt.Errorf("probe version of %s: %w", executable, err)
	}
	if receipt.ExitCode != 0 {
		return "", fmt.Errorf("probe version of %s: exit code %d", executable, receipt.ExitCode)
	}
	return trimVersion(receipt.Stdout, prefix), nil
}

func trimVersion(stdout, prefix string) string {
	line := strings.TrimSpace(stdout)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.TrimPrefix(line, prefix)
	return strings.TrimSpace(line)
}
