// Package engine builds command lines for the external backup and install engines.
package engine

import (
	"strings"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/supervisor"
)

// Known banner prefixes printed by the engines' version flag.
const (
	BackupVersionPrefix  = "idevicebackup2"
	InstallVersionPrefix = "ideviceinstaller"
)

// BackupOptions configures a device-data backup.
type BackupOptions struct {
	Device     string
	Target     string
	UseNetwork bool
	Full       bool
	Extra      []string
}

// RestoreOptions configures a device-data restore. Source names the backup
// directory below Target that the engine reads from.
type RestoreOptions struct {
	Device     string
	Source     string
	Target     string
	UseNetwork bool
	Password   string
	Mode       domain.RestoreMode
	Extra      []string
}

// InstallOptions configures installation of one application archive.
type InstallOptions struct {
	Device  string
	Archive string
	Upgrade bool
}

// BackupArgs returns the argument vector for a backup run.
func BackupArgs(o BackupOptions) []string {
	args := []string{"-u", normalizeDevice(o.Device)}
	if o.UseNetwork {
		args = append(args, "-n")
	}
	args = append(args, "backup")
	if o.Full {
		args = append(args, "--full")
	}
	args = append(args, o.Extra...)
	return append(args, o.Target)
}

// RestoreArgs returns the argument vector for a restore run.
func RestoreArgs(o RestoreOptions) []string {
	args := []string{"-u", normalizeDevice(o.Device), "--source", o.Source}
	if o.UseNetwork {
		args = append(args, "-n")
	}
	args = append(args, "restore")
	if o.Password != "" {
		args = append(args, "--password", o.Password)
	}
	args = append(args, ModeFlags(o.Mode)...)
	args = append(args, o.Extra...)
	return append(args, o.Target)
}

// InstallArgs returns the argument vector for installing one archive.
func InstallArgs(o InstallOptions) []string {
	verb := "install"
	if o.Upgrade {
		verb = "upgrade"
	}
	return []string{"-u", normalizeDevice(o.Device), verb, o.Archive}
}

// ModeFlags maps a restore mode to engine flags.
func ModeFlags(mode domain.RestoreMode) []string {
	switch mode {
	case domain.RestoreModeReplace:
		return []string{"--system", "--settings", "--remove"}
	case domain.RestoreModeMerge, domain.RestoreModeMergeWithoutApplication:
		return []string{"--system", "--settings"}
	}
	return nil
}

// Command wraps an executable path and arguments for the supervisor.
func Command(executable string, args []string) supervisor.Command {
	return supervisor.Command{Path: executable, Args: args}
}

// RedactArgs hides the value following --password for logging.
func RedactArgs(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--password" {
			out[i+1] = "********"
		}
	}
	return strings.Join(out, " ")
}

func normalizeDevice(udid string) string {
	return strings.ToUpper(strings.TrimSpace(udid))
}
