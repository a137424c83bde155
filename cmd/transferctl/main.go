package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string
	rootCmd = &cobra.Command{
		Use:   "transferctl",
		Short: "Back up, restore and install device content",
		Long: `transferctl runs backup, restore and install tasks against a connected
device using the configured engines, printing progress until the task ends.
Settings are read from MT_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with MT_* settings")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
