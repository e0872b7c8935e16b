// Runbox — sandboxed execution of external commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Runbox — run untrusted commands under resource isolation.",
	Long: `Runbox executes external commands inside an isolation backend (a supervised
local process or an ephemeral container), stages input files in, collects
output artifacts, and records every invocation in an execution history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (or RUNBOX_CONFIG env, default ~/.runbox/config.yaml)")
	rootCmd.AddCommand(execCmd, skillCmd, historyCmd, cleanCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
