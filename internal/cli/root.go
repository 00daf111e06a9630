// Package cli implements the ccplane command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agusx1211/ccplane/internal/buildinfo"
	"github.com/agusx1211/ccplane/internal/config"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/theme"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ccplane",
		Short: "Supervise long-lived Claude agent sessions",
		Long: `ccplane runs a set of terminals, each hosting a Claude agent session
driven over stream-json. Sessions survive restarts through their persisted
session ids and can be closed and resumed at will. Background jobs started
from inside a session are discovered and linked back to their terminal.

Run ` + "`ccplane serve`" + ` to start the control plane.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.ccplane/debug/")
	root.PersistentFlags().String("config", "", "Config file (default ~/.ccplane/config.yaml)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init("")
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), theme.Dim.Render("[debug] logging to "+logPath))
		bi := buildinfo.Current()
		debug.LogKV("cli", "ccplane starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}

	root.AddCommand(newServeCmd(), newLsCmd(), newVersionCmd())
	return root
}

// loadConfig reads --config, or the default config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(config.ExpandHome(path))
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := newRootCmd().Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintln(os.Stderr, theme.TerminalStatus("dead").Render("Error: "+err.Error()))
		debug.Close()
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
