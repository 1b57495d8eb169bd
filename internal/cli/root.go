// Package cli implements the daemon's command-line entrypoint: a single
// executable taking exactly one positional argument, a configuration file
// path or the "-12" sentinel to load configuration from AELITA_-prefixed
// environment variables. There is no subcommand tree; everything the
// daemon does happens during one Run invocation, matching the teacher's
// cobra-root-command shape (cmd/factory + internal/cli) scaled down to a
// single long-running command instead of a command-per-verb CLI.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SetVersion records the build-time version string for the --version flag.
func SetVersion(v string) {
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "aelitaqueue <config-path>|-12",
	Short: "aelitaqueue — a not-rocket-science merge queue gatekeeper",
	Long: `aelitaqueue serializes pull request merges through a staging branch and a
configurable set of CI channels, so master only ever advances one commit at
a time and only after CI has actually tested the commit about to land.

The sole positional argument is either a path to a YAML config file or the
literal sentinel -12, which loads configuration from AELITA_-prefixed
environment variables instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return runDaemon(cmd.Context(), cfg)
	},
}

// Execute runs the root command against os.Args.
func Execute() error {
	return rootCmd.Execute()
}
