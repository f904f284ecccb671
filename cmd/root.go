// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configFile string
	verbosity  int
	jsonLogs   bool
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "grade-report",
		Short: "A CLI tool to report the health grades of container images.",
		Long: `grade-report builds, for each configured product listing of the container catalog,
a report of the health grades of every supported image tag, sorted by the days remaining
before the next grade drop. Reports can be mailed as HTML, written to disk, posted to Slack
or printed as JSON.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "use a specific configuration file")
	rootCmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "write console logs as JSON")

	rootCmd.AddCommand(newReportCmd(flags), newDaysCmd(), newVersionCmd())
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
