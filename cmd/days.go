package cmd

import (
	"fmt"

	"github.com/naka-gawa/grade-report/internal/dateutil"
	"github.com/spf13/cobra"
)

func newDaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "days <date>",
		Short: "Prints the number of days from today to an ISO-8601 date",
		Long: `Prints the number of days from today to an ISO-8601 date or date-time, as computed
for the days remaining column of the reports. Past dates give a negative number.`,
		Example: `  grade-report days 2024-01-01T00:00:00+00:00
  grade-report days 2099-12-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := dateutil.DaysRemaining(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), days)
			return nil
		},
	}
}
