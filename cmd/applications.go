package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/apperr"
)

var applicationsCmd = &cobra.Command{
	Use:   "applications",
	Short: "List submitted applications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetStringSlice("status")
		statuses := make([]applications.Status, 0, len(raw))
		for _, s := range raw {
			st := applications.Status(s)
			if !st.Valid() {
				return apperr.Validation("unknown status %q", s)
			}
			statuses = append(statuses, st)
		}

		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			records, err := a.Applications.List(ctx, statuses...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAPPLIED\tSTATUS\tSCORE\tROLE\tCOMPANY")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.AppliedAt.Local().Format(time.DateTime), r.Status, scoreText(r.MatchScore), r.RoleTitle, orDash(r.Company))
			}
			return w.Flush()
		})
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance ID STATUS",
	Short: "Move an application to interviewing, offered or rejected",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			record, err := a.Applications.Advance(ctx, args[0], applications.Status(args[1]))
			if err != nil {
				return err
			}
			a.Logger.Info("application advanced", zap.String("application_id", record.ID), zap.String("status", string(record.Status)))
			return nil
		})
	},
}

func init() {
	applicationsCmd.Flags().StringSlice("status", nil, "only applications with these statuses")
	applicationsCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(applicationsCmd)
}
