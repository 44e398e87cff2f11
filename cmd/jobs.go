package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/listing"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest URL",
	Short: "Fetch a job posting page, store it and score it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			job, err := a.Discovery.IngestURL(ctx, args[0])
			if err != nil {
				return err
			}
			a.Logger.Info("job ingested",
				zap.String("job_id", job.ID),
				zap.String("title", job.Title),
				zap.String("company", job.Company),
				zap.String("score", scoreText(job.MatchScore)),
			)
			return nil
		})
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search the job board with queries derived from the profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		queued, _ := cmd.Flags().GetBool("queue")
		dump, _ := cmd.Flags().GetBool("dump")
		reviewOnly, _ := cmd.Flags().GetBool("review-only")
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			if queued {
				return enqueue(a, "discovery", func() (string, error) { return a.Queue.Discover(ctx) })
			}

			kept, report, err := a.Discovery.Collect(ctx)
			if err != nil {
				return err
			}
			if err := printCompanies(cmd.OutOrStdout(), kept); err != nil {
				return err
			}
			if dump {
				filename, err := kept.DumpToTmpFile()
				if err != nil {
					return fmt.Errorf("dump postings to file: %w", err)
				}
				a.Logger.Info("dumping postings to file", zap.String("filename", filename))
			}
			if reviewOnly {
				return nil
			}

			report, err = a.Discovery.Ingest(ctx, kept, report)
			if err != nil {
				return err
			}
			a.Logger.Info("discovery finished",
				zap.Int("queries", report.Queries),
				zap.Int("found", report.Found),
				zap.Int("filtered", report.Filtered),
				zap.Int("ingested", report.Ingested),
				zap.Int("duplicates", report.Duplicates),
				zap.Int("failed", report.Failed),
			)
			return nil
		})
	},
}

// printCompanies writes the postings grouped by company as indented JSON.
func printCompanies(w io.Writer, kept *listing.Postings) error {
	if err := printJSON(w, kept.ReportByCompany()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d postings kept\n", kept.Len())
	return err
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, best match first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		minScore, _ := cmd.Flags().GetInt("min-score")
		all, _ := cmd.Flags().GetBool("all")

		f := jobs.Filter{IncludeFiltered: all}
		for _, s := range statuses {
			st := jobs.Status(strings.TrimSpace(s))
			if !st.Valid() {
				return apperr.Validation("unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}
		if cmd.Flags().Changed("min-score") {
			f.MinScore = &minScore
		}

		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCORE\tSTATUS\tTITLE\tCOMPANY\tLOCATION")

			count := 0
			for job, err := range a.Jobs.List(ctx, f) {
				if err != nil {
					return err
				}
				title := job.Title
				if job.FilteredOut {
					title += " (filtered: " + job.FilterReason + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					job.ID, scoreText(job.MatchScore), job.Status, title, orDash(job.Company), orDash(job.Location))
				count++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			a.Logger.Debug("listed jobs", zap.Int("count", count))
			return nil
		})
	},
}

func transitionCmd(use, short string, action jobs.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
				job, err := a.Jobs.Transition(ctx, args[0], action)
				if err != nil {
					return err
				}
				a.Logger.Info("job status changed", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
				return nil
			})
		},
	}
}

var scoreCmd = &cobra.Command{
	Use:   "score [ID]",
	Short: "Score one job, or every unscored job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rescore, _ := cmd.Flags().GetBool("rescore")
		queued, _ := cmd.Flags().GetBool("queue")

		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			if queued {
				return enqueue(a, "scoring", func() (string, error) {
					if len(args) == 1 {
						return a.Queue.ScoreJob(ctx, args[0])
					}
					return a.Queue.ScoreAll(ctx, rescore)
				})
			}

			if len(args) == 0 {
				n, err := a.Scorer.ScoreAll(ctx, rescore)
				if err != nil {
					return err
				}
				a.Logger.Info("jobs scored", zap.Int("count", n))
				return nil
			}

			job, err := a.Scorer.ScoreJob(ctx, args[0])
			if err != nil {
				return err
			}
			fields := []zap.Field{
				zap.String("job_id", job.ID),
				zap.String("score", scoreText(job.MatchScore)),
				zap.Strings("matched", job.MatchedSkills),
				zap.Strings("missing", job.MissingSkills),
			}
			if job.FilteredOut {
				fields = append(fields, zap.String("filtered", job.FilterReason))
			}
			a.Logger.Info("job scored", fields...)
			return nil
		})
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details ID",
	Short: "Show a job; --fetch refetches the posting to backfill the description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fetch, _ := cmd.Flags().GetBool("fetch")
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			var job *jobs.Job
			var err error
			if fetch {
				job, err = a.Discovery.CaptureDetails(ctx, args[0])
			} else {
				job, err = a.Jobs.Get(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		})
	},
}

func init() {
	discoverCmd.Flags().Bool("queue", false, "hand the run to the background worker")
	discoverCmd.Flags().Bool("dump", false, "write the postings kept by the filters to a temporary file")
	discoverCmd.Flags().Bool("review-only", false, "print the postings kept by the filters without storing them")

	listCmd.Flags().StringSlice("status", nil, "only jobs with these statuses (interested, shortlisted, rejected)")
	listCmd.Flags().Int("min-score", 0, "only jobs scored at least this")
	listCmd.Flags().Bool("all", false, "include jobs removed by hard filters")

	scoreCmd.Flags().Bool("rescore", false, "score jobs that already have a score too")
	scoreCmd.Flags().Bool("queue", false, "hand scoring to the background worker")

	detailsCmd.Flags().Bool("fetch", false, "refetch the posting page first")

	rootCmd.AddCommand(
		ingestCmd,
		discoverCmd,
		listCmd,
		transitionCmd("shortlist", "Shortlist a job", jobs.ActionShortlist),
		transitionCmd("reject", "Reject a job", jobs.ActionReject),
		transitionCmd("revert", "Move a job back to interested", jobs.ActionRevert),
		scoreCmd,
		detailsCmd,
	)
}
