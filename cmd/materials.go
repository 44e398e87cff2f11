package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
)

var tailorCmd = &cobra.Command{
	Use:   "tailor-cv ID",
	Short: "Tailor the CV to a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queued, _ := cmd.Flags().GetBool("queue")
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			if queued {
				return enqueue(a, "cv tailoring", func() (string, error) { return a.Queue.TailorCV(ctx, args[0]) })
			}
			cv, err := a.Materials.TailorCV(ctx, args[0])
			if err != nil {
				return err
			}
			a.Logger.Info("cv tailored",
				zap.String("job_id", cv.JobID),
				zap.Int("ats_score", cv.ATSScore),
				zap.Strings("missing_keywords", cv.MissingKeywords),
				zap.Bool("refined", cv.Refined),
			)
			return nil
		})
	},
}

var coverLetterCmd = &cobra.Command{
	Use:   "cover-letter ID",
	Short: "Generate a cover letter for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, _ := cmd.Flags().GetString("variant")
		queued, _ := cmd.Flags().GetBool("queue")
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			if queued {
				return enqueue(a, "cover letter", func() (string, error) { return a.Queue.CoverLetter(ctx, args[0], variant) })
			}
			letter, err := a.Materials.GenerateCoverLetter(ctx, args[0], variant)
			if err != nil {
				return err
			}
			a.Logger.Info("cover letter generated", zap.String("job_id", letter.JobID), zap.String("variant", letter.Variant))
			cmd.Println(letter.Content)
			return nil
		})
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize ID",
	Short: "Render and store the tailored CV and cover letters of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			export, err := a.Materials.Finalize(ctx, args[0])
			if err != nil {
				return err
			}
			a.Logger.Info("materials finalized",
				zap.String("job_id", export.JobID),
				zap.String("archive", export.ArchivePath),
				zap.String("cv", export.CVPath),
			)
			return nil
		})
	},
}

var materialsCmd = &cobra.Command{
	Use:   "materials ID",
	Short: "Show the generated materials of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			m, err := a.Materials.Materials(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

func enqueue(a *App, what string, fn func() (string, error)) error {
	if a.Queue == nil {
		return apperr.NotReady("queueing requires redis.addr")
	}
	id, err := fn()
	if err != nil {
		return err
	}
	a.Logger.Info(what+" queued", zap.String("task_id", id))
	return nil
}

func init() {
	tailorCmd.Flags().Bool("queue", false, "hand generation to the background worker")
	coverLetterCmd.Flags().String("variant", "", "letter style, e.g. professional or concise (default from materials.default-variant)")
	coverLetterCmd.Flags().Bool("queue", false, "hand generation to the background worker")

	rootCmd.AddCommand(tailorCmd, coverLetterCmd, finalizeCmd, materialsCmd)
}
