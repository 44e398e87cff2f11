package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/jobs"
)

const (
	PromptShortlist = "Shortlist"
	PromptReject    = "Reject"
	PromptDetails   = "Show details"
	PromptTailor    = "Tailor CV"
	PromptSkip      = "Skip"
	PromptExit      = "Exit"
)

var errExit = errors.New("exit requested")

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk through interested jobs and decide on each",
	RunE: func(cmd *cobra.Command, _ []string) error {
		minScore, _ := cmd.Flags().GetInt("min-score")
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			f := jobs.Filter{Statuses: []jobs.Status{jobs.StatusInterested}}
			if cmd.Flags().Changed("min-score") {
				f.MinScore = &minScore
			}
			pending, err := jobs.Collect(a.Jobs.List(ctx, f))
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				a.Logger.Info("exiting", zap.String("reason", "no jobs to review"))
				return nil
			}

			a.Logger.Info("jobs to review", zap.Int("count", len(pending)))
			for i, job := range pending {
				err := review(ctx, a, job, i+1, len(pending))
				if errors.Is(err, errExit) {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func review(ctx context.Context, a *App, job *jobs.Job, n, total int) error {
	for {
		prompt := promptui.Select{
			Label: fmt.Sprintf("[%d/%d] %s / %s / %s, score %s",
				n, total, job.Title, orDash(job.Company), orDash(job.Location), scoreText(job.MatchScore)),
			Items: []string{PromptShortlist, PromptReject, PromptDetails, PromptTailor, PromptSkip, PromptExit},
		}

		_, action, err := prompt.Run()
		if err != nil {
			return err
		}

		switch action {
		case PromptShortlist, PromptReject:
			target := jobs.ActionShortlist
			if action == PromptReject {
				target = jobs.ActionReject
			}
			updated, err := a.Jobs.Transition(ctx, job.ID, target)
			if err != nil {
				return err
			}
			a.Logger.Info("job status changed", zap.String("job_id", updated.ID), zap.String("status", string(updated.Status)))
			return nil
		case PromptDetails:
			a.Logger.Info(job.Title,
				zap.String("job_id", job.ID),
				zap.String("source", job.SourceURL),
				zap.Strings("matched", job.MatchedSkills),
				zap.Strings("missing", job.MissingSkills),
				zap.String("summary", job.Summary),
				zap.String("highlights", job.Highlights),
			)
			fmt.Println(strings.TrimSpace(job.Description))
		case PromptTailor:
			cv, err := a.Materials.TailorCV(ctx, job.ID)
			if err != nil {
				a.Logger.Warn("tailoring failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			a.Logger.Info("cv tailored", zap.String("job_id", job.ID), zap.Int("ats_score", cv.ATSScore))
		case PromptSkip:
			return nil
		case PromptExit:
			return errExit
		default:
			return fmt.Errorf("invalid action: %s", action)
		}
	}
}

func init() {
	reviewCmd.Flags().Int("min-score", 0, "only review jobs scored at least this")
	rootCmd.AddCommand(reviewCmd)
}
