package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
)

const (
	PromptLaunch  = "Launch browser"
	PromptCapture = "Capture listings from the current page"
	PromptApply   = "Apply to a shortlisted job"
	PromptDryRun  = "Dry run on a shortlisted job"
	PromptStatus  = "Status"
	PromptStop    = "Stop"
	PromptBack    = "back"
)

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Drive the in-browser application assistant interactively",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			cid, err := candidate.FromContext(ctx)
			if err != nil {
				return err
			}
			stream, unsubscribe := a.Bus.Subscribe(cid, 0)
			defer unsubscribe()
			go logAssistantEvents(stream, a.Logger)

			prompt := promptui.Select{
				Label: "Assistant",
				Items: []string{PromptLaunch, PromptCapture, PromptApply, PromptDryRun, PromptStatus, PromptStop, PromptExit},
			}
			for {
				_, action, err := prompt.Run()
				if err != nil {
					return err
				}
				if action == PromptExit {
					return a.Assistant.Stop(ctx)
				}
				if err := handleAssistantAction(ctx, a, action); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					a.Logger.Warn("assistant command failed",
						zap.String("action", action),
						zap.String("kind", string(apperr.KindOf(err))),
						zap.Error(err),
					)
				}
			}
		})
	},
}

func handleAssistantAction(ctx context.Context, a *App, action string) error {
	switch action {
	case PromptLaunch:
		a.Logger.Info("launching the browser, log in to the job board in the opened window")
		return a.Assistant.Launch(ctx)
	case PromptCapture:
		report, err := a.Assistant.Capture(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info("listings captured",
			zap.Int("found", report.Found),
			zap.Int("new", report.New),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("failed", report.Failed),
		)
		return nil
	case PromptApply, PromptDryRun:
		job, err := chooseJob(ctx, a)
		if err != nil || job == nil {
			return err
		}
		outcome, err := a.Assistant.Apply(ctx, job.ID, action == PromptDryRun)
		if err != nil {
			return err
		}
		logOutcome(a.Logger, outcome)
		return nil
	case PromptStatus:
		st, err := a.Assistant.Status(ctx)
		if err != nil {
			return err
		}
		logStatus(a.Logger, st)
		if st.LastOutcome != nil {
			logOutcome(a.Logger, st.LastOutcome)
		}
		return nil
	case PromptStop:
		return a.Assistant.Stop(ctx)
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// chooseJob offers shortlisted jobs that accept in-page applications. A nil
// job means the operator went back.
func chooseJob(ctx context.Context, a *App) (*jobs.Job, error) {
	shortlisted, err := jobs.Collect(a.Jobs.List(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusShortlisted}}))
	if err != nil {
		return nil, err
	}

	items := make([]string, 0, len(shortlisted)+1)
	candidates := make([]*jobs.Job, 0, len(shortlisted))
	for _, job := range shortlisted {
		if !job.IsEasyApply {
			continue
		}
		items = append(items, fmt.Sprintf("%s %s / %s / score %s", job.ID, job.Title, orDash(job.Company), scoreText(job.MatchScore)))
		candidates = append(candidates, job)
	}
	if len(candidates) == 0 {
		a.Logger.Info("no shortlisted jobs accept in-page applications")
		return nil, nil
	}

	jobPrompt := promptui.Select{
		Label: "Choose a job and press ENTER",
		Items: append(items, PromptBack),
	}
	idx, selected, err := jobPrompt.Run()
	if err != nil {
		return nil, err
	}
	if selected == PromptBack {
		return nil, nil
	}
	return candidates[idx], nil
}

func logStatus(logger *zap.Logger, st assistant.Status) {
	fields := []zap.Field{
		zap.String("state", string(st.State)),
		zap.String("job_id", st.JobID),
		zap.String("error", st.Error),
	}
	if u := st.Usage; u != nil {
		fields = append(fields,
			zap.Int("submissions", u.Submissions),
			zap.Int("daily_limit", u.DailyLimit),
			zap.Int("generations", u.Generations),
			zap.Int("generation_budget", u.GenerationBudget),
		)
	}
	logger.Info("assistant status", fields...)
}

func logOutcome(logger *zap.Logger, o *assistant.Outcome) {
	fields := []zap.Field{
		zap.String("state", string(o.State)),
		zap.String("job_id", o.JobID),
		zap.Bool("dry_run", o.DryRun),
		zap.Int("steps", o.Steps),
		zap.Strings("filled", o.Filled),
	}
	if len(o.Skipped) > 0 {
		fields = append(fields, zap.Strings("skipped", o.Skipped))
	}
	if len(o.Unanswered) > 0 {
		fields = append(fields, zap.Strings("unanswered", o.Unanswered))
	}
	if o.ApplicationID != "" {
		fields = append(fields, zap.String("application_id", o.ApplicationID), zap.Bool("verified", o.Verified))
	}
	if o.Screenshot != "" {
		fields = append(fields, zap.String("screenshot", o.Screenshot))
	}
	if len(o.Screenshots) > 1 {
		fields = append(fields, zap.Strings("screenshots", o.Screenshots))
	}
	if o.Message != "" {
		fields = append(fields, zap.String("message", o.Message))
	}
	logger.Info("apply finished", fields...)
}

func logAssistantEvents(stream <-chan events.Event, logger *zap.Logger) {
	for ev := range stream {
		if !strings.HasPrefix(ev.Type, "assistant.") {
			continue
		}
		logger.Debug(ev.Type, zap.String("job_id", ev.JobID), zap.String("message", ev.Message), zap.Any("data", ev.Data))
	}
}

func init() {
	rootCmd.AddCommand(assistantCmd)
}
