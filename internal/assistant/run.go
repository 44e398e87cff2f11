package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/logger"
)

// actor performs discrete driver actions for one session, honoring the stop
// flag, the action throttle and the per-action retry bound.
type actor struct {
	m     *Manager
	cid   string
	s     *session
	jobID string
	step  int
}

func (a *actor) stopped() bool { return a.s.stop.Load() }

// pause runs a wait that a stop request cuts short.
func (a *actor) pause(ctx context.Context, wait func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.s.halted != nil {
		defer context.AfterFunc(a.s.halted, cancel)()
	}

	err := wait(ctx)
	if a.stopped() {
		return errStopped
	}
	return err
}

func (a *actor) throttle(ctx context.Context) error {
	if a.m.throttle == nil {
		return nil
	}
	return a.pause(ctx, a.m.throttle.Wait)
}

func (a *actor) act(ctx context.Context, name string, fn func(context.Context) error) error {
	attempts := a.m.cfg.ActionAttempts
	for attempt := 1; ; attempt++ {
		if a.stopped() {
			return errStopped
		}
		if err := a.throttle(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		a.logAction(ctx, name, attempt, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !apperr.IsTransient(err) || attempt >= attempts {
			return err
		}
	}
}

func (a *actor) logAction(ctx context.Context, name string, attempt int, err error) {
	fields := []zap.Field{
		zap.String(logger.FieldCandidate, a.cid),
		zap.String("action", name),
		zap.Int("attempt", attempt),
	}
	if a.jobID != "" {
		fields = append(fields, zap.String(logger.FieldJob, a.jobID), zap.Int("step", a.step))
	}
	if err != nil {
		a.m.logger.Warn("assistant action failed", append(fields, zap.Error(err))...)
	} else {
		a.m.logger.Info("assistant action", fields...)
	}

	data := map[string]any{"action": name, "attempt": attempt, "step": a.step}
	if err != nil {
		data["error"] = err.Error()
	}
	a.m.publisher.Publish(ctx, events.Event{
		Type:        events.AssistantAction,
		CandidateID: a.cid,
		JobID:       a.jobID,
		Message:     name,
		Data:        data,
	})
}

// run is a single apply attempt. It never starts over after a failure.
type run struct {
	actor
	job      *jobs.Job
	dryRun   bool
	answerer *Answerer
	out      *Outcome
}

func (r *run) execute(ctx context.Context) (*Outcome, error) {
	err := r.fill(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errStopped):
		r.out.State = StateIdle
		r.out.Message = errStopped.Error()
	case apperr.Is(err, apperr.KindLimitExceeded):
		return nil, err
	case apperr.Is(err, apperr.KindManualNeeded), apperr.Is(err, apperr.KindExternalCapability):
		r.out.State = StateManualNeeded
		r.out.Message = err.Error()
	default:
		r.out.State = StateFailed
		r.out.Message = err.Error()
	}

	if r.out.State.Terminal() && r.out.Screenshot == "" {
		r.out.Screenshot = r.screenshot(ctx, string(r.out.State))
	}
	return r.out, nil
}

func (r *run) fill(ctx context.Context) error {
	driver := r.s.driver

	if err := r.act(ctx, "open job", func(ctx context.Context) error {
		return driver.Open(ctx, r.job.SourceURL)
	}); err != nil {
		return err
	}
	if err := r.act(ctx, "start application", driver.StartApplication); err != nil {
		return err
	}

	for r.step = 1; r.step <= r.m.cfg.MaxSteps; r.step++ {
		r.out.Steps = r.step

		if err := r.fillStep(ctx); err != nil {
			return err
		}
		if !r.stopped() {
			r.screenshot(ctx, fmt.Sprintf("step-%d", r.step))
		}

		var next Step
		if err := r.act(ctx, "inspect step", func(ctx context.Context) error {
			var err error
			next, err = driver.Step(ctx)
			return err
		}); err != nil {
			return err
		}

		switch next {
		case StepSubmit:
			if r.dryRun {
				r.out.State = StateDryRunComplete
				r.out.Message = "reached the submit button"
				r.out.Screenshot = r.screenshot(ctx, "dry-run")
				return nil
			}
			return r.submit(ctx)
		case StepNext:
			if err := r.act(ctx, "next", driver.Next); err != nil {
				return err
			}
			var invalid bool
			if err := r.act(ctx, "check form errors", func(ctx context.Context) error {
				var err error
				invalid, err = driver.FormErrors(ctx)
				return err
			}); err != nil {
				return err
			}
			if invalid {
				return apperr.ManualNeeded("form reported errors on step %d", r.step)
			}
		default:
			return apperr.ManualNeeded("unrecognized form structure on step %d", r.step)
		}
	}
	return apperr.ManualNeeded("form did not reach submit within %d steps", r.m.cfg.MaxSteps)
}

// fillStep answers the visible fields. A required field left empty makes
// the form unsafe to continue automatically.
func (r *run) fillStep(ctx context.Context) error {
	driver := r.s.driver

	var fields []Field
	if err := r.act(ctx, "read form", func(ctx context.Context) error {
		var err error
		fields, err = driver.Fields(ctx)
		return err
	}); err != nil {
		return err
	}

	var missing []string
	for _, f := range fields {
		if !f.Empty() && f.Kind != FieldFile {
			continue
		}
		answer, ok := r.answerer.Answer(f)
		if !ok {
			if answer.Sensitive {
				r.out.Skipped = appendUnique(r.out.Skipped, f.Label)
			}
			if f.Required && f.Empty() {
				missing = append(missing, f.Label)
			}
			continue
		}

		if err := r.act(ctx, "fill "+string(f.Kind), func(ctx context.Context) error {
			return driver.Fill(ctx, f, answer.Value)
		}); err != nil {
			return err
		}
		r.out.Filled = appendUnique(r.out.Filled, f.Label)
	}

	if len(missing) > 0 {
		r.out.Unanswered = append(r.out.Unanswered, missing...)
		return apperr.ManualNeeded("no answer for: %s", strings.Join(missing, ", "))
	}
	return nil
}

// submit performs the single irreversible click. It is never retried. The
// waits come before the reservation, so a refused or stopped wait takes no
// slot of the daily ceiling.
func (r *run) submit(ctx context.Context) error {
	driver := r.s.driver

	if r.stopped() {
		return errStopped
	}
	if err := r.throttle(ctx); err != nil {
		return err
	}
	if err := r.pause(ctx, r.m.pacer.Wait); err != nil {
		return err
	}
	if r.stopped() {
		return errStopped
	}
	if _, err := r.m.policy.ReserveSubmission(ctx); err != nil {
		return err
	}

	err := driver.Submit(ctx)
	r.logAction(ctx, "submit", 1, err)
	if err != nil {
		return apperr.ManualNeeded("submit failed, check the form before retrying: %v", err)
	}
	r.m.pacer.Mark()

	log := logger.ForJob(ctx, r.m.logger, r.job.ID)
	verified, err := driver.Confirmed(ctx, r.m.cfg.ConfirmTimeout)
	if err != nil {
		log.Warn("submission confirmation failed", zap.Error(err))
	}
	r.out.Verified = verified && err == nil
	r.out.Screenshot = r.screenshot(ctx, "submitted")

	metadata := map[string]any{
		"source":   CaptureOrigin,
		"verified": r.out.Verified,
		"steps":    r.step,
		"skipped":  r.out.Skipped,
	}
	if r.out.Screenshot != "" {
		metadata["screenshot"] = r.out.Screenshot
	}
	rec, err := r.m.applications.Create(context.WithoutCancel(ctx), applications.New{
		JobID:      r.job.ID,
		Company:    r.job.Company,
		RoleTitle:  r.job.Title,
		MatchScore: r.job.MatchScore,
		Metadata:   metadata,
	})
	if err != nil && !apperr.Is(err, apperr.KindDuplicate) {
		return fmt.Errorf("application submitted but not recorded: %w", err)
	}

	r.out.State = StateSubmitted
	r.out.ApplicationID = rec.ID
	if r.out.Verified {
		r.out.Message = "application submitted"
	} else {
		r.out.Message = "submit clicked but confirmation timed out, record saved anyway"
	}
	return nil
}

// screenshot captures the page and records the reference in the outcome.
// A failed capture never fails the run.
func (r *run) screenshot(ctx context.Context, name string) string {
	log := logger.ForJob(ctx, r.m.logger, r.job.ID).With(zap.Int("step", r.step))
	ref, err := r.s.driver.Screenshot(context.WithoutCancel(ctx), r.job.ID+"-"+name)
	if err != nil {
		log.Warn("screenshot failed", zap.String("name", name), zap.Error(err))
		return ""
	}
	log.Info("screenshot saved", zap.String("name", name), zap.String("screenshot", ref))
	r.out.Screenshots = append(r.out.Screenshots, ref)
	return ref
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
