package matching

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/metrics"
)

// JobStore is the part of the job store the scorer needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	RecordScore(ctx context.Context, id string, score jobs.Score) error
	List(ctx context.Context, f jobs.Filter) iter.Seq2[*jobs.Job, error]
}

// Service scores stored jobs. The profile snapshot is taken once per run and
// the store is written only after the engine returns.
type Service struct {
	jobs     JobStore
	profiles candidate.Source
	engine   *Engine
	logger   *zap.Logger
}

func NewService(store JobStore, profiles candidate.Source, engine *Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: store, profiles: profiles, engine: engine, logger: logger}
}

func (s *Service) ScoreJob(ctx context.Context, id string) (*jobs.Job, error) {
	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.score(ctx, job, profile); err != nil {
		return nil, err
	}

	return s.jobs.Get(ctx, id)
}

// ScoreAll scores every unscored job, or every job when rescore is set.
// It returns the number of jobs scored.
func (s *Service) ScoreAll(ctx context.Context, rescore bool) (int, error) {
	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		return 0, err
	}

	// Collected up front: scoring shrinks the unscored set and would shift pages.
	pending, err := jobs.Collect(s.jobs.List(ctx, jobs.Filter{
		IncludeFiltered: true,
		OnlyUnscored:    !rescore,
	}))
	if err != nil {
		return 0, err
	}

	scored := 0
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return scored, err
		}
		if err := s.score(ctx, job, profile); err != nil {
			return scored, err
		}
		scored++
	}

	s.logger.Info("scoring finished", zap.Int("scored", scored), zap.Bool("rescore", rescore))
	return scored, nil
}

func (s *Service) score(ctx context.Context, job *jobs.Job, profile *candidate.Profile) error {
	result := s.engine.Score(ctx, job, profile)

	if err := s.jobs.RecordScore(ctx, job.ID, result.Record()); err != nil {
		return err
	}
	metrics.JobScored(result.FilteredOut)

	s.logger.Info("job scored",
		zap.String("job_id", job.ID),
		zap.Int("score", result.Score),
		zap.Strings("matched", result.Matched),
		zap.Strings("missing", result.Missing),
		zap.Bool("filtered_out", result.FilteredOut),
		zap.String("filter_reason", result.FilterReason),
	)
	return nil
}
