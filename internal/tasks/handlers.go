package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/materials"
	"github.com/spigell/job-pilot/internal/metrics"
)

type Scorer interface {
	ScoreJob(ctx context.Context, id string) (*jobs.Job, error)
	ScoreAll(ctx context.Context, rescore bool) (int, error)
}

type Discoverer interface {
	Discover(ctx context.Context) (*discovery.Report, error)
}

type Materials interface {
	TailorCV(ctx context.Context, jobID string) (*materials.CV, error)
	GenerateCoverLetter(ctx context.Context, jobID, variant string) (*materials.CoverLetter, error)
}

// Handlers consumes pipeline tasks. A nil service leaves its task types
// unregistered.
type Handlers struct {
	Scorer     Scorer
	Discoverer Discoverer
	Materials  Materials
	Logger     *zap.Logger
}

// Mux routes task types to handlers and records task metrics.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMiddleware())

	if h.Scorer != nil {
		mux.HandleFunc(TypeScoreJob, h.handle(h.scoreJob))
		mux.HandleFunc(TypeScoreAll, h.handle(h.scoreAll))
	}
	if h.Discoverer != nil {
		mux.HandleFunc(TypeDiscover, h.handle(h.discover))
	}
	if h.Materials != nil {
		mux.HandleFunc(TypeTailorCV, h.handle(h.tailorCV))
		mux.HandleFunc(TypeCoverLetter, h.handle(h.coverLetter))
	}
	return mux
}

type handlerFunc func(ctx context.Context, p Payload, log *zap.Logger) error

// handle decodes the payload and binds the candidate to the context.
// Errors that a retry cannot fix skip asynq's retries.
func (h *Handlers) handle(fn handlerFunc) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		log := h.logger().With(zap.String("task", t.Type()))

		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error("unmarshal task payload failed", zap.Error(err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := p.validate(t.Type()); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		ctx = candidate.WithID(ctx, p.CandidateID)
		log = logger.ForJob(ctx, log, p.JobID).With(zap.String("correlation_id", p.CorrelationID))
		log.Info("task started")

		err := fn(ctx, p, log)
		if err == nil {
			log.Info("task finished")
			return nil
		}

		if permanent(err) {
			log.Warn("task failed permanently", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("task failed", zap.Error(err))
		return err
	}
}

func (h *Handlers) scoreJob(ctx context.Context, p Payload, log *zap.Logger) error {
	job, err := h.Scorer.ScoreJob(ctx, p.JobID)
	if err != nil {
		return err
	}
	if job.MatchScore != nil {
		log.Info("job scored", zap.Int("score", *job.MatchScore))
	}
	return nil
}

func (h *Handlers) scoreAll(ctx context.Context, p Payload, log *zap.Logger) error {
	n, err := h.Scorer.ScoreAll(ctx, p.Rescore)
	if err != nil {
		return err
	}
	log.Info("jobs scored", zap.Int("count", n), zap.Bool("rescore", p.Rescore))
	return nil
}

func (h *Handlers) discover(ctx context.Context, _ Payload, log *zap.Logger) error {
	report, err := h.Discoverer.Discover(ctx)
	if err != nil {
		return err
	}
	log.Info("discovery finished", zap.Int("ingested", report.Ingested), zap.Int("duplicates", report.Duplicates))
	return nil
}

func (h *Handlers) tailorCV(ctx context.Context, p Payload, log *zap.Logger) error {
	cv, err := h.Materials.TailorCV(ctx, p.JobID)
	if err != nil {
		return err
	}
	log.Info("cv tailored", zap.Int("ats_score", cv.ATSScore), zap.Bool("refined", cv.Refined))
	return nil
}

func (h *Handlers) coverLetter(ctx context.Context, p Payload, log *zap.Logger) error {
	letter, err := h.Materials.GenerateCoverLetter(ctx, p.JobID, p.Variant)
	if err != nil {
		return err
	}
	log.Info("cover letter generated", zap.String("variant", letter.Variant))
	return nil
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindNotReady,
		apperr.KindDuplicate, apperr.KindLimitExceeded, apperr.KindBusy:
		return true
	case apperr.KindExternalCapability:
		return !apperr.IsTransient(err)
	}
	return false
}
