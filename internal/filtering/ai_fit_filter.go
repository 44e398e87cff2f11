package filtering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/listing"
	"github.com/spigell/job-pilot/internal/metrics"
)

type aiFitFilter struct {
	enabled bool
	reason  string
	config  *AIFitFilterConfig
	deps    *AIFitFilterDeps
}

type AIFitFilterDeps struct {
	Logger      *zap.Logger
	Generator   ai.Generator
	Profiles    candidate.Source
	ExcludeFile string
}

type AIFitFilterConfig struct {
	Enabled         bool
	MinimumFitScore float64
	Timeout         time.Duration
}

// NewAIFit creates the pre-ingest fit assessment step.
func NewAIFit(cfg *AIFitFilterConfig, deps *AIFitFilterDeps) Filter {
	if cfg == nil {
		cfg = &AIFitFilterConfig{}
	}
	return &aiFitFilter{
		enabled: cfg.Enabled,
		deps:    deps,
		config:  cfg,
	}
}

func (f *aiFitFilter) Name() string { return "ai_fit" }

func (f *aiFitFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *aiFitFilter) IsEnabled() bool { return f.enabled }

func (f *aiFitFilter) Validate() error {
	if f.deps == nil {
		return fmt.Errorf("deps are not initialized: filter is not usable")
	}
	if f.deps.Generator == nil {
		return fmt.Errorf("generation capability is required when ai filter is enabled")
	}
	if f.deps.Profiles == nil {
		return fmt.Errorf("candidate profile is required when ai filter is enabled")
	}
	if f.config.MinimumFitScore < 0 || f.config.MinimumFitScore > 100 {
		return fmt.Errorf("minimum fit score %v is outside 0..100", f.config.MinimumFitScore)
	}
	if f.deps.Logger == nil {
		f.deps.Logger = zap.NewNop()
	}
	return nil
}

func (f *aiFitFilter) Apply(ctx context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()

	profile, err := f.deps.Profiles.Profile(ctx)
	if err != nil {
		return v, Step{}, fmt.Errorf("get candidate profile: %w", err)
	}

	f.applyGenerator(ctx, profile, v)

	left := v.Len()
	return v, Step{Initial: initial, Dropped: initial - left, Left: left}, nil
}

func (f *aiFitFilter) applyGenerator(ctx context.Context, profile *candidate.Profile, postings *listing.Postings) {
	initial := postings.Len()
	approved := make([]*listing.Posting, 0, initial)
	rejected := &listing.Postings{}

	for _, posting := range postings.Items {
		resp, err := f.assess(ctx, profile, posting)
		if err != nil {
			// An unavailable assessment never hides a posting.
			f.deps.Logger.Warn("AI evaluation failed",
				zap.String("url", posting.URL),
				zap.Error(err),
			)
			posting.AI = &listing.Assessment{Error: err.Error()}
			approved = append(approved, posting)
			continue
		}

		posting.AI = &listing.Assessment{
			Fit:    resp.Fit && resp.Score >= f.config.MinimumFitScore,
			Score:  resp.Score,
			Reason: resp.Reason,
		}

		if !posting.AI.Fit {
			f.deps.Logger.Info("posting rejected by AI provider",
				zap.String("url", posting.URL),
				zap.Float64("ai_score", resp.Score),
				zap.String("reason", resp.Reason),
			)
			rejected.Items = append(rejected.Items, posting)
			continue
		}

		f.deps.Logger.Info("posting approved by AI",
			zap.String("url", posting.URL),
			zap.Float64("ai_score", resp.Score),
		)

		approved = append(approved, posting)
	}

	postings.Items = approved

	if err := f.appendToExcludeFile(rejected); err != nil {
		f.deps.Logger.Warn("failed to append postings to exclude file", zap.Error(err))
	}

	f.deps.Logger.Info("AI filtering completed",
		zap.Int("initial_postings", initial),
		zap.Int("approved_postings", len(approved)),
	)
}

func (f *aiFitFilter) assess(ctx context.Context, profile *candidate.Profile, posting *listing.Posting) (*ai.Response, error) {
	callCtx := ctx
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := f.deps.Generator.Generate(callCtx, ai.Request{
		Kind: ai.KindScore,
		Job: ai.JobContext{
			Title:       posting.Title,
			Company:     posting.Company,
			Location:    posting.Location,
			Description: posting.Description,
		},
		Profile: profile,
	})
	metrics.Generation(string(ai.KindScore), time.Since(started).Seconds(), err)
	return resp, err
}

func (f *aiFitFilter) appendToExcludeFile(rejected *listing.Postings) error {
	path := strings.TrimSpace(f.deps.ExcludeFile)
	if path == "" || rejected.Len() == 0 {
		return nil
	}

	if err := listing.AppendToFile(path, rejected, listing.ExcludeActorAI, "rejected by fit assessment"); err != nil {
		return err
	}

	f.deps.Logger.Info("postings appended to exclude file",
		zap.Strings("urls", rejected.URLs()),
		zap.String("exclude_file", path),
	)
	return nil
}

func (f *aiFitFilter) Status() Status {
	details := map[string]string{
		"minimum_fit_score": strconv.FormatFloat(f.config.MinimumFitScore, 'f', -1, 64),
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}
