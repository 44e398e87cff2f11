package filtering

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/listing"
)

const forceFlagSetMsg = "force flag is set"

// AppliedSource lists source urls of jobs the candidate already applied to.
type AppliedSource interface {
	AppliedURLs(ctx context.Context) (map[string]struct{}, error)
}

type appliedHistoryFilter struct {
	applied AppliedSource
	logger  *zap.Logger
	ignore  bool
}

type AppliedHistoryConfig struct {
	Ignore bool
}

// NewAppliedHistory creates a filter that removes postings already applied to.
func NewAppliedHistory(cfg *AppliedHistoryConfig, applied AppliedSource, logger *zap.Logger) Filter {
	ignore := false
	if cfg != nil {
		ignore = cfg.Ignore
	}

	return &appliedHistoryFilter{
		applied: applied,
		logger:  logger,
		ignore:  ignore,
	}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Disable(string) {}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Validate() error {
	if f.applied == nil {
		return fmt.Errorf("application history is required")
	}

	if f.logger == nil {
		return fmt.Errorf("logger is required")
	}

	return nil
}

func (f *appliedHistoryFilter) Apply(ctx context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()
	if f.ignore {
		f.logger.Info("ignoring already applied postings", zap.String("reason", forceFlagSetMsg))
		return v, Step{Initial: initial, Dropped: 0, Left: v.Len()}, nil
	}

	applied, err := f.applied.AppliedURLs(ctx)
	if err != nil {
		return v, Step{}, fmt.Errorf("get application history: %w", err)
	}

	excluded := v.Drop(func(p *listing.Posting) bool {
		_, ok := applied[p.URL]
		return ok
	})
	if len(excluded) > 0 {
		f.logger.Info("excluding postings based on application history",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", v.Len()),
		)
	}

	return v, Step{Initial: initial, Dropped: len(excluded), Left: v.Len()}, nil
}

func (f *appliedHistoryFilter) Status() Status {
	details := map[string]string{
		"exclude_applied": strconv.FormatBool(!f.ignore),
	}
	reason := ""
	if f.ignore {
		reason = "skip requested via flag"
	}
	return Status{Name: f.Name(), Enabled: true, Reason: reason, Details: details}
}
