package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/listing"
)

type incompleteFilter struct {
	logger *zap.Logger
}

// NewIncomplete creates a filter that removes postings which cannot be ingested
// (no title or no usable url). Kept postings get their url normalized so later
// steps compare dedup keys.
func NewIncomplete(logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &incompleteFilter{logger: logger}
}

func (f *incompleteFilter) Name() string { return "incomplete" }

func (f *incompleteFilter) Disable(string) {}

func (f *incompleteFilter) IsEnabled() bool { return true }

func (f *incompleteFilter) Validate() error { return nil }

func (f *incompleteFilter) Apply(_ context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()

	excluded := v.Drop(func(p *listing.Posting) bool {
		if strings.TrimSpace(p.Title) == "" {
			return true
		}
		key, err := jobs.NormalizeURL(p.URL)
		if err != nil {
			return true
		}
		p.URL = key
		return false
	})
	if len(excluded) > 0 {
		f.logger.Info("excluding incomplete postings. It is impossible to ingest them",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", v.Len()),
		)
	}

	return v, Step{Initial: initial, Dropped: len(excluded), Left: v.Len()}, nil
}
