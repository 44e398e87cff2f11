package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/job-pilot/internal/listing"
)

// SeenSource lists normalized source urls already in the job store.
type SeenSource interface {
	SourceURLs(ctx context.Context) (map[string]struct{}, error)
}

type seenFilter struct {
	jobs SeenSource
}

// NewSeen creates a filter that removes postings already ingested, so they
// are neither assessed nor scored again.
func NewSeen(jobs SeenSource) Filter {
	return &seenFilter{jobs: jobs}
}

func (f *seenFilter) Name() string { return "seen" }

func (f *seenFilter) Disable(string) {}

func (f *seenFilter) IsEnabled() bool { return true }

func (f *seenFilter) Validate() error {
	if f.jobs == nil {
		return fmt.Errorf("job store is required")
	}
	return nil
}

func (f *seenFilter) Apply(ctx context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()

	seen, err := f.jobs.SourceURLs(ctx)
	if err != nil {
		return v, Step{}, fmt.Errorf("get ingested urls: %w", err)
	}

	dropped := v.Drop(func(p *listing.Posting) bool {
		_, ok := seen[p.URL]
		return ok
	})

	return v, Step{Initial: initial, Dropped: len(dropped), Left: v.Len()}, nil
}
