package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/job-pilot/internal/listing"
)

type excludeFileFilter struct {
	path string
}

// NewExcludeFile creates a filter that removes postings listed in the exclude file.
func NewExcludeFile(path string) Filter {
	return &excludeFileFilter{
		path: path,
	}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

func (f *excludeFileFilter) Validate() error { return nil }

func (f *excludeFileFilter) Apply(_ context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()
	if f.path == "" {
		return v, Step{Initial: initial, Dropped: 0, Left: v.Len()}, nil
	}

	excluded, err := listing.LoadExcluded(f.path)
	if err != nil {
		return v, Step{}, fmt.Errorf("getting excluded postings from file: %w", err)
	}

	removed := v.Exclude(listing.FieldURL, excluded.URLs())

	return v, Step{Initial: initial, Dropped: len(removed), Left: v.Len()}, nil
}

func (f *excludeFileFilter) Status() Status {
	if f.path == "" {
		return Status{Name: f.Name(), Enabled: true, Reason: "exclude file is not configured"}
	}
	return Status{Name: f.Name(), Enabled: true, Details: map[string]string{"path": f.path}}
}
