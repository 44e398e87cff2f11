package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/listing"
)

type employersFilter struct {
	employers []string
	logger    *zap.Logger
}

// NewExcludedEmployers creates a filter that removes postings of employers listed in the config.
func NewExcludedEmployers(employers []string, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &employersFilter{
		employers: employers,
		logger:    logger,
	}
}

func (f *employersFilter) Name() string { return "employers" }

func (f *employersFilter) Disable(string) {}

func (f *employersFilter) IsEnabled() bool { return true }

func (f *employersFilter) Validate() error { return nil }

func (f *employersFilter) Apply(_ context.Context, v *listing.Postings) (*listing.Postings, Step, error) {
	initial := v.Len()
	if len(f.employers) == 0 {
		return v, Step{Initial: initial, Dropped: 0, Left: v.Len()}, nil
	}

	excluded := v.Exclude(listing.FieldCompany, f.employers)
	if len(excluded) > 0 {
		f.logger.Info("excluding postings by employers",
			zap.Strings("excluded_employers", f.employers),
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", v.Len()),
		)
	}

	return v, Step{Initial: initial, Dropped: len(excluded), Left: v.Len()}, nil
}

func (f *employersFilter) Status() Status {
	details := map[string]string{}
	if len(f.employers) > 0 {
		details["employers"] = strings.Join(f.employers, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
