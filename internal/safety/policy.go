package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/metrics"
)

const (
	KindSubmission = "submission"
	KindGeneration = "generation"

	BackendDB    = "db"
	BackendRedis = "redis"

	DefaultDailyLimit       = 50
	DefaultGenerationBudget = 200
	DefaultActionsPerMinute = 12
	defaultMinDelay         = 30 * time.Second
	defaultMaxDelay         = 90 * time.Second
)

type Config struct {
	Backend          string        `mapstructure:"backend"`
	DailyLimit       int           `mapstructure:"daily-limit"`
	GenerationBudget int           `mapstructure:"generation-budget"`
	ActionsPerMinute int           `mapstructure:"actions-per-minute"`
	MinDelay         time.Duration `mapstructure:"min-delay"`
	MaxDelay         time.Duration `mapstructure:"max-delay"`
	TimeZone         string        `mapstructure:"time-zone"`
}

// WithDefaults fills unset values. A zero generation budget stays zero,
// which means unlimited.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendDB
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.GenerationBudget < 0 {
		c.GenerationBudget = 0
	}
	if c.ActionsPerMinute <= 0 {
		c.ActionsPerMinute = DefaultActionsPerMinute
	}
	if c.MinDelay <= 0 && c.MaxDelay <= 0 {
		c.MinDelay, c.MaxDelay = defaultMinDelay, defaultMaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	return c
}

// Location resolves TimeZone; an empty value means the process local zone.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.TimeZone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("safety time zone %q: %w", tz, err)
	}
	return loc, nil
}

// Allow reports whether one more submission fits under the ceiling.
// Dry runs are always allowed.
func Allow(count, ceiling int, dryRun bool) bool {
	if dryRun {
		return true
	}
	return count < ceiling
}

// Counter is a per-candidate, per-day counter. Reserve increments only
// while the count is below ceiling and returns the new count.
type Counter interface {
	Count(ctx context.Context, kind string) (int, error)
	Reserve(ctx context.Context, kind string, ceiling int) (int, error)
}

// Usage is the state of the daily counters for the current candidate.
type Usage struct {
	Submissions      int `json:"submissions"`
	DailyLimit       int `json:"daily_limit"`
	Generations      int `json:"generations"`
	GenerationBudget int `json:"generation_budget"`
}

// Policy applies the configured ceilings to a Counter.
type Policy struct {
	counter Counter
	config  Config
	logger  *zap.Logger
}

func NewPolicy(counter Counter, cfg Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{counter: counter, config: cfg.WithDefaults(), logger: logger}
}

func (p *Policy) Config() Config { return p.config }

// CheckSubmission refuses a real submission once today's ceiling is reached.
// It does not reserve anything.
func (p *Policy) CheckSubmission(ctx context.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	count, err := p.counter.Count(ctx, KindSubmission)
	if err != nil {
		return err
	}
	if !Allow(count, p.config.DailyLimit, false) {
		metrics.SafetyRefused(KindSubmission)
		return apperr.LimitExceeded("daily application limit reached (%d/%d)", count, p.config.DailyLimit)
	}
	return nil
}

// ReserveSubmission atomically takes one slot of today's submission ceiling.
func (p *Policy) ReserveSubmission(ctx context.Context) (int, error) {
	n, err := p.counter.Reserve(ctx, KindSubmission, p.config.DailyLimit)
	if apperr.Is(err, apperr.KindLimitExceeded) {
		metrics.SafetyRefused(KindSubmission)
	}
	if err == nil {
		p.logger.Info("submission slot reserved", zap.Int("count", n), zap.Int("limit", p.config.DailyLimit))
	}
	return n, err
}

// ReserveGeneration takes one unit of the daily generation budget.
func (p *Policy) ReserveGeneration(ctx context.Context) error {
	if p.config.GenerationBudget == 0 {
		return nil
	}
	_, err := p.counter.Reserve(ctx, KindGeneration, p.config.GenerationBudget)
	if apperr.Is(err, apperr.KindLimitExceeded) {
		metrics.SafetyRefused(KindGeneration)
	}
	return err
}

func (p *Policy) Usage(ctx context.Context) (*Usage, error) {
	subs, err := p.counter.Count(ctx, KindSubmission)
	if err != nil {
		return nil, err
	}
	gens, err := p.counter.Count(ctx, KindGeneration)
	if err != nil {
		return nil, err
	}
	return &Usage{
		Submissions:      subs,
		DailyLimit:       p.config.DailyLimit,
		Generations:      gens,
		GenerationBudget: p.config.GenerationBudget,
	}, nil
}

func limitError(kind string, ceiling int) error {
	if kind == KindSubmission {
		return apperr.LimitExceeded("daily application limit reached (%d/%d)", ceiling, ceiling)
	}
	return apperr.LimitExceeded("daily %s limit reached (%d/%d)", kind, ceiling, ceiling)
}
