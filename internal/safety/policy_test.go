package safety

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/store"
)

func TestAllow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		count   int
		ceiling int
		dryRun  bool
		want    bool
	}{
		{name: "below ceiling", count: 3, ceiling: 50, want: true},
		{name: "at ceiling", count: 50, ceiling: 50, want: false},
		{name: "over ceiling", count: 51, ceiling: 50, want: false},
		{name: "dry run at ceiling", count: 50, ceiling: 50, dryRun: true, want: true},
		{name: "zero ceiling", count: 0, ceiling: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Allow(tt.count, tt.ceiling, tt.dryRun))
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	assert.Equal(t, BackendDB, cfg.Backend)
	assert.Equal(t, 50, cfg.DailyLimit)
	assert.Equal(t, 0, cfg.GenerationBudget)
	assert.Equal(t, 12, cfg.ActionsPerMinute)
	assert.Less(t, cfg.MinDelay, cfg.MaxDelay)

	cfg = Config{MinDelay: time.Minute, MaxDelay: time.Second}.WithDefaults()
	assert.Equal(t, time.Minute, cfg.MaxDelay)

	_, err := Config{TimeZone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
	loc, err := Config{TimeZone: "Europe/Berlin"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func newDBCounter(t *testing.T, now time.Time) *DBCounter {
	t.Helper()
	db := store.OpenTest(t, Migrate)
	c := NewDBCounter(db, time.UTC)
	c.now = func() time.Time { return now }
	return c
}

func TestPolicyRefusesRealSubmissionsAtCeiling(t *testing.T) {
	t.Parallel()

	counter := newDBCounter(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	policy := NewPolicy(counter, Config{DailyLimit: 2}, nil)
	ctx := candidate.WithID(context.Background(), "alice")

	for i := 1; i <= 2; i++ {
		require.NoError(t, policy.CheckSubmission(ctx, false))
		n, err := policy.ReserveSubmission(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	err := policy.CheckSubmission(ctx, false)
	assert.True(t, apperr.Is(err, apperr.KindLimitExceeded))
	_, err = policy.ReserveSubmission(ctx)
	assert.True(t, apperr.Is(err, apperr.KindLimitExceeded))

	assert.NoError(t, policy.CheckSubmission(ctx, true), "dry runs are never refused")

	usage, err := policy.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Usage{Submissions: 2, DailyLimit: 2}, usage)

	bob := candidate.WithID(context.Background(), "bob")
	assert.NoError(t, policy.CheckSubmission(bob, false), "counters are per candidate")
}

func TestDBCounterRollsOverAtLocalMidnight(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	db := store.OpenTest(t, Migrate)
	counter := NewDBCounter(db, berlin)
	ctx := candidate.WithID(context.Background(), "alice")

	// 23:30 in Berlin; an hour later it is already the next local day.
	counter.now = func() time.Time { return time.Date(2026, 5, 4, 21, 30, 0, 0, time.UTC) }
	_, err = counter.Reserve(ctx, KindSubmission, 1)
	require.NoError(t, err)
	_, err = counter.Reserve(ctx, KindSubmission, 1)
	require.True(t, apperr.Is(err, apperr.KindLimitExceeded))

	counter.now = func() time.Time { return time.Date(2026, 5, 4, 22, 30, 0, 0, time.UTC) }
	n, err := counter.Count(ctx, KindSubmission)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = counter.Reserve(ctx, KindSubmission, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDBCounterConcurrentReservationsNeverExceedCeiling(t *testing.T) {
	t.Parallel()

	counter := newDBCounter(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	ctx := candidate.WithID(context.Background(), "alice")

	const ceiling = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		refused int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := counter.Reserve(ctx, KindSubmission, ceiling)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else if apperr.Is(err, apperr.KindLimitExceeded) {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ceiling, granted)
	assert.Equal(t, 15, refused)

	n, err := counter.Count(ctx, KindSubmission)
	require.NoError(t, err)
	assert.Equal(t, ceiling, n)
}

func TestGenerationBudget(t *testing.T) {
	t.Parallel()

	counter := newDBCounter(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	ctx := candidate.WithID(context.Background(), "alice")

	unlimited := NewPolicy(counter, Config{}, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, unlimited.ReserveGeneration(ctx))
	}
	n, err := counter.Count(ctx, KindGeneration)
	require.NoError(t, err)
	assert.Zero(t, n, "an unlimited budget is not counted")

	limited := NewPolicy(counter, Config{GenerationBudget: 1}, nil)
	require.NoError(t, limited.ReserveGeneration(ctx))
	assert.True(t, apperr.Is(limited.ReserveGeneration(ctx), apperr.KindLimitExceeded))

	_, err = limited.ReserveSubmission(ctx)
	assert.NoError(t, err, "budgets are counted separately")
}

func TestCounterRequiresCandidate(t *testing.T) {
	t.Parallel()

	counter := newDBCounter(t, time.Now())
	_, err := counter.Reserve(context.Background(), KindSubmission, 1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
