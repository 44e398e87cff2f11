package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/store"
)

func newTestService(t *testing.T, gen ai.Generator) (*Service, *jobs.Store) {
	t.Helper()
	db := store.OpenTest(t, jobs.Migrate)
	js := jobs.NewStore(db, nil)
	profiles := candidate.Static{P: profileWith("Python", "React")}
	return NewService(js, profiles, NewEngine(Criteria{}, gen, 0, nil), nil), js
}

func TestScoreJobPersistsWithoutChangingStatus(t *testing.T) {
	t.Parallel()

	svc, js := newTestService(t, ai.Unavailable{})
	ctx := candidate.WithID(context.Background(), "alice")

	job, err := js.Ingest(ctx, "https://example.com/1", jobs.Fields{Title: "Dev", Description: "Requirements: Python, AWS, React"})
	require.NoError(t, err)
	_, err = js.Transition(ctx, job.ID, jobs.ActionReject)
	require.NoError(t, err)

	scored, err := svc.ScoreJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusRejected, scored.Status)
	require.NotNil(t, scored.MatchScore)
	assert.Equal(t, 67, *scored.MatchScore)
	assert.Equal(t, []string{"Python", "React"}, []string(scored.MatchedSkills))
	assert.Equal(t, []string{"AWS"}, []string(scored.MissingSkills))
	assert.Empty(t, scored.Summary)

	_, err = svc.ScoreJob(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestScoreAllOnlyTouchesUnscoredUnlessRescoring(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := ai.GeneratorFunc(func(context.Context, ai.Request) (*ai.Response, error) {
		calls++
		return &ai.Response{Summary: "ok"}, nil
	})
	svc, js := newTestService(t, gen)
	ctx := candidate.WithID(context.Background(), "alice")

	for i := 0; i < 3; i++ {
		_, err := js.Ingest(ctx, fmt.Sprintf("https://example.com/%d", i), jobs.Fields{Title: "Dev", Description: "Python"})
		require.NoError(t, err)
	}

	n, err := svc.ScoreAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.ScoreAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = svc.ScoreAll(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 6, calls)

	all, err := jobs.Collect(js.List(ctx, jobs.Filter{}))
	require.NoError(t, err)
	for _, j := range all {
		assert.Equal(t, "ok", j.Summary)
		assert.Equal(t, jobs.StatusInterested, j.Status)
	}
}
