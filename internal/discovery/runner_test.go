package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

type blockingDiscoverer struct {
	release chan struct{}
	report  *Report
	err     error
}

func (d *blockingDiscoverer) Discover(ctx context.Context) (*Report, error) {
	if _, err := candidate.FromContext(ctx); err != nil {
		return nil, err
	}
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.report, d.err
}

func TestRunnerOneRunPerCandidate(t *testing.T) {
	t.Parallel()

	d := &blockingDiscoverer{release: make(chan struct{}), report: &Report{Found: 4, Ingested: 3}}
	r := NewRunner(d, time.Minute, nil)

	alice := candidate.WithID(context.Background(), "alice")
	bob := candidate.WithID(context.Background(), "bob")

	require.NoError(t, r.Start(alice))
	assert.True(t, apperr.Is(r.Start(alice), apperr.KindBusy))
	require.NoError(t, r.Start(bob), "other candidates are not blocked")

	st, err := r.Status(alice)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.NotNil(t, st.StartedAt)

	close(d.release)
	r.Wait()

	st, err = r.Status(alice)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.NotNil(t, st.FinishedAt)
	assert.Equal(t, 3, st.Report.Ingested)
	assert.Empty(t, st.Error)

	require.NoError(t, r.Start(alice), "a finished run can be restarted")
	r.Wait()
}

func TestRunnerSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	d := &blockingDiscoverer{release: make(chan struct{}), err: errors.New("search down")}
	r := NewRunner(d, time.Minute, nil)

	ctx, cancel := context.WithCancel(candidate.WithID(context.Background(), "alice"))
	require.NoError(t, r.Start(ctx))
	cancel()

	close(d.release)
	r.Wait()

	st, err := r.Status(candidate.WithID(context.Background(), "alice"))
	require.NoError(t, err)
	assert.Equal(t, "search down", st.Error)
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()

	d := &blockingDiscoverer{release: make(chan struct{})}
	r := NewRunner(d, 20*time.Millisecond, nil)
	ctx := candidate.WithID(context.Background(), "alice")

	require.NoError(t, r.Start(ctx))
	r.Wait()

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, context.DeadlineExceeded.Error(), st.Error)
}

func TestRunnerStatusWithoutRuns(t *testing.T) {
	t.Parallel()

	r := NewRunner(&blockingDiscoverer{}, 0, nil)
	st, err := r.Status(candidate.WithID(context.Background(), "alice"))
	require.NoError(t, err)
	assert.Equal(t, Status{}, st)

	assert.True(t, apperr.Is(r.Start(context.Background()), apperr.KindValidation))
}
