package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/materials"
)

type fakeServices struct {
	candidate string
	jobID     string
	variant   string
	rescore   bool
	err       error
}

func (f *fakeServices) seen(ctx context.Context) {
	f.candidate, _ = candidate.FromContext(ctx)
}

func (f *fakeServices) ScoreJob(ctx context.Context, id string) (*jobs.Job, error) {
	f.seen(ctx)
	f.jobID = id
	score := 80
	return &jobs.Job{ID: id, MatchScore: &score}, f.err
}

func (f *fakeServices) ScoreAll(ctx context.Context, rescore bool) (int, error) {
	f.seen(ctx)
	f.rescore = rescore
	return 3, f.err
}

func (f *fakeServices) Discover(ctx context.Context) (*discovery.Report, error) {
	f.seen(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &discovery.Report{Ingested: 2}, nil
}

func (f *fakeServices) TailorCV(ctx context.Context, jobID string) (*materials.CV, error) {
	f.seen(ctx)
	f.jobID = jobID
	if f.err != nil {
		return nil, f.err
	}
	return &materials.CV{JobID: jobID, ATSScore: 75}, nil
}

func (f *fakeServices) GenerateCoverLetter(ctx context.Context, jobID, variant string) (*materials.CoverLetter, error) {
	f.seen(ctx)
	f.jobID, f.variant = jobID, variant
	if f.err != nil {
		return nil, f.err
	}
	return &materials.CoverLetter{JobID: jobID, Variant: variant}, nil
}

func newMux(f *fakeServices) *asynq.ServeMux {
	h := &Handlers{Scorer: f, Discoverer: f, Materials: f}
	return h.Mux()
}

func TestHandlersBindCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		task  func() (*asynq.Task, error)
		check func(t *testing.T, f *fakeServices)
	}{
		{
			name: "score job",
			task: func() (*asynq.Task, error) { return NewScoreJobTask("alice", "job-1") },
			check: func(t *testing.T, f *fakeServices) {
				assert.Equal(t, "job-1", f.jobID)
			},
		},
		{
			name: "score all",
			task: func() (*asynq.Task, error) { return NewScoreAllTask("alice", true) },
			check: func(t *testing.T, f *fakeServices) {
				assert.True(t, f.rescore)
			},
		},
		{
			name: "discover",
			task: func() (*asynq.Task, error) { return NewDiscoverTask("alice") },
		},
		{
			name: "tailor cv",
			task: func() (*asynq.Task, error) { return NewTailorCVTask("alice", "job-2") },
			check: func(t *testing.T, f *fakeServices) {
				assert.Equal(t, "job-2", f.jobID)
			},
		},
		{
			name: "cover letter",
			task: func() (*asynq.Task, error) { return NewCoverLetterTask("alice", "job-3", "concise") },
			check: func(t *testing.T, f *fakeServices) {
				assert.Equal(t, "job-3", f.jobID)
				assert.Equal(t, "concise", f.variant)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeServices{}
			task, err := tt.task()
			require.NoError(t, err)

			require.NoError(t, newMux(f).ProcessTask(context.Background(), task))
			assert.Equal(t, "alice", f.candidate)
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestHandlersSkipRetryForPermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{name: "not found", err: apperr.NotFound("job missing not found")},
		{name: "limit", err: apperr.LimitExceeded("daily generation limit reached")},
		{name: "permanent capability error", err: apperr.ExternalCapability("generate", errors.New("bad request"), false)},
		{name: "transient capability error", err: apperr.ExternalCapability("generate", errors.New("503"), true), retry: true},
		{name: "storage failure", err: errors.New("database is locked"), retry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task, err := NewTailorCVTask("alice", "job-1")
			require.NoError(t, err)

			err = newMux(&fakeServices{err: tt.err}).ProcessTask(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, !tt.retry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandlersRejectBadPayloads(t *testing.T) {
	t.Parallel()

	mux := newMux(&fakeServices{})

	err := mux.ProcessTask(context.Background(), asynq.NewTask(TypeScoreJob, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = mux.ProcessTask(context.Background(), asynq.NewTask(TypeScoreJob, []byte(`{"candidate_id":"alice"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewDiscoverTask("")
	assert.Error(t, err)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "pipeline"}, nil
}

func TestQueueEnqueuesForContextCandidate(t *testing.T) {
	t.Parallel()

	client := &fakeEnqueuer{}
	q := newQueue(client, Config{Queue: "pipeline"}, nil)

	_, err := q.ScoreJob(context.Background(), "job-1")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "candidate is required")

	ctx := candidate.WithID(context.Background(), "alice")
	id, err := q.CoverLetter(ctx, "job-1", "professional")
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	_, err = q.TailorCV(ctx, " ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeCoverLetter, client.tasks[0].Type())
	assert.JSONEq(t, `{"candidate_id":"alice","job_id":"job-1","variant":"professional"}`, string(client.tasks[0].Payload()))
	assert.Len(t, client.opts[0], 3)
}
