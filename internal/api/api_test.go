package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/materials"
	"github.com/spigell/job-pilot/internal/safety"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeJobs struct {
	seen   string
	action jobs.Action
	filter jobs.Filter
	list   []*jobs.Job
	err    error
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*jobs.Job, error) {
	f.seen, _ = candidate.FromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &jobs.Job{ID: id, Title: "Go Engineer"}, nil
}

func (f *fakeJobs) Transition(ctx context.Context, id string, action jobs.Action) (*jobs.Job, error) {
	f.seen, _ = candidate.FromContext(ctx)
	f.action = action
	if f.err != nil {
		return nil, f.err
	}
	return &jobs.Job{ID: id, Status: jobs.StatusShortlisted}, nil
}

func (f *fakeJobs) List(ctx context.Context, filter jobs.Filter) iter.Seq2[*jobs.Job, error] {
	f.filter = filter
	return func(yield func(*jobs.Job, error) bool) {
		for _, j := range f.list {
			if !yield(j, nil) {
				return
			}
		}
	}
}

type fakeIngester struct {
	seen string
	url  string
}

func (f *fakeIngester) IngestURL(ctx context.Context, rawURL string) (*jobs.Job, error) {
	f.seen, _ = candidate.FromContext(ctx)
	f.url = rawURL
	return &jobs.Job{ID: "job-1", SourceURL: rawURL, Title: "Go Engineer"}, nil
}

func (f *fakeIngester) CaptureDetails(_ context.Context, id string) (*jobs.Job, error) {
	return &jobs.Job{ID: id}, nil
}

type fakeAssistant struct {
	dryRun bool
	jobID  string
	err    error
}

func (f *fakeAssistant) Launch(context.Context) error { return f.err }
func (f *fakeAssistant) Stop(context.Context) error   { return nil }

func (f *fakeAssistant) Status(context.Context) (assistant.Status, error) {
	return assistant.Status{
		State: assistant.StateConnected,
		Usage: &safety.Usage{Submissions: 3, DailyLimit: 50, GenerationBudget: 200},
	}, nil
}

func (f *fakeAssistant) Capture(context.Context) (*assistant.CaptureReport, error) {
	return &assistant.CaptureReport{Found: 3, New: 2, Duplicates: 1}, nil
}

func (f *fakeAssistant) Apply(_ context.Context, jobID string, dryRun bool) (*assistant.Outcome, error) {
	f.jobID, f.dryRun = jobID, dryRun
	if f.err != nil {
		return nil, f.err
	}
	state := assistant.StateSubmitted
	if dryRun {
		state = assistant.StateDryRunComplete
	}
	return &assistant.Outcome{State: state, JobID: jobID, DryRun: dryRun}, nil
}

type fakeQueue struct{ calls []string }

func (f *fakeQueue) ScoreJob(_ context.Context, jobID string) (string, error) {
	f.calls = append(f.calls, "score:"+jobID)
	return "task-1", nil
}

func (f *fakeQueue) Discover(context.Context) (string, error) {
	f.calls = append(f.calls, "discover")
	return "task-2", nil
}

func (f *fakeQueue) TailorCV(_ context.Context, jobID string) (string, error) {
	f.calls = append(f.calls, "tailor:"+jobID)
	return "task-3", nil
}

func (f *fakeQueue) CoverLetter(_ context.Context, jobID, variant string) (string, error) {
	f.calls = append(f.calls, "cover:"+jobID+":"+variant)
	return "task-4", nil
}

type fakeMaterials struct{ variant string }

func (f *fakeMaterials) TailorCV(_ context.Context, jobID string) (*materials.CV, error) {
	return &materials.CV{JobID: jobID, ATSScore: 80}, nil
}

func (f *fakeMaterials) GenerateCoverLetter(_ context.Context, jobID, variant string) (*materials.CoverLetter, error) {
	f.variant = variant
	return &materials.CoverLetter{JobID: jobID, Variant: variant}, nil
}

func (f *fakeMaterials) Finalize(context.Context, string) (*materials.Export, error) {
	return nil, apperr.NotReady("tailor a cv before finalizing")
}

func (f *fakeMaterials) Materials(_ context.Context, jobID string) (*materials.Materials, error) {
	return &materials.Materials{CV: &materials.CV{JobID: jobID}}, nil
}

type fakeDiscovery struct{ started bool }

func (f *fakeDiscovery) Start(context.Context) error {
	if f.started {
		return apperr.Busy("discovery is already running")
	}
	f.started = true
	return nil
}

func (f *fakeDiscovery) Status(context.Context) (discovery.Status, error) {
	return discovery.Status{Running: f.started}, nil
}

type fakeApplications struct{ to applications.Status }

func (f *fakeApplications) List(context.Context, ...applications.Status) ([]applications.Record, error) {
	return []applications.Record{{ID: "app-1", JobID: "job-1", Status: applications.StatusApplied}}, nil
}

func (f *fakeApplications) Advance(_ context.Context, id string, to applications.Status) (*applications.Record, error) {
	f.to = to
	return &applications.Record{ID: id, Status: to}, nil
}

type fixture struct {
	server    *Server
	tokens    *Tokens
	jobs      *fakeJobs
	ingester  *fakeIngester
	assistant *fakeAssistant
	queue     *fakeQueue
	materials *fakeMaterials
	discovery *fakeDiscovery
	apps      *fakeApplications
	bus       *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := NewTokens(testSecret, time.Hour)
	require.NoError(t, err)

	f := &fixture{
		tokens:    tokens,
		jobs:      &fakeJobs{},
		ingester:  &fakeIngester{},
		assistant: &fakeAssistant{},
		queue:     &fakeQueue{},
		materials: &fakeMaterials{},
		discovery: &fakeDiscovery{},
		apps:      &fakeApplications{},
		bus:       events.NewBus(nil),
	}
	f.server = New(Config{}, Deps{
		Jobs:         f.jobs,
		Ingester:     f.ingester,
		Materials:    f.materials,
		Discovery:    f.discovery,
		Assistant:    f.assistant,
		Applications: f.apps,
		Queue:        f.queue,
		Events:       f.bus,
		Tokens:       tokens,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	token, err := f.tokens.Issue("alice")
	require.NoError(t, err)
	return f.doWith(t, method, path, body, "Bearer "+token)
}

func (f *fixture) doWith(t *testing.T, method, path, body, auth string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w, res
}

func TestTokens(t *testing.T) {
	t.Parallel()

	tokens, err := NewTokens(testSecret, time.Minute)
	require.NoError(t, err)

	raw, err := tokens.Issue("alice")
	require.NoError(t, err)

	cid, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", cid)

	other, err := NewTokens("another-secret", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(raw)
	assert.Error(t, err, "foreign signature")

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Verify(raw)
	assert.Error(t, err, "expired")

	_, err = tokens.Issue(" ")
	assert.Error(t, err)

	_, err = NewTokens("", time.Minute)
	assert.Error(t, err)
}

func TestRoutesRequireSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, auth := range []string{"", "Bearer", "Basic abc", "Bearer not-a-token"} {
		w, res := f.doWith(t, http.MethodGet, "/api/jobs", "", auth)
		assert.Equal(t, http.StatusUnauthorized, w.Code, auth)
		assert.False(t, res.OK)
		assert.Equal(t, "unauthorized", res.Reason)
	}
}

func TestCandidateComesFromToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w, res := f.do(t, http.MethodPost, "/api/jobs/ingest", `{"url":"https://example.com/jobs/1","candidate_id":"mallory"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.Equal(t, "alice", f.ingester.seen)
	assert.Equal(t, "https://example.com/jobs/1", f.ingester.url)

	w, res = f.do(t, http.MethodPost, "/api/jobs/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, res.OK)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		reason string
	}{
		{err: apperr.NotFound("job x not found"), status: http.StatusNotFound, reason: "job x not found"},
		{err: apperr.Validation("bad action"), status: http.StatusBadRequest, reason: "bad action"},
		{err: apperr.Duplicate("already applied"), status: http.StatusConflict, reason: "already applied"},
		{err: apperr.Busy("assistant is busy"), status: http.StatusConflict, reason: "assistant is busy"},
		{err: apperr.LimitExceeded("daily limit reached"), status: http.StatusTooManyRequests, reason: "daily limit reached"},
		{err: apperr.NotReady("no cv"), status: http.StatusUnprocessableEntity, reason: "no cv"},
		{err: apperr.ExternalCapability("generate", errors.New("503"), true), status: http.StatusBadGateway, reason: "generate: 503"},
		{err: errors.New("disk I/O error at /var/lib/db"), status: http.StatusInternalServerError, reason: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.jobs.err = tt.err

			w, res := f.do(t, http.MethodPost, "/api/jobs/job-1/shortlist", "")
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for path, action := range map[string]jobs.Action{
		"shortlist": jobs.ActionShortlist,
		"reject":    jobs.ActionReject,
		"revert":    jobs.ActionRevert,
	} {
		w, res := f.do(t, http.MethodPost, "/api/jobs/job-1/"+path, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, res.OK)
		assert.Equal(t, action, f.jobs.action)
		assert.Equal(t, "alice", f.jobs.seen)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.jobs.list = []*jobs.Job{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	w, res := f.do(t, http.MethodGet, "/api/jobs?status=interested,shortlisted&min_score=60&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, []jobs.Status{jobs.StatusInterested, jobs.StatusShortlisted}, f.jobs.filter.Statuses)
	require.NotNil(t, f.jobs.filter.MinScore)
	assert.Equal(t, 60, *f.jobs.filter.MinScore)

	for _, q := range []string{"status=applied", "min_score=101", "min_score=x", "limit=0"} {
		w, _ := f.do(t, http.MethodGet, "/api/jobs?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestApplyPassesDryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w, res := f.do(t, http.MethodPost, "/api/assistant/apply/job-7?dry_run=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.True(t, f.assistant.dryRun)
	assert.Equal(t, "job-7", f.assistant.jobID)

	w, _ = f.do(t, http.MethodPost, "/api/assistant/apply/job-7?dry_run=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.assistant.err = apperr.LimitExceeded("daily submission limit of 50 reached")
	w, res = f.do(t, http.MethodPost, "/api/assistant/apply/job-7", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, f.assistant.dryRun)
	assert.Contains(t, res.Reason, "limit")
}

func TestAssistantStatusReportsUsage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w, res := f.do(t, http.MethodGet, "/api/assistant/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	data, isMap := res.Data.(map[string]any)
	require.True(t, isMap, res.Data)
	assert.Equal(t, "connected", data["state"])
	usage, isMap := data["usage"].(map[string]any)
	require.True(t, isMap, data)
	assert.EqualValues(t, 3, usage["submissions"])
	assert.EqualValues(t, 50, usage["daily_limit"])
}

func TestAssistantNotConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.server.deps.Assistant = nil

	w, res := f.do(t, http.MethodGet, "/api/assistant/status", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "assistant is not configured", res.Reason)
}

func TestAsyncOperationsUseQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w, res := f.do(t, http.MethodPost, "/api/jobs/job-1/score?async=true", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, res.OK)

	w, _ = f.do(t, http.MethodPost, "/api/jobs/job-1/generate-cl?async=1", `{"variant":"concise"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/jobs/job-1/tailor-cv?async=true", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, []string{"score:job-1", "cover:job-1:concise", "tailor:job-1"}, f.queue.calls)

	w, _ = f.do(t, http.MethodPost, "/api/jobs/job-1/generate-cl?variant=technical", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "technical", f.materials.variant)
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/api/jobs/discover", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, res := f.do(t, http.MethodPost, "/api/jobs/discover", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, res.Reason, "already running")

	w, res = f.do(t, http.MethodGet, "/api/discovery/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"running": true}, res.Data)

	w, _ = f.do(t, http.MethodPost, "/api/jobs/discover?async=true", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"discover"}, f.queue.calls)
}

func TestFinalizeNotReady(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w, res := f.do(t, http.MethodPost, "/api/jobs/job-1/finalize", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "tailor a cv before finalizing", res.Reason)
}

func TestAdvanceApplication(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w, res := f.do(t, http.MethodPost, "/api/applications/app-1/advance", `{"status":"interviewing"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.Equal(t, applications.StatusInterviewing, f.apps.to)

	w, res = f.do(t, http.MethodGet, "/api/applications?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, res.OK)
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	srv := httptest.NewServer(f.server.Router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"

	t.Run("rejects a missing token", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(authMessage{Type: "auth"}))
		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	})

	t.Run("delivers only the candidate's events", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		token, err := f.tokens.Issue("alice")
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(authMessage{Type: "auth", Token: token}))

		// The subscription starts after the handshake; publish until it is seen.
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					f.bus.Publish(context.Background(), events.Event{Type: events.JobScored, CandidateID: "bob"})
					f.bus.Publish(context.Background(), events.Event{Type: events.AssistantState, CandidateID: "alice"})
				}
			}
		}()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		for range 3 {
			var ev events.Event
			require.NoError(t, conn.ReadJSON(&ev))
			assert.Equal(t, "alice", ev.CandidateID)
			assert.Equal(t, events.AssistantState, ev.Type)
		}
	})
}
