package materials

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/store"
)

type fakeExporter struct {
	bundles []*Bundle
	err     error
}

func (f *fakeExporter) Export(_ context.Context, b *Bundle) (*Exported, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bundles = append(f.bundles, b)
	paths := map[string]string{}
	for _, cl := range b.CoverLetters {
		paths[cl.Variant] = b.CandidateID + "/" + b.Job.ID + "/cover_letter_" + cl.Variant + ".html"
	}
	return &Exported{
		ArchivePath:      b.CandidateID + "/" + b.Job.ID + "/materials.zip",
		CVPath:           b.CandidateID + "/" + b.Job.ID + "/tailored_cv.html",
		CoverLetterPaths: paths,
	}, nil
}

type countingBudget struct {
	mu    sync.Mutex
	left  int
	calls int
}

func (b *countingBudget) ReserveGeneration(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.left == 0 {
		return apperr.LimitExceeded("daily generation limit reached")
	}
	b.left--
	return nil
}

type fixture struct {
	svc      *Service
	jobs     *jobs.Store
	exporter *fakeExporter
	ctx      context.Context
	job      *jobs.Job
}

func newFixture(t *testing.T, gen ai.Generator, budget Budget) *fixture {
	t.Helper()

	db := store.OpenTest(t, jobs.Migrate, Migrate)
	js := jobs.NewStore(db, nil)
	ctx := candidate.WithID(context.Background(), "alice")

	job, err := js.Ingest(ctx, "https://jobs.example.com/1", jobs.Fields{
		Title:       "Data Analyst",
		Company:     "Acme",
		Description: "Requirements: SQL, Python, AWS\nNice to have: Tableau",
	})
	require.NoError(t, err)

	exp := &fakeExporter{}
	svc := NewService(Config{}, Deps{
		DB:        db,
		Jobs:      js,
		Profiles:  candidate.Static{P: testProfile()},
		Generator: gen,
		Budget:    budget,
		Exporter:  exp,
	})
	return &fixture{svc: svc, jobs: js, exporter: exp, ctx: ctx, job: job}
}

func letterGenerator(calls *int) ai.Generator {
	return ai.GeneratorFunc(func(_ context.Context, req ai.Request) (*ai.Response, error) {
		*calls++
		switch req.Kind {
		case ai.KindTailorCV:
			return &ai.Response{CV: &ai.TailoredCV{Summary: "Analyst who ships SQL pipelines."}}, nil
		case ai.KindCoverLetter:
			return &ai.Response{CoverLetter: "Dear Acme team, (" + req.Variant + ") " + req.Profile.Summary}, nil
		}
		return nil, errors.New("unexpected kind")
	})
}

func TestTailorCVTwiceKeepsOneRow(t *testing.T) {
	t.Parallel()

	calls := 0
	f := newFixture(t, letterGenerator(&calls), nil)

	first, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	second, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 75, second.ATSScore)
	assert.Equal(t, []string{"AWS"}, []string(second.MissingKeywords))
	assert.True(t, second.Refined)
	assert.Equal(t, "Analyst who ships SQL pipelines.", second.Content.Data().Summary)
	assert.Equal(t, 2, calls)

	var rows int64
	require.NoError(t, f.svc.db.Model(&CV{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestTailorCVConcurrentRequestsCollapse(t *testing.T) {
	t.Parallel()

	calls := 0
	var mu sync.Mutex
	gen := ai.GeneratorFunc(func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, apperr.ExternalCapability("model down", nil, false)
	})
	f := newFixture(t, gen, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.TailorCV(f.ctx, f.job.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows int64
	require.NoError(t, f.svc.db.Model(&CV{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestTailorCVKeepsDeterministicResultWhenGenerationFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ai.Unavailable{}, nil)

	cv, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.False(t, cv.Refined)
	assert.Equal(t, testProfile().Summary, cv.Content.Data().Summary)
	assert.Equal(t, 75, cv.ATSScore)
}

func TestGenerateRetriesTransientFailureOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "transient then ok",
			errs:      []error{apperr.ExternalCapability("timeout", nil, true), nil},
			wantCalls: 2,
		},
		{
			name:      "transient twice",
			errs:      []error{apperr.ExternalCapability("timeout", nil, true), apperr.ExternalCapability("timeout", nil, true)},
			wantCalls: 2,
			wantErr:   true,
		},
		{
			name:      "permanent",
			errs:      []error{apperr.ExternalCapability("bad request", nil, false)},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "deadline",
			errs:      []error{context.DeadlineExceeded, nil},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			gen := ai.GeneratorFunc(func(context.Context, ai.Request) (*ai.Response, error) {
				err := tt.errs[calls]
				calls++
				if err != nil {
					return nil, err
				}
				return &ai.Response{CoverLetter: "Hello"}, nil
			})
			f := newFixture(t, gen, nil)

			_, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, VariantConcise)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.KindExternalCapability), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCoverLetterVariants(t *testing.T) {
	t.Parallel()

	calls := 0
	f := newFixture(t, letterGenerator(&calls), nil)

	_, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "professional")
	require.NoError(t, err)
	again, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, " Professional ")
	require.NoError(t, err)
	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.NoError(t, err)

	assert.Equal(t, VariantProfessional, again.Variant)
	assert.Equal(t, "Dear Acme team, (professional) "+testProfile().Summary, again.Content)

	m, err := f.svc.Materials(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, m.CoverLetters, 2)
	assert.Equal(t, VariantConcise, m.CoverLetters[0].Variant)
	assert.Equal(t, VariantProfessional, m.CoverLetters[1].Variant)
	assert.Nil(t, m.CV)

	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "../../etc")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCoverLetterUsesTailoredCV(t *testing.T) {
	t.Parallel()

	calls := 0
	f := newFixture(t, letterGenerator(&calls), nil)

	_, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	cl, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "")
	require.NoError(t, err)

	assert.Equal(t, VariantProfessional, cl.Variant)
	assert.Equal(t, "Dear Acme team, (professional) Analyst who ships SQL pipelines.", cl.Content)
}

func TestCoverLetterFailureKeepsPreviousLetter(t *testing.T) {
	t.Parallel()

	fail := false
	gen := ai.GeneratorFunc(func(context.Context, ai.Request) (*ai.Response, error) {
		if fail {
			return nil, apperr.ExternalCapability("quota", nil, false)
		}
		return &ai.Response{CoverLetter: "first"}, nil
	})
	f := newFixture(t, gen, nil)

	_, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.NoError(t, err)
	fail = true
	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.Error(t, err)

	m, err := f.svc.Materials(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, m.CoverLetters, 1)
	assert.Equal(t, "first", m.CoverLetters[0].Content)
}

func TestGenerationBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	budget := &countingBudget{left: 1}
	f := newFixture(t, letterGenerator(&calls), budget)

	_, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	assert.True(t, apperr.Is(err, apperr.KindLimitExceeded))
	assert.Equal(t, 1, calls, "no generation after the budget is spent")
	assert.Equal(t, 2, budget.calls)
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	calls := 0
	f := newFixture(t, letterGenerator(&calls), nil)

	_, err := f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.NoError(t, err)

	_, err = f.svc.Finalize(f.ctx, f.job.ID)
	require.True(t, apperr.Is(err, apperr.KindNotReady), "a cover letter alone is not enough")
	assert.Empty(t, f.exporter.bundles)

	_, err = f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)

	exp, err := f.svc.Finalize(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice/"+f.job.ID+"/materials.zip", exp.ArchivePath)
	assert.Equal(t, map[string]string{"concise": "alice/" + f.job.ID + "/cover_letter_concise.html"}, exp.CoverLetterPaths.Data())

	again, err := f.svc.Finalize(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, again.ID)

	m, err := f.svc.Materials(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.NotNil(t, m.CV)
	assert.Equal(t, "alice/"+f.job.ID+"/tailored_cv.html", m.CV.FilePath)
	assert.Equal(t, "alice/"+f.job.ID+"/cover_letter_concise.html", m.CoverLetters[0].FilePath)
	require.NotNil(t, m.Export)

	path, err := f.svc.FinalizedCVPath(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, m.CV.FilePath, path)

	require.Len(t, f.exporter.bundles, 2)
	assert.Equal(t, "Data Analyst", f.exporter.bundles[0].Job.Title)
}

func TestRegenerateAfterFinalizeDropsExportedFiles(t *testing.T) {
	t.Parallel()

	summaries := []string{"first", "second"}
	gen := ai.GeneratorFunc(func(_ context.Context, req ai.Request) (*ai.Response, error) {
		if req.Kind == ai.KindCoverLetter {
			return &ai.Response{CoverLetter: "Dear Acme team, " + req.Variant}, nil
		}
		summary := summaries[0]
		summaries = summaries[1:]
		return &ai.Response{CV: &ai.TailoredCV{Summary: summary}}, nil
	})
	f := newFixture(t, gen, nil)

	_, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.NoError(t, err)
	_, err = f.svc.Finalize(f.ctx, f.job.ID)
	require.NoError(t, err)

	cv, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", cv.Content.Data().Summary)
	assert.Empty(t, cv.FilePath)

	_, err = f.svc.FinalizedCVPath(f.ctx, f.job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotReady), "the exported cv holds the previous content")

	m, err := f.svc.Materials(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Nil(t, m.Export)
	assert.NotEmpty(t, m.CoverLetters[0].FilePath, "the letter itself did not change")

	_, err = f.svc.Finalize(f.ctx, f.job.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateCoverLetter(f.ctx, f.job.ID, "concise")
	require.NoError(t, err)

	m, err = f.svc.Materials(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Nil(t, m.Export)
	assert.Empty(t, m.CoverLetters[0].FilePath)
	assert.NotEmpty(t, m.CV.FilePath)

	path, err := f.svc.FinalizedCVPath(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice/"+f.job.ID+"/tailored_cv.html", path)

	require.Len(t, f.exporter.bundles, 2)
	assert.Equal(t, "second", f.exporter.bundles[1].CV.Content.Data().Summary)
}

func TestMaterialsAreScopedToCandidate(t *testing.T) {
	t.Parallel()

	calls := 0
	f := newFixture(t, letterGenerator(&calls), nil)
	_, err := f.svc.TailorCV(f.ctx, f.job.ID)
	require.NoError(t, err)

	bob := candidate.WithID(context.Background(), "bob")
	_, err = f.svc.Materials(bob, f.job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.TailorCV(bob, f.job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
