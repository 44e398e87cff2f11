package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/filtering"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/listing"
	"github.com/spigell/job-pilot/internal/matching"
	"github.com/spigell/job-pilot/internal/store"
)

type fakeSearch struct {
	mu      sync.Mutex
	params  []SearchParams
	results map[string][]*listing.Posting
	fail    map[string]error
}

func (f *fakeSearch) Search(_ context.Context, p *SearchParams, _ int) (*listing.Postings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, *p)
	key := p.What + "@" + p.Where
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	items := make([]*listing.Posting, 0, len(f.results[key]))
	for _, it := range f.results[key] {
		cp := *it
		items = append(items, &cp)
	}
	return &listing.Postings{Items: items}, nil
}

type fakePages struct {
	fetched []string
	pages   map[string]*Page
}

func (f *fakePages) Fetch(_ context.Context, u string) (*Page, error) {
	f.fetched = append(f.fetched, u)
	if p, ok := f.pages[u]; ok {
		return p, nil
	}
	return nil, apperr.ExternalCapability("fetch posting page: bad status: 404 Not Found", nil, false)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	jobs   *jobs.Store
	search *fakeSearch
	pages  *fakePages
	events *recorder
	ctx    context.Context
}

func newFixture(t *testing.T, cfg Config, profile *candidate.Profile, steps ...filtering.Filter) *fixture {
	t.Helper()

	db := store.OpenTest(t, jobs.Migrate)
	js := jobs.NewStore(db, nil)
	profiles := candidate.Static{P: profile}
	scorer := matching.NewService(js, profiles, matching.NewEngine(matching.Criteria{}, nil, 0, nil), nil)

	f := &fixture{
		jobs:   js,
		search: &fakeSearch{results: map[string][]*listing.Posting{}, fail: map[string]error{}},
		pages:  &fakePages{pages: map[string]*Page{}},
		events: &recorder{},
		ctx:    candidate.WithID(context.Background(), "alice"),
	}
	f.svc = NewService(cfg, Deps{
		Search:    f.search,
		Pages:     f.pages,
		Jobs:      js,
		Scorer:    scorer,
		Filters:   filtering.New(steps, nil),
		Profiles:  profiles,
		Publisher: f.events,
	})
	return f
}

func posting(n int, title string) *listing.Posting {
	return &listing.Posting{
		URL:         fmt.Sprintf("https://jobs.example.com/%d", n),
		Title:       title,
		Company:     "Acme",
		Location:    "Berlin",
		Description: "Requirements: Python, SQL",
		Source:      "adzuna",
	}
}

func TestDiscoverIngestsAndScores(t *testing.T) {
	t.Parallel()

	profile := &candidate.Profile{
		Name:     "Ada Lovelace",
		Location: "Berlin, Germany",
		Headline: "Data Engineer Berlin",
		Skills:   []string{"Python", "SQL"},
		Experience: []candidate.Experience{
			{Title: "Remote Data Analyst"},
			{Title: "data engineer"},
		},
	}
	f := newFixture(t, Config{}, profile)

	f.search.results["Data Engineer@Berlin"] = []*listing.Posting{posting(1, "Data Engineer"), posting(2, "Senior Data Engineer")}
	f.search.results["Data Analyst@Berlin"] = []*listing.Posting{posting(2, "Senior Data Engineer"), posting(3, "Data Analyst")}

	_, err := f.jobs.Ingest(f.ctx, "https://jobs.example.com/3", jobs.Fields{Title: "Data Analyst"})
	require.NoError(t, err)

	report, err := f.svc.Discover(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, &Report{Queries: 2, Found: 3, Ingested: 2, Duplicates: 1}, report)

	var queries []string
	for _, p := range f.search.params {
		queries = append(queries, p.What+"@"+p.Where)
	}
	assert.Equal(t, []string{"Data Engineer@Berlin", "Data Analyst@Berlin"}, queries)

	stored, err := f.jobs.FindBySource(f.ctx, "https://jobs.example.com/1")
	require.NoError(t, err)
	require.NotNil(t, stored.MatchScore)
	assert.Equal(t, 100, *stored.MatchScore)
	assert.Equal(t, "adzuna", stored.Source)
	assert.Equal(t, jobs.StatusInterested, stored.Status)

	types := f.events.types()
	assert.Equal(t, events.DiscoveryStarted, types[0])
	assert.Equal(t, events.DiscoveryFinished, types[len(types)-1])
	assert.Contains(t, types, events.JobIngested)
	assert.Contains(t, types, events.JobScored)
}

func TestDiscoverUsesConfiguredQueriesAndFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		Config{Queries: []string{"go developer"}, Locations: []string{"Berlin", "Munich"}, MaxDaysOld: 7},
		&candidate.Profile{Name: "Ada"},
		filtering.NewExcludedEmployers([]string{"acme"}, nil),
	)
	f.search.results["go developer@Berlin"] = []*listing.Posting{posting(1, "Go Developer")}
	other := posting(2, "Go Developer")
	other.Company = "Initech"
	f.search.results["go developer@Munich"] = []*listing.Posting{other}

	report, err := f.svc.Discover(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 1, report.Ingested)
	for _, p := range f.search.params {
		assert.Equal(t, 7, p.MaxDaysOld)
	}
}

func TestCollectThenIngest(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		Config{Queries: []string{"go developer"}, Locations: []string{"Berlin"}},
		&candidate.Profile{Name: "Ada"},
		filtering.NewExcludedEmployers([]string{"initech"}, nil),
	)
	other := posting(2, "Go Developer")
	other.Company = "Initech"
	f.search.results["go developer@Berlin"] = []*listing.Posting{posting(1, "Go Developer"), other, posting(3, "Platform Engineer")}

	kept, report, err := f.svc.Collect(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, &Report{Queries: 1, Found: 3, Filtered: 1}, report)

	byCompany := kept.ReportByCompany()
	require.Len(t, byCompany, 1)
	assert.Len(t, byCompany["Acme"], 2)

	_, err = f.jobs.FindBySource(f.ctx, "https://jobs.example.com/1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "collect stores nothing")
	assert.NotContains(t, f.events.types(), events.DiscoveryFinished)

	report, err = f.svc.Ingest(f.ctx, kept, report)
	require.NoError(t, err)
	assert.Equal(t, &Report{Queries: 1, Found: 3, Filtered: 1, Ingested: 2}, report)
	assert.Contains(t, f.events.types(), events.DiscoveryFinished)
}

func TestDiscoverFailsOnlyWhenEverySearchFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Queries: []string{"a", "b"}}, &candidate.Profile{Name: "Ada"})
	boom := apperr.ExternalCapability("job search: bad status: 503", nil, true)
	f.search.fail["a@Berlin"] = boom

	f.search.results["b@Berlin"] = []*listing.Posting{posting(1, "B")}
	report, err := f.svc.Discover(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)

	f.search.fail["b@Berlin"] = boom
	_, err = f.svc.Discover(f.ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestDiscoverRequiresCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &candidate.Profile{Name: "Ada"})
	_, err := f.svc.Discover(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, f.search.params)
}

func TestIngestURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &candidate.Profile{Name: "Ada", Skills: []string{"Go"}})
	f.pages.pages["https://careers.example.com/jobs/7"] = &Page{
		Title:       "Backend Engineer",
		Company:     "Initech",
		Location:    "Berlin",
		Description: "Requirements: Go, Kubernetes.",
	}

	job, err := f.svc.IngestURL(f.ctx, "https://Careers.example.com/jobs/7/#apply")
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", job.Title)
	assert.Equal(t, OriginManual, job.Source)
	require.NotNil(t, job.MatchScore)
	assert.Equal(t, 50, *job.MatchScore)

	again, err := f.svc.IngestURL(f.ctx, "https://careers.example.com/jobs/7")
	require.True(t, apperr.Is(err, apperr.KindDuplicate))
	assert.Equal(t, job.ID, again.ID)
	assert.Len(t, f.pages.fetched, 1, "a known url is not fetched again")

	_, err = f.svc.IngestURL(f.ctx, "https://careers.example.com/gone")
	assert.True(t, apperr.Is(err, apperr.KindExternalCapability))

	_, err = f.svc.IngestURL(f.ctx, "not a url")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCaptureDetailsBackfillsDescription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &candidate.Profile{Name: "Ada"})
	job, err := f.jobs.Ingest(f.ctx, "https://jobs.example.com/9", jobs.Fields{Title: "Analyst"})
	require.NoError(t, err)
	_, err = f.jobs.Transition(f.ctx, job.ID, jobs.ActionShortlist)
	require.NoError(t, err)

	f.pages.pages[job.SourceURL] = &Page{Title: "Analyst", Description: "Full description"}

	got, err := f.svc.CaptureDetails(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Full description", got.Description)
	assert.Equal(t, jobs.StatusShortlisted, got.Status)

	_, err = f.svc.CaptureDetails(f.ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
