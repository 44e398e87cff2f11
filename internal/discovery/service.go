package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/filtering"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/listing"
	"github.com/spigell/job-pilot/internal/matching"
	"github.com/spigell/job-pilot/internal/metrics"
)

const (
	OriginDiscovery = "discovery"
	OriginManual    = "manual"
	OriginCapture   = "capture"

	defaultMaxQueries = 5
	defaultLocation   = "Berlin"
)

// locationWords are stripped from queries so the search location applies.
var locationWords = regexp.MustCompile(`(?i)\b(remote|san francisco|new york city|new york|berlin|london|munich|hamburg)\b`)

type Searcher interface {
	Search(ctx context.Context, params *SearchParams, maxPages int) (*listing.Postings, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

type JobStore interface {
	Ingest(ctx context.Context, sourceURL string, f jobs.Fields) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	FindBySource(ctx context.Context, sourceURL string) (*jobs.Job, error)
	BackfillDescription(ctx context.Context, id, description string) (*jobs.Job, error)
}

type Scorer interface {
	ScoreJob(ctx context.Context, id string) (*jobs.Job, error)
}

type Config struct {
	Queries      []string `mapstructure:"queries"`
	Locations    []string `mapstructure:"locations"`
	MaxQueries   int      `mapstructure:"max-queries"`
	MaxPages     int      `mapstructure:"max-pages"`
	MaxDaysOld   int      `mapstructure:"max-days-old"`
	ExcludeWords []string `mapstructure:"exclude-words"`
}

// Report is the completion summary of one discovery run.
type Report struct {
	Queries    int `json:"queries"`
	Found      int `json:"found"`
	Filtered   int `json:"filtered"`
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

type Service struct {
	search    Searcher
	pages     PageFetcher
	jobs      JobStore
	scorer    Scorer
	filters   *filtering.Filtering
	profiles  candidate.Source
	publisher events.Publisher
	config    Config
	logger    *zap.Logger
}

type Deps struct {
	Search    Searcher
	Pages     PageFetcher
	Jobs      JobStore
	Scorer    Scorer
	Filters   *filtering.Filtering
	Profiles  candidate.Source
	Publisher events.Publisher
	Logger    *zap.Logger
}

func NewService(cfg Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Filters == nil {
		deps.Filters = filtering.New(nil, deps.Logger)
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = defaultMaxQueries
	}
	return &Service{
		search:    deps.Search,
		pages:     deps.Pages,
		jobs:      deps.Jobs,
		scorer:    deps.Scorer,
		filters:   deps.Filters,
		profiles:  deps.Profiles,
		publisher: deps.Publisher,
		config:    cfg,
		logger:    deps.Logger,
	}
}

// Discover searches every (location, query) pair, filters the postings and
// ingests and scores the survivors.
func (s *Service) Discover(ctx context.Context) (*Report, error) {
	kept, report, err := s.Collect(ctx)
	if err != nil {
		return report, err
	}
	return s.Ingest(ctx, kept, report)
}

// Collect searches every (location, query) pair and returns the postings
// that pass the filters. Nothing is stored.
func (s *Service) Collect(ctx context.Context) (*listing.Postings, *Report, error) {
	if s.search == nil {
		return nil, nil, apperr.ExternalCapability("job search is not configured", nil, false)
	}
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		return nil, nil, err
	}

	queries := s.queries(profile)
	locations := s.locations(profile)
	report := &Report{}

	s.publisher.Publish(ctx, events.Event{Type: events.DiscoveryStarted, CandidateID: cid})

	all := &listing.Postings{}
	seen := make(map[string]struct{})
	var lastErr error
	for _, loc := range locations {
		for _, q := range queries {
			report.Queries++
			found, err := s.search.Search(ctx, &SearchParams{
				What:         q,
				Where:        loc,
				MaxDaysOld:   s.config.MaxDaysOld,
				ExcludeWords: s.config.ExcludeWords,
			}, s.config.MaxPages)
			if err != nil {
				if ctx.Err() != nil {
					return nil, report, ctx.Err()
				}
				lastErr = err
				s.logger.Warn("search failed", zap.String("query", q), zap.String("location", loc), zap.Error(err))
				continue
			}
			for _, p := range found.Items {
				if _, dup := seen[p.URL]; dup {
					continue
				}
				seen[p.URL] = struct{}{}
				all.Items = append(all.Items, p)
			}
		}
	}
	if all.Len() == 0 && lastErr != nil {
		return nil, report, fmt.Errorf("every search failed: %w", lastErr)
	}

	report.Found = all.Len()
	s.logger.Info("postings found", zap.Int("count", report.Found), zap.Int("queries", report.Queries))

	kept, err := s.filters.RunFilters(ctx, all)
	if err != nil {
		return nil, report, fmt.Errorf("filtering postings: %w", err)
	}
	report.Filtered = report.Found - kept.Len()
	return kept, report, nil
}

// Ingest stores and scores collected postings and completes the report.
func (s *Service) Ingest(ctx context.Context, kept *listing.Postings, report *Report) (*Report, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return report, err
	}
	if report == nil {
		report = &Report{Found: kept.Len()}
	}

	for _, p := range kept.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := s.IngestPosting(ctx, p, OriginDiscovery)
		switch {
		case err == nil:
			report.Ingested++
		case apperr.Is(err, apperr.KindDuplicate):
			report.Duplicates++
		default:
			report.Failed++
			s.logger.Warn("ingest failed", zap.String("url", p.URL), zap.Error(err))
		}
	}

	s.publisher.Publish(ctx, events.Event{
		Type:        events.DiscoveryFinished,
		CandidateID: cid,
		Message:     fmt.Sprintf("Discovered %d new jobs", report.Ingested),
		Data: map[string]any{
			"found":      report.Found,
			"filtered":   report.Filtered,
			"ingested":   report.Ingested,
			"duplicates": report.Duplicates,
			"failed":     report.Failed,
		},
	})
	s.logger.Info("discovery finished",
		zap.Int("found", report.Found),
		zap.Int("filtered", report.Filtered),
		zap.Int("ingested", report.Ingested),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// IngestPosting stores a posting and scores it. A duplicate returns the
// existing job together with the duplicate error and is not rescored.
func (s *Service) IngestPosting(ctx context.Context, p *listing.Posting, origin string) (*jobs.Job, error) {
	fields := p.Fields()
	if fields.Source == "" {
		fields.Source = origin
	}
	enrich(&fields)

	job, err := s.jobs.Ingest(ctx, p.URL, fields)
	if err != nil {
		if apperr.Is(err, apperr.KindDuplicate) {
			metrics.JobIngested(origin, true)
		}
		return job, err
	}
	metrics.JobIngested(origin, false)

	cid, _ := candidate.FromContext(ctx)
	s.publisher.Publish(ctx, events.Event{Type: events.JobIngested, CandidateID: cid, JobID: job.ID, Message: job.Title})

	return s.score(ctx, job), nil
}

// IngestURL fetches a posting page and ingests it. An already ingested url is
// returned with a duplicate error without fetching the page again.
func (s *Service) IngestURL(ctx context.Context, rawURL string) (*jobs.Job, error) {
	key, err := jobs.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.jobs.FindBySource(ctx, key)
	if err == nil {
		metrics.JobIngested(OriginManual, true)
		return existing, apperr.Duplicate(fmt.Sprintf("job %s already ingested from %s", existing.ID, key))
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	page, err := s.pages.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	return s.IngestPosting(ctx, &listing.Posting{
		URL:         key,
		Title:       page.Title,
		Company:     page.Company,
		Location:    page.Location,
		Description: page.Description,
		Source:      OriginManual,
		RemoteOK:    page.RemoteOK,
	}, OriginManual)
}

// CaptureDetails refetches the posting page and backfills the description.
// Status and score are left untouched.
func (s *Service) CaptureDetails(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	page, err := s.pages.Fetch(ctx, job.SourceURL)
	if err != nil {
		return nil, err
	}

	return s.jobs.BackfillDescription(ctx, id, page.Description)
}

func (s *Service) score(ctx context.Context, job *jobs.Job) *jobs.Job {
	if s.scorer == nil {
		return job
	}
	scored, err := s.scorer.ScoreJob(ctx, job.ID)
	if err != nil {
		s.logger.Warn("scoring ingested job failed", zap.String("job_id", job.ID), zap.Error(err))
		return job
	}
	cid, _ := candidate.FromContext(ctx)
	s.publisher.Publish(ctx, events.Event{
		Type:        events.JobScored,
		CandidateID: cid,
		JobID:       scored.ID,
		Data:        map[string]any{"match_score": scored.MatchScore, "filtered_out": scored.FilteredOut},
	})
	return scored
}

// enrich fills the attributes the posting source did not provide.
func enrich(f *jobs.Fields) {
	text := f.Title + "\n" + f.Description
	if f.Language == "" {
		f.Language = matching.DetectLanguage(f.Description)
	}
	if !f.RemoteOK {
		f.RemoteOK = matching.DetectRemote(text) || matching.DetectRemote(f.Location)
	}
	if f.ExperienceLevel == "" {
		f.ExperienceLevel = matching.DetectLevel(f.Title, f.Description)
	}
}

func (s *Service) queries(profile *candidate.Profile) []string {
	raw := s.config.Queries
	if len(raw) == 0 {
		raw = append(raw, profile.Headline)
		for _, e := range profile.Experience {
			raw = append(raw, e.Title)
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, q := range raw {
		q = strings.Join(strings.Fields(locationWords.ReplaceAllString(q, " ")), " ")
		key := strings.ToLower(q)
		if q == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == s.config.MaxQueries {
			break
		}
	}
	return out
}

func (s *Service) locations(profile *candidate.Profile) []string {
	if len(s.config.Locations) > 0 {
		return s.config.Locations
	}
	if city := strings.TrimSpace(strings.Split(profile.Location, ",")[0]); city != "" {
		return []string{city}
	}
	return []string{defaultLocation}
}
