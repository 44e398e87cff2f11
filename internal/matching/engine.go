package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/metrics"
)

const (
	requiredWeight = 70.0
	optionalWeight = 30.0

	// neutralScore is used when no vocabulary skill can be derived from the posting.
	neutralScore = 50

	locationPenalty = 20
	languagePenalty = 30

	defaultSummaryTimeout = 20 * time.Second
)

// Result is the outcome of scoring one job against one profile.
// Matched and Missing are disjoint and together cover the job's skill set.
type Result struct {
	Score        int
	Matched      []string
	Missing      []string
	Required     []string
	Optional     []string
	Summary      string
	Highlights   string
	FilteredOut  bool
	FilterReason string
}

// Record converts the result into the fields the job store persists.
func (r Result) Record() jobs.Score {
	return jobs.Score{
		Value:        r.Score,
		Matched:      r.Matched,
		Missing:      r.Missing,
		Summary:      r.Summary,
		Highlights:   r.Highlights,
		FilteredOut:  r.FilteredOut,
		FilterReason: r.FilterReason,
	}
}

type Engine struct {
	criteria  Criteria
	generator ai.Generator
	timeout   time.Duration
	logger    *zap.Logger
}

func NewEngine(criteria Criteria, generator ai.Generator, timeout time.Duration, logger *zap.Logger) *Engine {
	if generator == nil {
		generator = ai.Unavailable{}
	}
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{criteria: criteria, generator: generator, timeout: timeout, logger: logger}
}

// Evaluate computes the deterministic part of the score. It never calls out.
func (e *Engine) Evaluate(job *jobs.Job, profile *candidate.Profile) Result {
	if profile == nil {
		profile = &candidate.Profile{}
	}
	required, optional := ExtractSkills(job.Title + "\n" + job.Description)

	jobSkills := newSkillSet(append(append([]string{}, required...), optional...))
	have := newSkillSet(profile.Skills)

	matched, missing := skillSet{}, skillSet{}
	for key, name := range jobSkills {
		if have.has(name) {
			matched[key] = name
		} else {
			missing[key] = name
		}
	}

	reqHit := countIn(required, have)
	optHit := countIn(optional, have)

	var raw float64
	switch {
	case len(jobSkills) == 0:
		raw = neutralScore
	case len(required) > 0 && len(optional) > 0:
		raw = requiredWeight*fraction(reqHit, len(required)) + optionalWeight*fraction(optHit, len(optional))
	case len(required) > 0:
		raw = 100 * fraction(reqHit, len(required))
	default:
		raw = 100 * fraction(optHit, len(optional))
	}

	v := e.criteria.check(job, profile)
	if !v.locationOK {
		raw -= locationPenalty
	}
	if !v.languageOK {
		raw -= languagePenalty
	}

	return Result{
		Score:        int(math.Round(math.Max(0, math.Min(100, raw)))),
		Matched:      matched.sorted(),
		Missing:      missing.sorted(),
		Required:     required,
		Optional:     optional,
		Highlights:   strengths(raw, required, reqHit, len(jobSkills), len(matched)),
		FilteredOut:  v.filtered(),
		FilterReason: v.reason,
	}
}

// Score evaluates the job and asks the generation capability for a short
// summary. A failed or slow summary leaves Summary empty and never fails
// the result.
func (e *Engine) Score(ctx context.Context, job *jobs.Job, profile *candidate.Profile) Result {
	result := e.Evaluate(job, profile)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	resp, err := e.generator.Generate(callCtx, ai.Request{
		Kind: ai.KindSummarize,
		Job: ai.JobContext{
			ID:            job.ID,
			Title:         job.Title,
			Company:       job.Company,
			Location:      job.Location,
			Description:   job.Description,
			MatchedSkills: result.Matched,
			MissingSkills: result.Missing,
		},
		Profile: profile,
	})
	metrics.Generation(string(ai.KindSummarize), time.Since(started).Seconds(), err)
	if err != nil {
		e.logger.Warn("summary generation failed, keeping deterministic score",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return result
	}

	result.Summary = resp.Summary
	return result
}

func strengths(raw float64, required []string, reqHit, total, matched int) string {
	n, m := reqHit, len(required)
	if m == 0 {
		n, m = matched, total
	}

	switch {
	case m == 0:
		return "No specific skills detected in the posting."
	case raw >= 70:
		return fmt.Sprintf("Excellent match! You have %d/%d required skills.", n, m)
	case raw >= 50:
		return fmt.Sprintf("Good match. You have %d/%d required skills. Consider highlighting relevant experience.", n, m)
	default:
		return fmt.Sprintf("Partial match. You have %d/%d required skills. Significant skill gaps may reduce chances.", n, m)
	}
}

func countIn(skills []string, have skillSet) int {
	n := 0
	for _, s := range skills {
		if have.has(s) {
			n++
		}
	}
	return n
}

func fraction(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
