package ai

import (
	"context"
	"strings"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

// Kind selects the task the generation capability performs.
type Kind string

const (
	KindScore       Kind = "score"
	KindSummarize   Kind = "summarize"
	KindTailorCV    Kind = "tailor-cv"
	KindCoverLetter Kind = "cover-letter"
)

func (k Kind) Valid() bool {
	switch k {
	case KindScore, KindSummarize, KindTailorCV, KindCoverLetter:
		return true
	}
	return false
}

// JobContext is the slice of a job posting sent to the model.
type JobContext struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title"`
	Company       string   `json:"company,omitempty"`
	Location      string   `json:"location,omitempty"`
	Description   string   `json:"description"`
	MatchedSkills []string `json:"matched_skills,omitempty"`
	MissingSkills []string `json:"missing_skills,omitempty"`
}

type Request struct {
	Kind    Kind
	Job     JobContext
	Profile *candidate.Profile
	// Variant is the cover letter style, e.g. professional or concise.
	Variant string
	// Keywords are job keywords the tailored CV should surface.
	Keywords []string
	// Instructions are advisory operator notes appended to the prompt.
	Instructions string
}

func (r Request) Validate() error {
	if !r.Kind.Valid() {
		return apperr.Validation("unknown generation kind %q", r.Kind)
	}
	if r.Profile == nil {
		return apperr.Validation("profile is required for %s", r.Kind)
	}
	if strings.TrimSpace(r.Job.Title) == "" && strings.TrimSpace(r.Job.Description) == "" {
		return apperr.Validation("job context is empty")
	}
	if r.Kind == KindCoverLetter && strings.TrimSpace(r.Variant) == "" {
		return apperr.Validation("cover letter variant is required")
	}
	return nil
}

// TailoredCV is the structured CV content returned for KindTailorCV.
type TailoredCV struct {
	Headline        string                 `json:"headline"`
	Summary         string                 `json:"summary"`
	Skills          []string               `json:"skills"`
	Experience      []candidate.Experience `json:"experience"`
	MatchedKeywords []string               `json:"matched_keywords,omitempty"`
	MissingKeywords []string               `json:"missing_keywords,omitempty"`
}

// Response carries the parsed result. Only the fields relevant to the
// requested Kind are populated; Raw always holds the model output.
type Response struct {
	Raw         string
	Fit         bool
	Score       float64
	Reason      string
	Summary     string
	CV          *TailoredCV
	CoverLetter string
}

// Generator is the external generation capability. Implementations return
// apperr.KindExternalCapability errors on failure or timeout.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Unavailable is used when no provider is configured. Every call fails so
// callers take their degraded path.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Request) (*Response, error) {
	return nil, apperr.ExternalCapability("generation capability is not configured", nil, false)
}
