package jobs

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spigell/job-pilot/internal/apperr"
)

type Status string

const (
	StatusInterested  Status = "interested"
	StatusShortlisted Status = "shortlisted"
	StatusRejected    Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInterested, StatusShortlisted, StatusRejected:
		return true
	}
	return false
}

// Action is a human-triggered status change. Actions are last-write-wins:
// any action may follow any other.
type Action string

const (
	ActionShortlist Action = "shortlist"
	ActionReject    Action = "reject"
	ActionRevert    Action = "revert-to-interested"
)

func (a Action) target() (Status, bool) {
	switch a {
	case ActionShortlist:
		return StatusShortlisted, true
	case ActionReject:
		return StatusRejected, true
	case ActionRevert, "revert":
		return StatusInterested, true
	}
	return "", false
}

// DescriptionPending marks jobs captured from a listing page whose full
// description has not been fetched yet.
const DescriptionPending = "Full description pending..."

type Job struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	CandidateID string `gorm:"size:128;not null;uniqueIndex:idx_jobs_candidate_source,priority:1;index:idx_jobs_candidate_status,priority:1" json:"-"`
	SourceURL   string `gorm:"size:2048;not null;uniqueIndex:idx_jobs_candidate_source,priority:2" json:"source_url"`
	Source      string `gorm:"size:64" json:"source"`

	Title           string `gorm:"not null" json:"title"`
	Company         string `json:"company"`
	Location        string `json:"location"`
	Description     string `gorm:"type:text" json:"description"`
	Language        string `gorm:"size:32" json:"language,omitempty"`
	RemoteOK        bool   `json:"remote_ok"`
	ExperienceLevel string `gorm:"size:32" json:"experience_level,omitempty"`
	IsEasyApply     bool   `json:"is_easy_apply"`

	Status Status `gorm:"size:32;not null;default:interested;index:idx_jobs_candidate_status,priority:2" json:"status"`

	MatchScore    *int                        `json:"match_score"`
	MatchedSkills datatypes.JSONSlice[string] `json:"matched_skills"`
	MissingSkills datatypes.JSONSlice[string] `json:"missing_skills"`
	Summary       string                      `gorm:"type:text" json:"summary,omitempty"`
	Highlights    string                      `json:"highlights,omitempty"`
	FilteredOut   bool                        `gorm:"not null;default:false" json:"filtered_out"`
	FilterReason  string                      `json:"filter_reason,omitempty"`
	ScoredAt      *time.Time                  `json:"scored_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) Scored() bool { return j.MatchScore != nil }

// Fields are the raw attributes captured on discovery or ingest.
type Fields struct {
	Title           string
	Company         string
	Location        string
	Description     string
	Source          string
	Language        string
	RemoteOK        bool
	ExperienceLevel string
	IsEasyApply     bool
}

func (f Fields) validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return apperr.Validation("job title is required")
	}
	return nil
}

// Score is everything the scoring pass may write.
type Score struct {
	Value        int
	Matched      []string
	Missing      []string
	Summary      string
	Highlights   string
	FilteredOut  bool
	FilterReason string
}

func (s Score) validate() error {
	if s.Value < 0 || s.Value > 100 {
		return apperr.Validation("score %d is outside 0..100", s.Value)
	}
	return nil
}

// NormalizeURL canonicalizes a posting URL into its dedup key.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.Validation("source url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Validation("invalid source url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Validation("source url %q must be http or https", raw)
	}
	if u.Host == "" {
		return "", apperr.Validation("source url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}

	return u.String(), nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	return nil
}
