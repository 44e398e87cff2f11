package applications

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusApplied      Status = "applied"
	StatusInterviewing Status = "interviewing"
	StatusOffered      Status = "offered"
	StatusRejected     Status = "rejected"
)

var progression = map[Status]int{
	StatusApplied:      0,
	StatusInterviewing: 1,
	StatusOffered:      2,
}

// CanAdvance reports whether a record may move from one status to another:
// forward along applied, interviewing, offered, or to rejected from any
// non-rejected status.
func CanAdvance(from, to Status) bool {
	if from == StatusRejected {
		return false
	}
	if to == StatusRejected {
		return true
	}
	f, ok1 := progression[from]
	t, ok2 := progression[to]
	return ok1 && ok2 && t > f
}

func (s Status) Valid() bool {
	_, ok := progression[s]
	return ok || s == StatusRejected
}

// Record is the audit entry of one submitted application.
type Record struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	CandidateID string            `gorm:"size:128;not null;uniqueIndex:idx_applications_candidate_job,priority:1" json:"-"`
	JobID       string            `gorm:"size:36;not null;uniqueIndex:idx_applications_candidate_job,priority:2" json:"job_id"`
	Company     string            `json:"company"`
	RoleTitle   string            `json:"role_title"`
	MatchScore  *int              `json:"match_score"`
	AppliedAt   time.Time         `gorm:"index" json:"applied_at"`
	Status      Status            `gorm:"size:32;not null;default:applied" json:"status"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (Record) TableName() string { return "applications" }

// New carries what the submission step knows about an application.
type New struct {
	JobID      string
	Company    string
	RoleTitle  string
	MatchScore *int
	Metadata   map[string]any
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("applications: %w", err)
	}
	return nil
}
