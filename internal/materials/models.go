package materials

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spigell/job-pilot/internal/ai"
)

const (
	VariantProfessional = "professional"
	VariantConcise      = "concise"
)

// CV is the tailored CV of one job. The unique index on (candidate, job)
// keeps it at one row however often it is regenerated.
type CV struct {
	ID              string                            `gorm:"primaryKey;size:36" json:"id"`
	CandidateID     string                            `gorm:"size:128;not null;uniqueIndex:idx_cvs_candidate_job,priority:1" json:"-"`
	JobID           string                            `gorm:"size:36;not null;uniqueIndex:idx_cvs_candidate_job,priority:2" json:"job_id"`
	Content         datatypes.JSONType[ai.TailoredCV] `json:"content"`
	ATSScore        int                               `json:"ats_score"`
	MatchedKeywords datatypes.JSONSlice[string]       `json:"matched_keywords"`
	MissingKeywords datatypes.JSONSlice[string]       `json:"missing_keywords"`
	Refined         bool                              `json:"refined"`
	FilePath        string                            `json:"file_path,omitempty"`
	CreatedAt       time.Time                         `json:"created_at"`
	UpdatedAt       time.Time                         `json:"updated_at"`
}

func (CV) TableName() string { return "tailored_cvs" }

// CoverLetter is unique per (candidate, job, variant).
type CoverLetter struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	CandidateID string    `gorm:"size:128;not null;uniqueIndex:idx_cover_letters_key,priority:1" json:"-"`
	JobID       string    `gorm:"size:36;not null;uniqueIndex:idx_cover_letters_key,priority:2" json:"job_id"`
	Variant     string    `gorm:"size:32;not null;uniqueIndex:idx_cover_letters_key,priority:3" json:"variant"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	FilePath    string    `json:"file_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Export points at the durable package produced by finalize.
type Export struct {
	ID               string                                `gorm:"primaryKey;size:36" json:"id"`
	CandidateID      string                                `gorm:"size:128;not null;uniqueIndex:idx_exports_candidate_job,priority:1" json:"-"`
	JobID            string                                `gorm:"size:36;not null;uniqueIndex:idx_exports_candidate_job,priority:2" json:"job_id"`
	ArchivePath      string                                `json:"archive_path"`
	CVPath           string                                `json:"cv_path"`
	CoverLetterPaths datatypes.JSONType[map[string]string] `json:"cover_letter_paths"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CV{}, &CoverLetter{}, &Export{}); err != nil {
		return fmt.Errorf("materials: %w", err)
	}
	return nil
}
