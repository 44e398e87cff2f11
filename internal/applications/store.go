package applications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

// Store owns application records of the candidate bound to the context.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Create records a submitted application. A second record for the same job
// returns the existing one with a duplicate error.
func (s *Store) Create(ctx context.Context, n New) (*Record, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.JobID) == "" {
		return nil, apperr.Validation("job id is required")
	}

	meta := datatypes.JSONMap{}
	for k, v := range n.Metadata {
		meta[k] = v
	}
	now := s.now()
	rec := &Record{
		ID:          s.newID(),
		CandidateID: cid,
		JobID:       n.JobID,
		Company:     n.Company,
		RoleTitle:   n.RoleTitle,
		MatchScore:  n.MatchScore,
		AppliedAt:   now,
		Status:      StatusApplied,
		Metadata:    meta,
		UpdatedAt:   now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "job_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, apperr.FromStorage(res.Error, "application")
	}
	if res.RowsAffected == 0 {
		existing, err := s.ByJob(ctx, n.JobID)
		if err != nil {
			return nil, err
		}
		return existing, apperr.Duplicate(fmt.Sprintf("already applied to job %s", n.JobID))
	}

	s.logger.Info("application recorded",
		zap.String("application_id", rec.ID),
		zap.String("job_id", rec.JobID),
		zap.String("company", rec.Company),
	)
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) ByJob(ctx context.Context, jobID string) (*Record, error) {
	return s.first(ctx, "job_id = ?", jobID)
}

// List returns records newest first, optionally narrowed to statuses.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Record, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("candidate_id = ?", cid)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	records := []Record{}
	if err := q.Order("applied_at DESC").Order("id").Find(&records).Error; err != nil {
		return nil, apperr.FromStorage(err, "applications")
	}
	return records, nil
}

// Advance moves a record along its status progression. Only the status and
// the update time ever change on a record.
func (s *Store) Advance(ctx context.Context, id string, to Status) (*Record, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown application status %q", to)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAdvance(rec.Status, to) {
		return nil, apperr.Validation("application cannot move from %s to %s", rec.Status, to)
	}

	res := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ? AND candidate_id = ? AND status = ?", rec.ID, rec.CandidateID, rec.Status).
		Updates(map[string]any{"status": to, "updated_at": s.now()})
	if res.Error != nil {
		return nil, apperr.FromStorage(res.Error, "application")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Busy("application %s changed concurrently", id)
	}
	return s.Get(ctx, id)
}

// AppliedURLs lists the source urls of jobs with an application record.
func (s *Store) AppliedURLs(ctx context.Context) (map[string]struct{}, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	var urls []string
	err = s.db.WithContext(ctx).
		Table("jobs").
		Joins("JOIN applications ON applications.job_id = jobs.id AND applications.candidate_id = jobs.candidate_id").
		Where("jobs.candidate_id = ?", cid).
		Pluck("jobs.source_url", &urls).Error
	if err != nil {
		return nil, apperr.FromStorage(err, "applications")
	}

	out := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		out[u] = struct{}{}
	}
	return out, nil
}

func (s *Store) first(ctx context.Context, cond string, arg any) (*Record, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := s.db.WithContext(ctx).Where("candidate_id = ?", cid).Where(cond, arg).Take(&rec).Error; err != nil {
		return nil, apperr.FromStorage(err, "application")
	}
	return &rec, nil
}
