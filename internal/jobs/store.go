package jobs

import (
	"context"
	"fmt"
	"iter"
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

const defaultPageSize = 50

// Store owns job records. Every query is scoped to the candidate bound to
// the context; a job of another candidate is indistinguishable from a
// missing one.
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

// Ingest inserts a job keyed by its normalized source url. A second ingest of
// the same url returns the existing record together with a duplicate error,
// so callers may treat it as success.
func (s *Store) Ingest(ctx context.Context, sourceURL string, f Fields) (*Job, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	key, err := NormalizeURL(sourceURL)
	if err != nil {
		return nil, err
	}

	if err := f.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	job := &Job{
		ID:              s.newID(),
		CandidateID:     cid,
		SourceURL:       key,
		Source:          strings.TrimSpace(f.Source),
		Title:           strings.TrimSpace(f.Title),
		Company:         strings.TrimSpace(f.Company),
		Location:        strings.TrimSpace(f.Location),
		Description:     strings.TrimSpace(f.Description),
		Language:        strings.ToLower(strings.TrimSpace(f.Language)),
		RemoteOK:        f.RemoteOK,
		ExperienceLevel: strings.ToLower(strings.TrimSpace(f.ExperienceLevel)),
		IsEasyApply:     f.IsEasyApply,
		Status:          StatusInterested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "source_url"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return nil, apperr.FromStorage(res.Error, "job")
	}

	if res.RowsAffected == 0 {
		existing, err := s.bySource(ctx, cid, key)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("job already ingested", zap.String("job_id", existing.ID), zap.String("source_url", key))
		return existing, apperr.Duplicate(fmt.Sprintf("job %s already ingested from %s", existing.ID, key))
	}

	s.logger.Info("job ingested",
		zap.String("job_id", job.ID),
		zap.String("title", job.Title),
		zap.String("company", job.Company),
	)
	return job, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := s.scoped(ctx, cid).Where("id = ?", id).Take(&job).Error; err != nil {
		return nil, apperr.FromStorage(err, fmt.Sprintf("job %s", id))
	}
	return &job, nil
}

// FindBySource returns the job ingested from sourceURL.
func (s *Store) FindBySource(ctx context.Context, sourceURL string) (*Job, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	key, err := NormalizeURL(sourceURL)
	if err != nil {
		return nil, err
	}
	return s.bySource(ctx, cid, key)
}

// Transition applies a human status action. Transitions are last-write-wins.
func (s *Store) Transition(ctx context.Context, id string, action Action) (*Job, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	status, ok := action.target()
	if !ok {
		return nil, apperr.Validation("unknown job action %q", action)
	}

	res := s.scoped(ctx, cid).
		Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return nil, apperr.FromStorage(res.Error, "job")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("job %s not found", id)
	}

	s.logger.Info("job status changed",
		zap.String("job_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(status)),
	)
	return s.Get(ctx, id)
}

// RecordScore is the only writer of the scoring fields. It never touches status.
func (s *Store) RecordScore(ctx context.Context, id string, score Score) error {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := score.validate(); err != nil {
		return err
	}

	now := s.now()
	res := s.scoped(ctx, cid).
		Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"match_score":    score.Value,
			"matched_skills": datatypes.JSONSlice[string](nonNil(score.Matched)),
			"missing_skills": datatypes.JSONSlice[string](nonNil(score.Missing)),
			"summary":        score.Summary,
			"highlights":     score.Highlights,
			"filtered_out":   score.FilteredOut,
			"filter_reason":  score.FilterReason,
			"scored_at":      now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return apperr.FromStorage(res.Error, "job score")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("job %s not found", id)
	}
	return nil
}

// BackfillDescription replaces the description captured from a listing page.
func (s *Store) BackfillDescription(ctx context.Context, id, description string) (*Job, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperr.Validation("description must not be empty")
	}

	res := s.scoped(ctx, cid).
		Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{"description": description, "updated_at": s.now()})
	if res.Error != nil {
		return nil, apperr.FromStorage(res.Error, "job")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return s.Get(ctx, id)
}

// Filter narrows List. Filtered-out jobs are hidden unless IncludeFiltered is set.
type Filter struct {
	Statuses        []Status
	MinScore        *int
	IncludeFiltered bool
	OnlyUnscored    bool
	PageSize        int
}

// List returns a lazy sequence ordered by score descending (unscored last),
// newest first within a score. Each range over the sequence starts over from
// the first page.
func (s *Store) List(ctx context.Context, f Filter) iter.Seq2[*Job, error] {
	return func(yield func(*Job, error) bool) {
		cid, err := candidate.FromContext(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		size := f.PageSize
		if size <= 0 {
			size = defaultPageSize
		}

		for offset := 0; ; offset += size {
			var page []Job
			err := s.filtered(ctx, cid, f).
				Order("match_score IS NULL").
				Order("match_score DESC").
				Order("created_at DESC").
				Order("id").
				Limit(size).
				Offset(offset).
				Find(&page).Error
			if err != nil {
				yield(nil, apperr.FromStorage(err, "jobs"))
				return
			}

			for i := range page {
				if !yield(&page[i], nil) {
					return
				}
			}

			if len(page) < size {
				return
			}
		}
	}
}

// Collect drains a job sequence.
func Collect(seq iter.Seq2[*Job, error]) ([]*Job, error) {
	var out []*Job
	for job, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// SourceURLs returns every ingested source url of the candidate.
func (s *Store) SourceURLs(ctx context.Context) (map[string]struct{}, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	var urls []string
	if err := s.scoped(ctx, cid).Model(&Job{}).Pluck("source_url", &urls).Error; err != nil {
		return nil, apperr.FromStorage(err, "jobs")
	}

	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.scoped(ctx, cid).Model(&Job{}).Count(&n).Error; err != nil {
		return 0, apperr.FromStorage(err, "jobs")
	}
	return n, nil
}

func (s *Store) bySource(ctx context.Context, cid, key string) (*Job, error) {
	var job Job
	if err := s.scoped(ctx, cid).Where("source_url = ?", key).Take(&job).Error; err != nil {
		return nil, apperr.FromStorage(err, "job")
	}
	return &job, nil
}

func (s *Store) filtered(ctx context.Context, cid string, f Filter) *gorm.DB {
	q := s.scoped(ctx, cid)
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.MinScore != nil {
		q = q.Where("match_score >= ?", *f.MinScore)
	}
	if f.OnlyUnscored {
		q = q.Where("match_score IS NULL")
	}
	if !f.IncludeFiltered {
		q = q.Where("filtered_out = ?", false)
	}
	return q
}

func (s *Store) scoped(ctx context.Context, cid string) *gorm.DB {
	return s.db.WithContext(ctx).Where("candidate_id = ?", cid)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
