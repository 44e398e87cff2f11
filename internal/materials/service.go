package materials

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/metrics"
)

const defaultTimeout = 60 * time.Second

var variantPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Budget is consulted once per generation request.
type Budget interface {
	ReserveGeneration(ctx context.Context) error
}

// Bundle is everything finalize hands to an Exporter.
type Bundle struct {
	CandidateID  string
	Job          *jobs.Job
	Profile      *candidate.Profile
	CV           *CV
	CoverLetters []CoverLetter
}

// Exported are the storage pointers of a finalized bundle.
type Exported struct {
	ArchivePath      string
	CVPath           string
	CoverLetterPaths map[string]string
}

type Exporter interface {
	Export(ctx context.Context, b *Bundle) (*Exported, error)
}

// Materials is the current state of the generated documents of a job.
type Materials struct {
	CV           *CV           `json:"cv"`
	CoverLetters []CoverLetter `json:"cover_letters"`
	Export       *Export       `json:"export,omitempty"`
}

type Config struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	DefaultVariant string        `mapstructure:"default-variant"`
}

type Deps struct {
	DB        *gorm.DB
	Jobs      JobStore
	Profiles  candidate.Source
	Generator ai.Generator
	Budget    Budget
	Exporter  Exporter
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Service generates and persists tailored CVs and cover letters. Generation
// runs before any write so no transaction is open while the model works.
type Service struct {
	db        *gorm.DB
	jobs      JobStore
	profiles  candidate.Source
	generator ai.Generator
	budget    Budget
	exporter  Exporter
	publisher events.Publisher
	config    Config
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultVariant == "" {
		cfg.DefaultVariant = VariantProfessional
	}
	if deps.Generator == nil {
		deps.Generator = ai.Unavailable{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		db:        deps.DB,
		jobs:      deps.Jobs,
		profiles:  deps.Profiles,
		generator: deps.Generator,
		budget:    deps.Budget,
		exporter:  deps.Exporter,
		publisher: deps.Publisher,
		config:    cfg,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// TailorCV builds the deterministic tailoring, asks the generation capability
// to refine its wording and upserts the result. A failed refinement keeps the
// deterministic CV.
func (s *Service) TailorCV(ctx context.Context, jobID string) (*CV, error) {
	cid, job, profile, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(ctx); err != nil {
		return nil, err
	}

	t := Tailor(job.Title, job.Description, profile)
	content := t.CV
	refined := false

	resp, err := s.generate(ctx, ai.Request{
		Kind:     ai.KindTailorCV,
		Job:      jobContext(job),
		Profile:  profile,
		Keywords: t.Keywords,
	})
	if err != nil {
		s.logger.Warn("cv refinement failed, keeping deterministic tailoring",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	} else {
		content = refine(t.CV, resp.CV, profile)
		refined = true
	}

	now := s.now()
	row := &CV{
		ID:              s.newID(),
		CandidateID:     cid,
		JobID:           job.ID,
		Content:         datatypes.NewJSONType(content),
		ATSScore:        t.ATSScore,
		MatchedKeywords: nonNil(t.Found),
		MissingKeywords: nonNil(t.Missing),
		Refined:         refined,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.replace(ctx, cid, job.ID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "candidate_id"}, {Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "ats_score", "matched_keywords", "missing_keywords", "refined", "file_path", "updated_at",
			}),
		}).Create(row).Error
	})
	if err != nil {
		return nil, apperr.FromStorage(err, "tailored cv")
	}

	stored, err := s.cv(ctx, cid, job.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("cv tailored",
		zap.String("job_id", job.ID),
		zap.Int("ats_score", stored.ATSScore),
		zap.Bool("refined", refined),
	)
	s.publisher.Publish(ctx, events.Event{
		Type:        events.MaterialsReady,
		CandidateID: cid,
		JobID:       job.ID,
		Message:     "cv",
		Data:        map[string]any{"ats_score": stored.ATSScore},
	})
	return stored, nil
}

// GenerateCoverLetter writes one variant. The tailored CV is used as the
// candidate context when it exists. Without a generated text nothing is
// written and the previous letter of the variant stays.
func (s *Service) GenerateCoverLetter(ctx context.Context, jobID, variant string) (*CoverLetter, error) {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" {
		variant = s.config.DefaultVariant
	}
	if !variantPattern.MatchString(variant) {
		return nil, apperr.Validation("invalid cover letter variant %q", variant)
	}

	cid, job, profile, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var tailored *ai.TailoredCV
	if cv, err := s.cv(ctx, cid, job.ID); err == nil {
		content := cv.Content.Data()
		tailored = &content
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	if err := s.reserve(ctx); err != nil {
		return nil, err
	}
	resp, err := s.generate(ctx, ai.Request{
		Kind:    ai.KindCoverLetter,
		Job:     jobContext(job),
		Profile: asProfile(profile, tailored),
		Variant: variant,
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.CoverLetter)
	if text == "" {
		return nil, apperr.ExternalCapability("generated cover letter is empty", nil, false)
	}

	now := s.now()
	row := &CoverLetter{
		ID:          s.newID(),
		CandidateID: cid,
		JobID:       job.ID,
		Variant:     variant,
		Content:     text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.replace(ctx, cid, job.ID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "job_id"}, {Name: "variant"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "file_path", "updated_at"}),
		}).Create(row).Error
	})
	if err != nil {
		return nil, apperr.FromStorage(err, "cover letter")
	}

	var stored CoverLetter
	err = s.scoped(ctx, cid).
		Where("job_id = ? AND variant = ?", job.ID, variant).
		Take(&stored).Error
	if err != nil {
		return nil, apperr.FromStorage(err, "cover letter")
	}

	s.logger.Info("cover letter generated", zap.String("job_id", job.ID), zap.String("variant", variant))
	s.publisher.Publish(ctx, events.Event{
		Type:        events.MaterialsReady,
		CandidateID: cid,
		JobID:       job.ID,
		Message:     "cover-letter",
		Data:        map[string]any{"variant": variant},
	})
	return &stored, nil
}

// replace runs a regenerating upsert and drops the export of the job in the
// same transaction. The upsert clears file_path, so an exported file of the
// previous content is never handed out as current until the next finalize.
func (s *Service) replace(ctx context.Context, cid, jobID string, upsert func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx); err != nil {
			return err
		}
		return tx.Where("candidate_id = ? AND job_id = ?", cid, jobID).Delete(&Export{}).Error
	})
}

// Finalize exports the latest CV and cover letters and records where they
// were stored. A job without a tailored CV is not ready.
func (s *Service) Finalize(ctx context.Context, jobID string) (*Export, error) {
	cid, job, profile, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cv, err := s.cv(ctx, cid, job.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.NotReady("no tailored cv for job %s; tailor the cv first", job.ID)
	}
	if err != nil {
		return nil, err
	}
	letters, err := s.coverLetters(ctx, cid, job.ID)
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, apperr.NotReady("export storage is not configured")
	}

	out, err := s.exporter.Export(ctx, &Bundle{
		CandidateID:  cid,
		Job:          job,
		Profile:      profile,
		CV:           cv,
		CoverLetters: letters,
	})
	if err != nil {
		return nil, fmt.Errorf("exporting materials: %w", err)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&CV{}).Where("id = ?", cv.ID).Update("file_path", out.CVPath).Error; err != nil {
			return err
		}
		for _, cl := range letters {
			if err := tx.Model(&CoverLetter{}).Where("id = ?", cl.ID).Update("file_path", out.CoverLetterPaths[cl.Variant]).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"archive_path", "cv_path", "cover_letter_paths", "updated_at"}),
		}).Create(&Export{
			ID:               s.newID(),
			CandidateID:      cid,
			JobID:            job.ID,
			ArchivePath:      out.ArchivePath,
			CVPath:           out.CVPath,
			CoverLetterPaths: datatypes.NewJSONType(nonNilMap(out.CoverLetterPaths)),
			CreatedAt:        now,
			UpdatedAt:        now,
		}).Error
	})
	if err != nil {
		return nil, apperr.FromStorage(err, "export")
	}

	exp, err := s.export(ctx, cid, job.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("materials finalized",
		zap.String("job_id", job.ID),
		zap.String("archive", exp.ArchivePath),
		zap.Int("cover_letters", len(letters)),
	)
	s.publisher.Publish(ctx, events.Event{
		Type:        events.MaterialsReady,
		CandidateID: cid,
		JobID:       job.ID,
		Message:     "finalized",
		Data:        map[string]any{"archive_path": exp.ArchivePath},
	})
	return exp, nil
}

// Materials lists what has been generated for a job so far.
func (s *Service) Materials(ctx context.Context, jobID string) (*Materials, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}

	out := &Materials{CoverLetters: []CoverLetter{}}
	cv, err := s.cv(ctx, cid, jobID)
	switch {
	case err == nil:
		out.CV = cv
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, err
	}

	if out.CoverLetters, err = s.coverLetters(ctx, cid, jobID); err != nil {
		return nil, err
	}

	exp, err := s.export(ctx, cid, jobID)
	switch {
	case err == nil:
		out.Export = exp
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, err
	}
	return out, nil
}

// FinalizedCVPath returns the stored CV file of a job, used for uploads.
func (s *Service) FinalizedCVPath(ctx context.Context, jobID string) (string, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return "", err
	}
	cv, err := s.cv(ctx, cid, jobID)
	if err != nil {
		return "", err
	}
	if cv.FilePath == "" {
		return "", apperr.NotReady("cv of job %s is not finalized", jobID)
	}
	return cv.FilePath, nil
}

func (s *Service) load(ctx context.Context, jobID string) (string, *jobs.Job, *candidate.Profile, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return "", nil, nil, err
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return "", nil, nil, err
	}
	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		return "", nil, nil, err
	}
	return cid, job, profile, nil
}

func (s *Service) reserve(ctx context.Context) error {
	if s.budget == nil {
		return nil
	}
	return s.budget.ReserveGeneration(ctx)
}

// generate calls the capability with a timeout and retries once when the
// failure is transient.
func (s *Service) generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			s.logger.Info("retrying generation", zap.String("kind", string(req.Kind)), zap.Error(lastErr))
		}

		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		started := time.Now()
		resp, err := s.generator.Generate(callCtx, req)
		cancel()
		metrics.Generation(string(req.Kind), time.Since(started).Seconds(), err)

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !apperr.Is(err, apperr.KindExternalCapability) {
			err = apperr.ExternalCapability(fmt.Sprintf("%s generation failed", req.Kind), err, apperr.IsTransient(err))
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

func (s *Service) cv(ctx context.Context, cid, jobID string) (*CV, error) {
	var cv CV
	if err := s.scoped(ctx, cid).Where("job_id = ?", jobID).Take(&cv).Error; err != nil {
		return nil, apperr.FromStorage(err, "tailored cv")
	}
	return &cv, nil
}

func (s *Service) coverLetters(ctx context.Context, cid, jobID string) ([]CoverLetter, error) {
	var letters []CoverLetter
	if err := s.scoped(ctx, cid).Where("job_id = ?", jobID).Order("variant").Find(&letters).Error; err != nil {
		return nil, apperr.FromStorage(err, "cover letters")
	}
	if letters == nil {
		letters = []CoverLetter{}
	}
	return letters, nil
}

func (s *Service) export(ctx context.Context, cid, jobID string) (*Export, error) {
	var exp Export
	if err := s.scoped(ctx, cid).Where("job_id = ?", jobID).Take(&exp).Error; err != nil {
		return nil, apperr.FromStorage(err, "export")
	}
	return &exp, nil
}

func (s *Service) scoped(ctx context.Context, cid string) *gorm.DB {
	return s.db.WithContext(ctx).Where("candidate_id = ?", cid)
}

func jobContext(job *jobs.Job) ai.JobContext {
	return ai.JobContext{
		ID:            job.ID,
		Title:         job.Title,
		Company:       job.Company,
		Location:      job.Location,
		Description:   job.Description,
		MatchedSkills: job.MatchedSkills,
		MissingSkills: job.MissingSkills,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
