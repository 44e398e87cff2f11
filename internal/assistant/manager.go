package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/listing"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/metrics"
	"github.com/spigell/job-pilot/internal/safety"
)

// CaptureOrigin is the source recorded on jobs captured from the browser.
const CaptureOrigin = "linkedin_assistant"

const (
	defaultMaxSteps       = 10
	defaultActionAttempts = 3
	defaultConfirmTimeout = 8 * time.Second
)

type Config struct {
	// Answers maps application questions to the operator's answers.
	Answers        map[string]string `mapstructure:"answers"`
	DefaultCV      string            `mapstructure:"default-cv"`
	MaxSteps       int               `mapstructure:"max-steps"`
	ActionAttempts int               `mapstructure:"action-attempts"`
	ConfirmTimeout time.Duration     `mapstructure:"confirm-timeout"`
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.ActionAttempts <= 0 {
		c.ActionAttempts = defaultActionAttempts
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	return c
}

type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

type Ingester interface {
	IngestPosting(ctx context.Context, p *listing.Posting, origin string) (*jobs.Job, error)
}

type ApplicationStore interface {
	Create(ctx context.Context, n applications.New) (*applications.Record, error)
	ByJob(ctx context.Context, jobID string) (*applications.Record, error)
}

type ResumeSource interface {
	FinalizedCVPath(ctx context.Context, jobID string) (string, error)
}

// SubmissionPolicy guards real submissions with the daily ceiling.
type SubmissionPolicy interface {
	CheckSubmission(ctx context.Context, dryRun bool) error
	ReserveSubmission(ctx context.Context) (int, error)
	Usage(ctx context.Context) (*safety.Usage, error)
}

type Pacer interface {
	Wait(ctx context.Context) error
	Mark()
}

type Throttle interface {
	Wait(ctx context.Context) error
}

type Deps struct {
	Launcher     Launcher
	Jobs         JobStore
	Ingester     Ingester
	Applications ApplicationStore
	Resumes      ResumeSource
	Profiles     candidate.Source
	Policy       SubmissionPolicy
	Pacer        Pacer
	Throttle     Throttle
	Publisher    events.Publisher
	Logger       *zap.Logger
}

// Outcome is the result of one apply run. Screenshot is the capture of the
// final page and Screenshots holds every capture of the run in order.
type Outcome struct {
	State         State    `json:"state"`
	JobID         string   `json:"job_id"`
	DryRun        bool     `json:"dry_run"`
	Message       string   `json:"message,omitempty"`
	Steps         int      `json:"steps"`
	Filled        []string `json:"filled,omitempty"`
	Skipped       []string `json:"skipped,omitempty"`
	Unanswered    []string `json:"unanswered,omitempty"`
	ApplicationID string   `json:"application_id,omitempty"`
	Verified      bool     `json:"verified,omitempty"`
	Screenshot    string   `json:"screenshot,omitempty"`
	Screenshots   []string `json:"screenshots,omitempty"`
}

type CaptureReport struct {
	Found      int `json:"found"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Status is a snapshot of a candidate's session and today's safety counters.
type Status struct {
	State       State         `json:"state"`
	JobID       string        `json:"job_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	LastOutcome *Outcome      `json:"last_outcome,omitempty"`
	Usage       *safety.Usage `json:"usage,omitempty"`
}

type session struct {
	state  State
	driver Driver
	jobID  string
	busy   bool
	stop   atomic.Bool
	err    string
	last   *Outcome

	// halted is done once the operator stops the running operation.
	halted context.Context
	halt   context.CancelFunc
}

// Manager runs at most one assistant session per candidate.
type Manager struct {
	cfg          Config
	launcher     Launcher
	jobs         JobStore
	ingester     Ingester
	applications ApplicationStore
	resumes      ResumeSource
	profiles     candidate.Source
	policy       SubmissionPolicy
	pacer        Pacer
	throttle     Throttle
	publisher    events.Publisher
	logger       *zap.Logger
	fileExists   func(path string) bool

	mu       sync.Mutex
	sessions map[string]*session
}

var errStopped = errors.New("stopped by operator")

func NewManager(cfg Config, deps Deps) *Manager {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Manager{
		cfg:          cfg.withDefaults(),
		launcher:     deps.Launcher,
		jobs:         deps.Jobs,
		ingester:     deps.Ingester,
		applications: deps.Applications,
		resumes:      deps.Resumes,
		profiles:     deps.Profiles,
		policy:       deps.Policy,
		pacer:        deps.Pacer,
		throttle:     deps.Throttle,
		publisher:    publisher,
		logger:       log,
		fileExists:   fileExists,
		sessions:     make(map[string]*session),
	}
}

// Launch starts the browser. A candidate with a session that is not idle
// gets a busy error. A failed launch leaves the session idle with the error
// recorded in its status.
func (m *Manager) Launch(ctx context.Context) error {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.sessions[cid]
	if s != nil && s.state != StateIdle {
		m.mu.Unlock()
		return apperr.Busy("assistant is already %s", s.state)
	}
	if s == nil {
		s = &session{}
		m.sessions[cid] = s
	}
	s.state = StateLaunching
	s.busy = true
	s.err = ""
	s.stop.Store(false)
	m.mu.Unlock()
	m.publishState(ctx, cid, StateLaunching, "")

	driver, err := m.launcher.Launch(ctx)
	if err != nil {
		m.logger.Error("browser launch failed", zap.String(logger.FieldCandidate, cid), zap.Error(err))
		m.mu.Lock()
		s.state = StateIdle
		s.busy = false
		s.err = err.Error()
		m.mu.Unlock()
		m.publishState(ctx, cid, StateIdle, "")
		if apperr.KindOf(err) == apperr.KindInternal {
			return apperr.ExternalCapability("launching browser", err, false)
		}
		return err
	}

	m.mu.Lock()
	s.driver = driver
	m.mu.Unlock()
	m.release(ctx, cid, s, StateConnected)
	m.logger.Info("assistant connected", zap.String(logger.FieldCandidate, cid))
	return nil
}

// Stop asks the session to return to idle. A running operation observes the
// request before its next discrete action.
func (m *Manager) Stop(ctx context.Context) error {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.sessions[cid]
	if s == nil || s.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	s.stop.Store(true)
	if s.busy {
		if s.halt != nil {
			s.halt()
		}
		state := s.state
		m.mu.Unlock()
		m.logger.Info("stop requested", zap.String(logger.FieldCandidate, cid), zap.String("state", string(state)))
		return nil
	}
	driver := s.driver
	s.driver = nil
	s.state = StateIdle
	s.jobID = ""
	s.stop.Store(false)
	m.mu.Unlock()

	m.closeDriver(cid, driver)
	m.publishState(ctx, cid, StateIdle, "")
	return nil
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{State: StateIdle}
	m.mu.Lock()
	if s := m.sessions[cid]; s != nil {
		st = Status{State: s.state, JobID: s.jobID, Error: s.err, LastOutcome: s.last}
	}
	m.mu.Unlock()

	usage, err := m.policy.Usage(ctx)
	if err != nil {
		m.logger.Warn("reading safety usage failed", zap.String(logger.FieldCandidate, cid), zap.Error(err))
	}
	st.Usage = usage
	return st, nil
}

// Capture ingests the postings of the listing page the operator is looking
// at. Duplicates are skipped and counted.
func (m *Manager) Capture(ctx context.Context) (*CaptureReport, error) {
	cid, s, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	m.transition(ctx, cid, s, StateCapturing, "")

	report := &CaptureReport{}
	defer func() { m.release(ctx, cid, s, StateConnected) }()

	a := &actor{m: m, cid: cid, s: s}
	var postings []listing.Posting
	err = a.act(ctx, "capture listings", func(ctx context.Context) error {
		var err error
		postings, err = s.driver.Capture(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, errStopped) {
			return report, nil
		}
		return nil, err
	}

	report.Found = len(postings)
	for i := range postings {
		if a.stopped() {
			break
		}
		p := &postings[i]
		if p.Description == "" {
			p.Description = jobs.DescriptionPending
		}
		_, err := m.ingester.IngestPosting(ctx, p, CaptureOrigin)
		switch {
		case err == nil:
			report.New++
		case apperr.Is(err, apperr.KindDuplicate):
			report.Duplicates++
		default:
			report.Failed++
			m.logger.Warn("captured posting not ingested", zap.String("url", p.URL), zap.Error(err))
		}
	}

	m.logger.Info("capture finished",
		zap.String(logger.FieldCandidate, cid),
		zap.Int("found", report.Found),
		zap.Int("new", report.New),
		zap.Int("duplicates", report.Duplicates),
	)
	return report, nil
}

// Apply fills the platform's in-page application for a job. Without dryRun
// the form is submitted once it is complete and an application record is
// created. A run refused by the daily ceiling returns a limit error and
// leaves the session connected.
func (m *Manager) Apply(ctx context.Context, jobID string, dryRun bool) (*Outcome, error) {
	if _, err := candidate.FromContext(ctx); err != nil {
		return nil, err
	}
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsEasyApply {
		return nil, apperr.Validation("job %s does not offer in-page applications", jobID)
	}
	if !dryRun {
		if _, err := m.applications.ByJob(ctx, jobID); err == nil {
			return nil, apperr.Duplicate(fmt.Sprintf("already applied to job %s", jobID))
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
	}
	profile, err := m.profiles.Profile(ctx)
	if err != nil {
		return nil, err
	}

	cid, s, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.policy.CheckSubmission(ctx, dryRun); err != nil {
		logger.ForJob(ctx, m.logger, jobID).Warn("apply refused", zap.Error(err))
		m.release(ctx, cid, s, StateConnected)
		return nil, err
	}

	m.transition(ctx, cid, s, StateFilling, jobID)

	r := &run{
		actor:    actor{m: m, cid: cid, s: s, jobID: jobID},
		job:      job,
		dryRun:   dryRun,
		answerer: NewAnswerer(profile, m.cfg.Answers, m.resumePath(ctx, jobID)),
		out:      &Outcome{JobID: jobID, DryRun: dryRun},
	}
	out, err := r.execute(ctx)
	if err != nil {
		// refused at the ceiling while filling
		m.release(ctx, cid, s, StateConnected)
		return nil, err
	}

	if out.State != StateIdle {
		m.transition(ctx, cid, s, out.State, jobID)
		metrics.AssistantOutcome(string(out.State))
	} else {
		metrics.AssistantOutcome("stopped")
	}

	m.mu.Lock()
	s.last = out
	m.mu.Unlock()

	logger.ForJob(ctx, m.logger, jobID).Info("apply finished",
		zap.String("state", string(out.State)),
		zap.Bool("dry_run", dryRun),
		zap.Int("steps", out.Steps),
		zap.Strings("skipped", out.Skipped),
		zap.String("message", out.Message),
	)
	m.release(ctx, cid, s, StateConnected)
	return out, nil
}

// Close closes every open browser.
func (m *Manager) Close() {
	m.mu.Lock()
	drivers := make(map[string]Driver, len(m.sessions))
	for cid, s := range m.sessions {
		if s.driver != nil {
			drivers[cid] = s.driver
			s.driver = nil
		}
		s.state = StateIdle
	}
	m.mu.Unlock()

	for cid, d := range drivers {
		m.closeDriver(cid, d)
	}
}

// acquire marks a connected session busy for one operation.
func (m *Manager) acquire(ctx context.Context) (string, *session, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[cid]
	if s == nil || s.state == StateIdle {
		return "", nil, apperr.NotReady("assistant is not connected, launch it first")
	}
	if s.busy {
		return "", nil, apperr.Busy("assistant is busy (%s)", s.state)
	}
	s.busy = true
	s.halted, s.halt = context.WithCancel(context.Background())
	return cid, s, nil
}

// release ends an operation. A pending stop closes the browser and wins
// over the state the operation settles in.
func (m *Manager) release(ctx context.Context, cid string, s *session, settle State) {
	m.mu.Lock()
	s.busy = false
	if s.halt != nil {
		s.halt()
		s.halt = nil
	}
	var driver Driver
	if s.stop.Load() {
		driver = s.driver
		s.driver = nil
		s.stop.Store(false)
		settle = StateIdle
	}
	if settle == StateIdle || settle == StateConnected {
		s.jobID = ""
	}
	changed := s.state != settle
	s.state = settle
	m.mu.Unlock()

	m.closeDriver(cid, driver)
	if changed {
		m.publishState(ctx, cid, settle, "")
	}
}

func (m *Manager) transition(ctx context.Context, cid string, s *session, to State, jobID string) {
	m.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		m.logger.Warn("unexpected assistant transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	s.state = to
	if jobID != "" {
		s.jobID = jobID
	}
	m.mu.Unlock()
	m.publishState(ctx, cid, to, jobID)
}

func (m *Manager) publishState(ctx context.Context, cid string, state State, jobID string) {
	m.publisher.Publish(ctx, events.Event{
		Type:        events.AssistantState,
		CandidateID: cid,
		JobID:       jobID,
		Message:     string(state),
		Data:        map[string]any{"state": string(state)},
	})
}

func (m *Manager) closeDriver(cid string, d Driver) {
	if d == nil {
		return
	}
	if err := d.Close(); err != nil {
		m.logger.Warn("closing browser failed", zap.String(logger.FieldCandidate, cid), zap.Error(err))
	}
}

// resumePath prefers the finalized CV of the job, then the configured
// default. Only files on the local disk can be uploaded.
func (m *Manager) resumePath(ctx context.Context, jobID string) string {
	if m.resumes != nil {
		path, err := m.resumes.FinalizedCVPath(ctx, jobID)
		if err == nil && m.fileExists(path) {
			return path
		}
	}
	if m.cfg.DefaultCV != "" && m.fileExists(m.cfg.DefaultCV) {
		return m.cfg.DefaultCV
	}
	logger.ForJob(ctx, m.logger, jobID).Warn("no cv available for upload")
	return ""
}

func fileExists(path string) bool {
	if path == "" || strings.Contains(path, "://") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
