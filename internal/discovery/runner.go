package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/logger"
)

type Discoverer interface {
	Discover(ctx context.Context) (*Report, error)
}

// Status is the pollable state of the last background run of a candidate.
type Status struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *Report    `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Runner starts discovery in the background, at most one run per candidate.
type Runner struct {
	discoverer Discoverer
	timeout    time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	runs map[string]*Status
	wg   sync.WaitGroup
}

func NewRunner(d Discoverer, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{discoverer: d, timeout: timeout, logger: logger, runs: make(map[string]*Status)}
}

// Start returns immediately. The run outlives the caller's context but keeps
// its values, so the candidate binding is preserved.
func (r *Runner) Start(ctx context.Context) error {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if st, ok := r.runs[cid]; ok && st.Running {
		r.mu.Unlock()
		return apperr.Busy("discovery is already running")
	}
	now := time.Now().UTC()
	r.runs[cid] = &Status{Running: true, StartedAt: &now}
	r.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		report, err := r.discoverer.Discover(runCtx)
		finished := time.Now().UTC()

		r.mu.Lock()
		st := r.runs[cid]
		st.Running = false
		st.FinishedAt = &finished
		st.Report = report
		if err != nil {
			st.Error = err.Error()
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn("background discovery failed", zap.String(logger.FieldCandidate, cid), zap.Error(err))
		}
	}()
	return nil
}

func (r *Runner) Status(ctx context.Context) (Status, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return Status{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.runs[cid]; ok {
		return *st, nil
	}
	return Status{}, nil
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
