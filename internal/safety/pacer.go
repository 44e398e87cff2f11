package safety

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spigell/job-pilot/internal/utils"
)

// Pacer spaces out real submissions by a random delay in [Min, Max]
// counted from the previous submission.
type Pacer struct {
	Min, Max time.Duration

	mu     sync.Mutex
	last   time.Time
	now    func() time.Time
	jitter func(n int64) int64
	wait   func(ctx context.Context, d time.Duration) error
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{
		Min:    minDelay,
		Max:    maxDelay,
		now:    time.Now,
		jitter: rand.Int64N,
		wait:   utils.Sleep,
	}
}

// Delay returns how long the next submission has to wait.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last.IsZero() {
		return 0
	}
	target := p.Min
	if span := int64(p.Max - p.Min); span > 0 {
		target += time.Duration(p.jitter(span + 1))
	}
	return target - p.now().Sub(p.last)
}

// Wait blocks until the next submission may start.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.wait(ctx, p.Delay())
}

// Mark records a completed submission.
func (p *Pacer) Mark() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = p.now()
}

// NewActionThrottle limits discrete browser actions to perMinute with no burst.
func NewActionThrottle(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = DefaultActionsPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}
