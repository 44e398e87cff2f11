package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types published by the pipeline.
const (
	DiscoveryStarted  = "discovery.started"
	DiscoveryFinished = "discovery.finished"
	JobIngested       = "job.ingested"
	JobScored         = "job.scored"
	MaterialsReady    = "materials.generated"
	AssistantState    = "assistant.state"
	AssistantAction   = "assistant.action"
)

const defaultBuffer = 64

type Event struct {
	Type        string         `json:"type"`
	CandidateID string         `json:"candidate_id"`
	JobID       string         `json:"job_id,omitempty"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Publisher accepts events. Publishing never blocks the caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type subscriber struct {
	candidateID string
	ch          chan Event
}

// Bus is an in-process fan-out of events to per-candidate subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[int]*subscriber), logger: logger}
}

// Publish delivers ev to every subscriber of its candidate. Subscribers with
// a full buffer miss the event.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		if sub.candidateID != ev.CandidateID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("type", ev.Type),
			)
		}
	}
}

// Subscribe returns a channel of the candidate's events and a function that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(candidateID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{candidateID: candidateID, ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Multi publishes to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}
