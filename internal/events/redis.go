package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "job_pilot:events:"

func channel(candidateID string) string {
	return channelPrefix + candidateID
}

// RedisPublisher sends events over redis pub/sub so a worker process can
// notify the API process.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel(ev.CandidateID), payload).Err(); err != nil {
		p.logger.Warn("publish event to redis",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

// Forward relays events published by other processes into the local bus
// until ctx is done.
func Forward(ctx context.Context, client *redis.Client, bus *Bus, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	logger.Info("forwarding redis events", zap.String("pattern", channelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel closed")
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("decode event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if ev.CandidateID == "" {
				ev.CandidateID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			bus.Publish(ctx, ev)
		}
	}
}
