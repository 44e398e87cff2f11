package tasks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

const (
	defaultQueue       = "default"
	defaultMaxRetry    = 3
	defaultTaskTimeout = 10 * time.Minute
)

type Config struct {
	Queue       string        `mapstructure:"queue"`
	MaxRetry    int           `mapstructure:"max-retry"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = defaultQueue
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTaskTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue enqueues pipeline tasks for the worker.
type Queue struct {
	client enqueuer
	cfg    Config
	logger *zap.Logger
}

func NewQueue(client *asynq.Client, cfg Config, logger *zap.Logger) *Queue {
	return newQueue(client, cfg, logger)
}

func newQueue(client enqueuer, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Enqueue returns the task id assigned by asynq.
func (q *Queue) Enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Queue),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.Timeout),
	)
	if err != nil {
		q.logger.Error("enqueue task failed", zap.String("task", task.Type()), zap.Error(err))
		return "", err
	}
	q.logger.Info("task enqueued", zap.String("task", task.Type()), zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return info.ID, nil
}

func (q *Queue) ScoreJob(ctx context.Context, jobID string) (string, error) {
	return q.enqueueFor(ctx, func(cid string) (*asynq.Task, error) { return NewScoreJobTask(cid, jobID) })
}

func (q *Queue) ScoreAll(ctx context.Context, rescore bool) (string, error) {
	return q.enqueueFor(ctx, func(cid string) (*asynq.Task, error) { return NewScoreAllTask(cid, rescore) })
}

func (q *Queue) Discover(ctx context.Context) (string, error) {
	return q.enqueueFor(ctx, NewDiscoverTask)
}

func (q *Queue) TailorCV(ctx context.Context, jobID string) (string, error) {
	return q.enqueueFor(ctx, func(cid string) (*asynq.Task, error) { return NewTailorCVTask(cid, jobID) })
}

func (q *Queue) CoverLetter(ctx context.Context, jobID, variant string) (string, error) {
	return q.enqueueFor(ctx, func(cid string) (*asynq.Task, error) { return NewCoverLetterTask(cid, jobID, variant) })
}

// enqueueFor builds a task for the candidate bound to ctx.
func (q *Queue) enqueueFor(ctx context.Context, build func(candidateID string) (*asynq.Task, error)) (string, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return "", err
	}
	task, err := build(cid)
	if err != nil {
		return "", apperr.Validation("%v", err)
	}
	return q.Enqueue(ctx, task)
}

// NewServer builds the asynq worker server with zap as its logger.
func NewServer(redisOpt asynq.RedisConnOpt, cfg Config, logger *zap.Logger) *asynq.Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      logger.Sugar(),
	})
}
