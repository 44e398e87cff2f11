package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/ai/gemini"
	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/assistant/rodriver"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/export"
	"github.com/spigell/job-pilot/internal/filtering"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/matching"
	"github.com/spigell/job-pilot/internal/materials"
	"github.com/spigell/job-pilot/internal/safety"
	"github.com/spigell/job-pilot/internal/secrets"
	"github.com/spigell/job-pilot/internal/store"
	"github.com/spigell/job-pilot/internal/tasks"
)

// eventMode selects where the process publishes events.
type eventMode int

const (
	// eventsLocal publishes to the in-process bus and, when redis is
	// configured, to redis for other processes.
	eventsLocal eventMode = iota
	// eventsForwarded publishes to redis only; the process relays redis back
	// into its bus, so local subscribers see each event once.
	eventsForwarded
)

// App holds every wired service of one process.
type App struct {
	Config *Config
	Logger *zap.Logger

	DB        *gorm.DB
	Redis     *redis.Client
	Bus       *events.Bus
	Publisher events.Publisher

	Profiles     *candidate.Profiles
	Jobs         *jobs.Store
	Applications *applications.Store
	Policy       *safety.Policy
	Scorer       *matching.Service
	Discovery    *discovery.Service
	Materials    *materials.Service
	Assistant    *assistant.Manager

	// Queue is nil without redis.
	Queue *tasks.Queue

	asynqClient *asynq.Client
}

func newApp(ctx context.Context, cfg *Config, log *zap.Logger, mode eventMode) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if err := a.wire(ctx, mode); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, mode eventMode) error {
	cfg, log := a.Config, a.Logger

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	a.DB = db
	if err := store.Migrate(db, jobs.Migrate, materials.Migrate, applications.Migrate, safety.Migrate); err != nil {
		return err
	}

	if cfg.Redis != nil && strings.TrimSpace(cfg.Redis.Addr) != "" {
		opt, err := redisOptions(cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = redis.NewClient(opt)
		a.asynqClient = asynq.NewClient(asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})
		a.Queue = tasks.NewQueue(a.asynqClient, cfg.Tasks, logger.Component(log, "tasks"))
	}

	a.Bus = events.NewBus(log)
	switch {
	case a.Redis == nil:
		a.Publisher = a.Bus
	case mode == eventsForwarded:
		a.Publisher = events.NewRedisPublisher(a.Redis, log)
	default:
		a.Publisher = events.Multi{a.Bus, events.NewRedisPublisher(a.Redis, log)}
	}

	profiles := cfg.Profiles
	if cfg.Profile != "" {
		if profiles == nil {
			profiles = map[string]string{}
		}
		profiles[cfg.Candidate] = cfg.Profile
	}
	a.Profiles = candidate.NewProfiles(profiles, cfg.ProfilesDir)

	a.Jobs = jobs.NewStore(db, log)
	a.Applications = applications.NewStore(db, log)

	policy, err := newPolicy(cfg.Safety, db, a.Redis, log)
	if err != nil {
		return err
	}
	a.Policy = policy

	generator, err := newGenerator(ctx, cfg.AI, log)
	if err != nil {
		log.Warn("generation capability disabled", zap.Error(err))
		generator = ai.Unavailable{}
	}

	var timeout time.Duration
	if cfg.AI != nil {
		timeout = cfg.AI.Timeout
	}
	engine := matching.NewEngine(cfg.Matching, generator, timeout, logger.Component(log, "matching"))
	a.Scorer = matching.NewService(a.Jobs, a.Profiles, engine, log)

	a.Discovery, err = a.newDiscovery(generator)
	if err != nil {
		return err
	}

	exporter, err := export.New(ctx, cfg.Export, logger.Component(log, "export"))
	if err != nil {
		return err
	}
	a.Materials = materials.NewService(cfg.Materials, materials.Deps{
		DB:        db,
		Jobs:      a.Jobs,
		Profiles:  a.Profiles,
		Generator: generator,
		Budget:    policy,
		Exporter:  exporter,
		Publisher: a.Publisher,
		Logger:    logger.Component(log, "materials"),
	})

	a.Assistant = assistant.NewManager(cfg.Assistant.Config, assistant.Deps{
		Launcher:     rodriver.NewLauncher(cfg.Assistant.Browser, log),
		Jobs:         a.Jobs,
		Ingester:     a.Discovery,
		Applications: a.Applications,
		Resumes:      a.Materials,
		Profiles:     a.Profiles,
		Policy:       policy,
		Pacer:        safety.NewPacer(policy.Config().MinDelay, policy.Config().MaxDelay),
		Throttle:     safety.NewActionThrottle(policy.Config().ActionsPerMinute),
		Publisher:    a.Publisher,
		Logger:       logger.Component(log, "assistant"),
	})
	return nil
}

func (a *App) newDiscovery(generator ai.Generator) (*discovery.Service, error) {
	cfg, log := a.Config, logger.Component(a.Logger, "discovery")

	var searcher discovery.Searcher
	if cfg.Discovery.AppID != "" {
		key, err := secrets.Load(secrets.Source{
			Name:  "job search app key",
			Value: cfg.Discovery.AppKey,
			File:  cfg.Discovery.AppKeyFile,
			Hint:  "discovery.app-key-file or ADZUNA_APP_KEY_FILE",
		})
		if err != nil {
			return nil, err
		}
		client := discovery.NewClient(cfg.Discovery.AppID, key, log)
		if cfg.Discovery.Country != "" {
			client.Country = cfg.Discovery.Country
		}
		searcher = client
	}

	fit := &filtering.AIFitFilterConfig{}
	if cfg.AI != nil {
		fit.Enabled = cfg.AI.Enabled && cfg.AI.FitFilter
		fit.MinimumFitScore = cfg.AI.MinimumFitScore
		fit.Timeout = cfg.AI.Timeout
	}

	filters := filtering.New([]filtering.Filter{
		filtering.NewIncomplete(log),
		filtering.NewSeen(a.Jobs),
		filtering.NewAppliedHistory(&filtering.AppliedHistoryConfig{}, a.Applications, log),
		filtering.NewExcludedEmployers(cfg.Discovery.ExcludeEmployers, log),
		filtering.NewExcludeFile(cfg.Discovery.ExcludeFile),
		filtering.NewAIFit(fit, &filtering.AIFitFilterDeps{
			Logger:      log,
			Generator:   generator,
			Profiles:    a.Profiles,
			ExcludeFile: cfg.Discovery.ExcludeFile,
		}),
	}, log)

	return discovery.NewService(cfg.Discovery.Config, discovery.Deps{
		Search:    searcher,
		Pages:     discovery.NewFetcher(log),
		Jobs:      a.Jobs,
		Scorer:    a.Scorer,
		Filters:   filters,
		Profiles:  a.Profiles,
		Publisher: a.Publisher,
		Logger:    log,
	}), nil
}

func newPolicy(cfg safety.Config, db *gorm.DB, rdb *redis.Client, log *zap.Logger) (*safety.Policy, error) {
	cfg = cfg.WithDefaults()
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var counter safety.Counter
	switch cfg.Backend {
	case safety.BackendDB:
		counter = safety.NewDBCounter(db, loc)
	case safety.BackendRedis:
		if rdb == nil {
			return nil, errors.New("safety backend redis requires redis.addr")
		}
		counter = safety.NewRedisCounter(rdb, loc)
	default:
		return nil, fmt.Errorf("unsupported safety backend: %s", cfg.Backend)
	}
	return safety.NewPolicy(counter, cfg, logger.Component(log, "safety")), nil
}

func newGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Generator, error) {
	if cfg == nil || !cfg.Enabled {
		return ai.Unavailable{}, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Hint:  "ai.gemini.api-key-file or GEMINI_API_KEY_FILE",
	})
	if err != nil {
		return nil, err
	}

	genLogger := log.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	p := gemini.NewProvider(generator, cfg.Gemini.MaxLogLength, log)
	p.SetInstructions(cfg.Instructions)
	return p, nil
}

func redisOptions(cfg *RedisConfig) (*redis.Options, error) {
	opt := &redis.Options{Addr: cfg.Addr, DB: cfg.DB}
	src := secrets.Source{
		Name:  "redis password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
	}
	if src.Configured() {
		password, err := secrets.Load(src)
		if err != nil {
			return nil, err
		}
		opt.Password = password
	}
	return opt, nil
}

// Close releases the browser sessions and connections.
func (a *App) Close() {
	if a.Assistant != nil {
		a.Assistant.Close()
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			a.Logger.Warn("closing task client", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("closing redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := store.Close(a.DB); err != nil {
			a.Logger.Warn("closing database", zap.Error(err))
		}
	}
}
