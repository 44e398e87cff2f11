package api

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/materials"
	"github.com/spigell/job-pilot/internal/metrics"
)

const (
	candidateKey = "candidate_id"

	defaultListen = "127.0.0.1:8080"
)

type Config struct {
	Listen         string        `mapstructure:"listen"`
	JWTSecret      string        `mapstructure:"jwt-secret"`
	JWTSecretFile  string        `mapstructure:"jwt-secret-file"`
	TokenTTL       time.Duration `mapstructure:"token-ttl"`
	AllowedOrigins []string      `mapstructure:"allowed-origins"`
}

type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Transition(ctx context.Context, id string, action jobs.Action) (*jobs.Job, error)
	List(ctx context.Context, f jobs.Filter) iter.Seq2[*jobs.Job, error]
}

type Ingester interface {
	IngestURL(ctx context.Context, rawURL string) (*jobs.Job, error)
	CaptureDetails(ctx context.Context, id string) (*jobs.Job, error)
}

type Scorer interface {
	ScoreJob(ctx context.Context, id string) (*jobs.Job, error)
}

type Materials interface {
	TailorCV(ctx context.Context, jobID string) (*materials.CV, error)
	GenerateCoverLetter(ctx context.Context, jobID, variant string) (*materials.CoverLetter, error)
	Finalize(ctx context.Context, jobID string) (*materials.Export, error)
	Materials(ctx context.Context, jobID string) (*materials.Materials, error)
}

type Discovery interface {
	Start(ctx context.Context) error
	Status(ctx context.Context) (discovery.Status, error)
}

type Assistant interface {
	Launch(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (assistant.Status, error)
	Capture(ctx context.Context) (*assistant.CaptureReport, error)
	Apply(ctx context.Context, jobID string, dryRun bool) (*assistant.Outcome, error)
}

type Applications interface {
	List(ctx context.Context, statuses ...applications.Status) ([]applications.Record, error)
	Advance(ctx context.Context, id string, to applications.Status) (*applications.Record, error)
}

// Queue hands long operations to the background worker.
type Queue interface {
	ScoreJob(ctx context.Context, jobID string) (string, error)
	Discover(ctx context.Context) (string, error)
	TailorCV(ctx context.Context, jobID string) (string, error)
	CoverLetter(ctx context.Context, jobID, variant string) (string, error)
}

// Deps are the services behind the routes. Queue and Events are optional.
type Deps struct {
	Jobs         JobStore
	Ingester     Ingester
	Scorer       Scorer
	Materials    Materials
	Discovery    Discovery
	Assistant    Assistant
	Applications Applications
	Queue        Queue
	Events       *events.Bus
	Tokens       *Tokens
	Logger       *zap.Logger
}

type Server struct {
	Router *gin.Engine

	deps   Deps
	tokens *Tokens
	config Config
	logger *zap.Logger
}

func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}

	s := &Server{
		Router: gin.New(),
		deps:   deps,
		tokens: deps.Tokens,
		config: cfg,
		logger: deps.Logger,
	}
	s.Router.Use(gin.Recovery(), metrics.GinMiddleware(), s.logRequests())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", func(c *gin.Context) { ok(c, gin.H{"status": "healthy"}) })
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api")
	if s.deps.Events != nil {
		api.GET("/events", s.streamEvents)
	}

	authed := api.Group("")
	authed.Use(s.authenticate())
	{
		j := authed.Group("/jobs")
		j.POST("/ingest", s.ingestJob)
		j.POST("/discover", s.discover)
		j.GET("", s.listJobs)
		j.GET("/:id", s.getJob)
		j.POST("/:id/shortlist", s.transition(jobs.ActionShortlist))
		j.POST("/:id/reject", s.transition(jobs.ActionReject))
		j.POST("/:id/revert", s.transition(jobs.ActionRevert))
		j.POST("/:id/score", s.scoreJob)
		j.POST("/:id/capture-details", s.captureDetails)
		j.POST("/:id/tailor-cv", s.tailorCV)
		j.POST("/:id/generate-cl", s.generateCoverLetter)
		j.POST("/:id/finalize", s.finalize)
		j.GET("/:id/materials", s.materials)

		authed.GET("/discovery/status", s.discoveryStatus)

		a := authed.Group("/assistant")
		a.POST("/launch", s.launchAssistant)
		a.POST("/capture", s.captureListings)
		a.POST("/stop", s.stopAssistant)
		a.POST("/apply/:id", s.apply)
		a.GET("/status", s.assistantStatus)

		authed.GET("/applications", s.listApplications)
		authed.POST("/applications/:id/advance", s.advanceApplication)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		cid, _ := c.Get(candidateKey)
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Any("candidate", cid),
		)
	}
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("address", s.config.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.logger.Info("api shutting down")
	return srv.Shutdown(shutdownCtx)
}
