// Package webui provides the HTTP API: task submission, project and run inspection,
// logs, health and Prometheus metrics.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/metrics"
	"sagarmatha/pkg/persistence"
	"sagarmatha/pkg/workflow"
)

// ProjectStore is the slice of the relational store the API uses.
type ProjectStore interface {
	CreateProject(ctx context.Context, name string) (*persistence.Project, error)
	GetProject(ctx context.Context, id string) (*persistence.Project, error)
	ListProjects(ctx context.Context) ([]*persistence.Project, error)
	CreateMessage(ctx context.Context, req *persistence.CreateMessageRequest) (*persistence.Message, error)
	ListMessages(ctx context.Context, projectID string) ([]*persistence.Message, error)
	MessagesForRun(ctx context.Context, runID string) ([]*persistence.Message, error)
}

// EventSender emits workflow events.
type EventSender interface {
	Send(ctx context.Context, name string, data any) ([]string, error)
}

// RunReader reads workflow runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*workflow.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*workflow.Run, error)
}

// RunMetricsQuerier reads per-run LLM usage.
type RunMetricsQuerier interface {
	GetRunMetrics(ctx context.Context, runID string) (*metrics.RunMetrics, error)
	GetRunMetricsByModel(ctx context.Context, runID string) (map[string]*metrics.RunMetrics, error)
}

// Deps are the collaborators of the server. Metrics and Gatherer are optional.
type Deps struct {
	Projects ProjectStore
	Events   EventSender
	Runs     RunReader
	Metrics  RunMetricsQuerier
	Gatherer prometheus.Gatherer
	Sessions SessionResolver
}

// Options configure the server.
type Options struct {
	Server config.ServerConfig
	Auth   config.AuthConfig

	// TaskEvent is the event sent for every submitted task.
	TaskEvent string

	// SecretsDir and SecretsPassword persist secrets changed through the API.
	// Without a password secrets are kept in memory only.
	SecretsDir      string
	SecretsPassword string
}

// Server represents the HTTP API server.
type Server struct {
	deps      Deps
	opts      Options
	engine    *gin.Engine
	policy    *RoutePolicy
	logger    *logx.Logger
	startTime time.Time
}

// NewServer creates a server with its routes registered.
func NewServer(deps Deps, opts Options) (*Server, error) {
	if deps.Projects == nil || deps.Events == nil || deps.Runs == nil {
		return nil, errors.New("webui requires a project store, an event sender and a run reader")
	}
	if opts.TaskEvent == "" {
		return nil, errors.New("webui requires a task event name")
	}

	policy, err := NewRoutePolicy(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("invalid route policy: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps:      deps,
		opts:      opts,
		engine:    engine,
		policy:    policy,
		logger:    logx.NewLogger("webui"),
		startTime: time.Now(),
	}
	engine.Use(s.requestLogger())

	if opts.Server.EnableCORS {
		if len(opts.Server.AllowedOrigins) == 0 {
			s.logger.Warn("CORS enabled without allowed origins, cross-origin requests will be refused")
		} else {
			corsConfig := cors.DefaultConfig()
			corsConfig.AllowOrigins = opts.Server.AllowedOrigins
			corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
			corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
			engine.Use(cors.New(corsConfig))
		}
	}

	if opts.Auth.Disabled {
		s.logger.Warn("⚠️ Route protection disabled, only the secrets API requires a session")
	} else {
		engine.Use(policy.Middleware(deps.Sessions))
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.POST("/invoke", s.handleInvoke)
	api.GET("/greeting", s.handleGreeting)
	api.GET("/logs", s.handleLogs)

	projects := api.Group("/projects")
	{
		projects.POST("", s.handleCreateProject)
		projects.GET("", s.handleListProjects)
		projects.GET("/:id", s.handleGetProject)
		projects.GET("/:id/messages", s.handleProjectMessages)
	}

	runs := api.Group("/runs")
	{
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
		runs.GET("/:id/messages", s.handleRunMessages)
		runs.GET("/:id/metrics", s.handleRunMetrics)
	}

	secrets := api.Group("/secrets", s.requireSession())
	{
		secrets.GET("", s.handleSecretsList)
		secrets.POST("", s.handleSecretsSet)
		secrets.DELETE("/:name", s.handleSecretsDelete)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// Serve listens on the configured address until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	host := s.opts.Server.Host
	if host == "" {
		host = config.DefaultServerHost
	}
	port := s.opts.Server.Port
	if port <= 0 {
		port = config.DefaultServerPort
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 Starting API server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	// The parent context is cancelled; shutdown needs a fresh one.
	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // parent context is cancelled
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}
