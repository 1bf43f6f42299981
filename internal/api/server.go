package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/metrics"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/orchestration"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/pool"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/registry"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Services bundles the collaborators route handlers dispatch into.
type Services struct {
	Executor   *orchestration.Executor
	MetricsReg *metrics.Registry
	Pools      *pool.Manager
	AgentTypes *registry.Service
}

// Server is the orchestrator's operator-facing HTTP surface.
type Server struct {
	router  *gin.Engine
	server  *http.Server
	config  *ServerConfig
	services *Services
	logger  logrus.FieldLogger
}

// NewServer builds a Server wired against services but does not start
// listening; call Start for that.
func NewServer(cfg *ServerConfig, services *Services, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:   router,
		config:   cfg,
		services: services,
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(SecurityHeadersMiddleware())
	s.router.Use(CORSMiddleware())
	s.router.Use(ValidateContentTypeMiddleware())
	s.router.Use(RequestSizeLimitMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
	})

	s.router.GET("/api/v1/metrics", func(c *gin.Context) {
		s.services.MetricsReg.RefreshPoolGauges(s.services.Pools)
		promhttp.HandlerFor(s.services.MetricsReg.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/executions", s.submitExecution)
		v1.GET("/executions", s.listExecutions)
		v1.GET("/executions/:id", s.getExecution)
		v1.POST("/executions/:id/pause", s.pauseExecution)
		v1.POST("/executions/:id/resume", s.resumeExecution)
		v1.POST("/executions/:id/cancel", s.cancelExecution)
		v1.POST("/executions/:id/rollback", s.rollbackExecution)

		v1.GET("/agent-types", s.listAgentTypes)
		v1.GET("/agent-types/:id", s.getAgentType)
	}
}

type submitExecutionRequest struct {
	ID          string                         `json:"id" binding:"required"`
	Pattern     orchestration.Pattern          `json:"pattern" binding:"required"`
	Assignments []orchestration.AgentAssignment `json:"assignments" binding:"required"`
	Priority    int                            `json:"priority"`
}

func (s *Server) submitExecution(c *gin.Context) {
	var req submitExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid workflow plan", err.Error())
		return
	}

	plan := &orchestration.WorkflowPlan{
		ID:          req.ID,
		Pattern:     req.Pattern,
		Assignments: req.Assignments,
		Priority:    task.Priority(req.Priority),
	}

	execID, err := s.services.Executor.Execute(plan, orchestration.Callbacks{})
	if err != nil {
		BadRequestError(c, "failed to start execution", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"execution_id": execID})
}

func (s *Server) getExecution(c *gin.Context) {
	id := c.Param("id")
	we, err := s.services.Executor.Status(id)
	if err != nil {
		NotFoundError(c, err.Error())
		return
	}
	SuccessResponse(c, we)
}

func (s *Server) listExecutions(c *gin.Context) {
	SuccessResponse(c, s.services.Executor.ActiveExecutions())
}

func (s *Server) pauseExecution(c *gin.Context) {
	if err := s.services.Executor.Pause(c.Param("id")); err != nil {
		ConflictError(c, err.Error())
		return
	}
	SuccessResponse(c, gin.H{"paused": true})
}

func (s *Server) resumeExecution(c *gin.Context) {
	if err := s.services.Executor.Resume(c.Param("id")); err != nil {
		ConflictError(c, err.Error())
		return
	}
	SuccessResponse(c, gin.H{"resumed": true})
}

func (s *Server) cancelExecution(c *gin.Context) {
	if err := s.services.Executor.Cancel(c.Param("id")); err != nil {
		ConflictError(c, err.Error())
		return
	}
	SuccessResponse(c, gin.H{"cancelled": true})
}

type rollbackRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

func (s *Server) rollbackExecution(c *gin.Context) {
	var req rollbackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequestError(c, "invalid rollback request", err.Error())
			return
		}
	}
	if err := s.services.Executor.Rollback(c.Param("id"), req.CheckpointID); err != nil {
		BadRequestError(c, "rollback failed", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"rolled_back": true})
}

func (s *Server) listAgentTypes(c *gin.Context) {
	types, err := s.services.AgentTypes.ListTypes(c.Request.Context())
	if err != nil {
		InternalError(c, "failed to list agent types", err.Error())
		return
	}
	SuccessResponse(c, types)
}

func (s *Server) getAgentType(c *gin.Context) {
	def, err := s.services.AgentTypes.GetType(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFoundError(c, err.Error())
		return
	}
	SuccessResponse(c, def)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("starting operator HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
