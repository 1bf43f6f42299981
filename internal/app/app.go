// Package app wires every component package into a single running
// orchestrator process: config, logging, persistence, pool construction,
// the workflow executor, and the operator HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/api"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/config"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/database"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/metrics"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/orchestration"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/pool"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/registry"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/transport"
)

// App owns every long-lived component of the running orchestrator.
type App struct {
	config *config.Config
	logger *logrus.Logger

	dbClient *database.ArangoClient
	repo     orchestration.ExecutionRepository

	agentTypes *registry.Service
	metricsReg *metrics.Registry
	pools      *pool.Manager
	executor   *orchestration.Executor
	httpServer *api.Server
}

// New wires every component. Database and registry setup are
// best-effort: a failed ArangoDB connection degrades to an in-memory
// execution repository rather than refusing to start, since the pool and
// executor layers don't themselves depend on persistence to function.
func New(cfg *config.Config) *App {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	a := &App{config: cfg, logger: logger}

	dbClient, err := database.NewArangoClient(&cfg.Database)
	if err != nil {
		logger.WithError(err).Warn("failed to connect to ArangoDB, falling back to in-memory execution storage")
		a.repo = orchestration.NewMemoryRepository()
	} else {
		a.dbClient = dbClient
		if err := dbClient.Ping(); err != nil {
			logger.WithError(err).Warn("ArangoDB ping failed, falling back to in-memory execution storage")
			a.repo = orchestration.NewMemoryRepository()
		} else {
			repoCfg := orchestration.DefaultArangoRepositoryConfig()
			arangoRepo, err := orchestration.NewArangoRepository(context.Background(), dbClient.Database(), repoCfg, logger)
			if err != nil {
				logger.WithError(err).Warn("failed to initialize ArangoDB execution repository, falling back to in-memory")
				a.repo = orchestration.NewMemoryRepository()
			} else {
				a.repo = arangoRepo
			}
		}
	}

	a.agentTypes = a.initAgentTypes()
	a.metricsReg = metrics.NewRegistry()
	a.pools = a.initPools()

	executor, err := orchestration.New(orchestration.Config{
		Pools:                  a.pools,
		Scorer:                 transport.ConfidenceScorer{},
		Metrics:                a.metricsReg,
		Repo:                   a.repo,
		TaskTimeout:            time.Duration(cfg.Orchestrator.TaskTimeoutMinutes) * time.Minute,
		ExecutionTimeout:       time.Duration(cfg.Orchestrator.ExecutionTimeoutMinutes) * time.Minute,
		MaxConcurrentWorkflows: cfg.Orchestrator.MaxConcurrentWorkflows,
		Logger:                 logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to construct workflow executor")
	}
	a.executor = executor

	a.httpServer = api.NewServer(&api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}, &api.Services{
		Executor:   a.executor,
		MetricsReg: a.metricsReg,
		Pools:      a.pools,
		AgentTypes: a.agentTypes,
	}, logger)

	return a
}

func (a *App) initAgentTypes() *registry.Service {
	svc := registry.NewService(registry.NewMemoryRepository(), a.logger)
	if err := registry.InitializeDefaultAgentTypes(context.Background(), svc, a.logger); err != nil {
		a.logger.WithError(err).Warn("failed to seed default agent types")
	}
	return svc
}

// initPools creates one pool per default role, each instance wired against
// a step registry stub until a real internal/transport.AgentTransport
// backend is configured for that role.
func (a *App) initPools() *pool.Manager {
	mgr := pool.NewManager(a.logger)

	roles := []string{
		registry.RolePM,
		registry.RoleBA,
		registry.RoleSA,
		registry.RoleResearch,
		registry.RoleQualityJudge,
		registry.RoleImplementation,
	}

	stepRegistry := transport.NewRegistry()
	breaker := transport.NewBreakerTransport(stepRegistry)

	for _, role := range roles {
		role := role
		stepRegistry.Register(role, func(ctx context.Context, t *task.AgentTask) (*task.Output, error) {
			return &task.Output{Data: "stub output, no transport configured for role " + role, Format: task.FormatText, Confidence: 1.0}, nil
		})

		_, err := mgr.CreatePool(pool.Config{
			Role:       role,
			Strategy:   pool.Strategy(a.config.Pools.Strategy),
			Thresholds: pool.DefaultScalingThresholds(a.config.Pools.MinInstances, a.config.Pools.MaxInstances),
			NewInstance: func() (*agent.Instance, error) {
				inst := agent.New(role, a.logger)
				if err := inst.Initialize(agent.Config{
					Role: role,
					Step: func(ctx context.Context, t *task.AgentTask) (*task.Output, error) {
						return breaker.Dispatch(ctx, role, t)
					},
				}); err != nil {
					return nil, err
				}
				return inst, nil
			},
			Logger: a.logger,
		})
		if err != nil {
			a.logger.WithError(err).WithField("role", role).Fatal("failed to create pool")
		}
	}

	return mgr
}

// Run starts the operator HTTP server and blocks until SIGINT/SIGTERM,
// then tears every component down in reverse dependency order.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-quit:
		a.logger.Info("shutdown signal received")
	}

	cancel()

	a.executor.Stop()
	a.pools.Stop(context.Background())
	if a.dbClient != nil {
		if err := a.dbClient.Close(); err != nil {
			a.logger.WithError(err).Error("error closing database connection")
		}
	}

	a.logger.Info("orchestrator shut down cleanly")
	return nil
}

// Executor exposes the workflow executor for the CLI's run/status/pause/
// resume/cancel/rollback/metrics subcommands.
func (a *App) Executor() *orchestration.Executor {
	return a.executor
}

// MetricsRegistry exposes the Prometheus registry. The CLI's metrics
// subcommand does not use it; it prints Executor().Metrics() instead.
func (a *App) MetricsRegistry() *metrics.Registry {
	return a.metricsReg
}
