// Package http wires the ingest endpoint and the read-only query
// endpoints into one gin.Engine, the way case-service's internal/http
// package builds its Server around a *gin.Engine constructed once at
// startup.
package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"evalpipe/internal/config"
	"evalpipe/internal/domain"
	"evalpipe/internal/ingest"
	"evalpipe/internal/metrics"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/schema"
)

type Server struct {
	cfg         config.Config
	engine      *gin.Engine
	ingest      *ingest.Service
	rollups     *postgres.RollupRepo
	anomalies   *postgres.AnomalyRepo
	shifts      *postgres.ShiftRepo
	actions     *postgres.ActionRepo
	backtests   *postgres.BacktestRepo
	signals     *postgres.SignalRepo
	limiter     domain.RateLimiter
	log         *zap.SugaredLogger
}

// ServerDeps lets tests substitute an in-memory rate limiter or a
// pre-built ingest.Service without standing up a real pool.
type ServerDeps struct {
	Ingest    *ingest.Service
	Rollups   *postgres.RollupRepo
	Anomalies *postgres.AnomalyRepo
	Shifts    *postgres.ShiftRepo
	Actions   *postgres.ActionRepo
	Backtests *postgres.BacktestRepo
	Signals   *postgres.SignalRepo
	Limiter   domain.RateLimiter
}

func NewServer(cfg config.Config, pool *pgxpool.Pool, registry *schema.Registry, limiter domain.RateLimiter, log *zap.SugaredLogger) *Server {
	return NewServerWithDeps(cfg, ServerDeps{
		Ingest:    ingest.NewService(pool, registry, log),
		Rollups:   postgres.NewRollupRepo(pool),
		Anomalies: postgres.NewAnomalyRepo(pool),
		Shifts:    postgres.NewShiftRepo(pool),
		Actions:   postgres.NewActionRepo(pool),
		Backtests: postgres.NewBacktestRepo(pool),
		Signals:   postgres.NewSignalRepo(pool),
		Limiter:   limiter,
	}, log)
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		engine:    r,
		ingest:    deps.Ingest,
		rollups:   deps.Rollups,
		anomalies: deps.Anomalies,
		shifts:    deps.Shifts,
		actions:   deps.Actions,
		backtests: deps.Backtests,
		signals:   deps.Signals,
		limiter:   deps.Limiter,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	tenant := s.engine.Group("/")
	tenant.Use(authMiddleware(s.cfg.EvalAPIKeys, s.cfg.AuthEnabled()))
	if s.limiter != nil {
		tenant.Use(rateLimitMiddleware(s.limiter))
	}

	tenant.POST("/events", s.handleIngest)
	tenant.GET("/metrics/agents", s.handleMetricsAgents)
	tenant.GET("/metrics/workflows", s.handleMetricsWorkflows)
	tenant.GET("/anomalies", s.handleAnomalies)
	tenant.GET("/shifts", s.handleShifts)
	tenant.GET("/actions/recommended", s.handleRecommendedActions)
	tenant.GET("/backtests", s.handleBacktests)
	tenant.GET("/signals/:id", s.handleSignal)
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests before returning, mirroring case-service's
// graceful-shutdown discipline around srv.Run().
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("evalpipe ingest server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
