// Package server exposes the scheduler's state over a small JSON API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/taskbell/pkg/history"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
	"github.com/harrisonrobin/taskbell/pkg/vault"
)

var timeNow = time.Now

// Engine is the part of the scheduler the API drives. Settings are bound by the caller.
type Engine interface {
	Tick(ctx context.Context) (*scheduler.Report, error)
	Scan(ctx context.Context) (*vault.Scan, error)
	LastReport() *scheduler.Report
}

// History lists recorded dispatches.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Dispatch, error)
}

// Server is the status API
type Server struct {
	engine  Engine
	history History // optional
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer creates the API. hist may be nil.
func NewServer(engine Engine, hist History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine:  engine,
		history: hist,
		router:  router,
		logger:  logger,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/report", s.handleReport)
		api.GET("/tasks", s.handleTasks)
		api.GET("/history", s.handleHistory)
		api.POST("/tick", s.handleTick)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
