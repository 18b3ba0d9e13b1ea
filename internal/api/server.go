package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/middleware"
)

// Controller is the command surface of a queue run
type Controller interface {
	CancelUpload()
	UploadCancelled() bool
	Running() bool
}

// HistoryLister lists render history
type HistoryLister interface {
	List() []database.HistoryRecord
}

// Server is the local status and command HTTP server
type Server struct {
	cfg        config.ServerConfig
	status     *Status
	controller Controller
	history    HistoryLister
	logger     *logging.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router. history may be nil.
func NewServer(cfg config.ServerConfig, status *Status, controller Controller, history HistoryLister, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		cfg:        cfg,
		status:     status,
		controller: controller,
		history:    history,
		logger:     logger.WithComponent("api"),
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(s.logger))

	rps, burst := s.cfg.RateLimit, s.cfg.RateBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 2 * rps
	}
	limiter := middleware.NewRateLimiter(rps, burst)

	// Health check
	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/results", s.getResults)
		v1.GET("/history", s.listHistory)

		commands := v1.Group("")
		commands.Use(middleware.TokenAuth(s.cfg.AuthSecret))
		commands.POST("/upload/cancel", s.cancelUpload)
	}

	return router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"running": s.controller != nil && s.controller.Running(),
		"time":    time.Now().UTC(),
	})
}

func (s *Server) getStatus(c *gin.Context) {
	snap := s.status.Snapshot()
	if s.controller != nil {
		snap.Running = s.controller.Running()
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getResults(c *gin.Context) {
	snap := s.status.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"run_id":  snap.RunID,
		"results": snap.Results,
	})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"history": []database.HistoryRecord{}})
		return
	}

	records := s.history.List()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

func (s *Server) cancelUpload(c *gin.Context) {
	if s.controller == nil || !s.controller.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "no queue is running"})
		return
	}

	s.controller.CancelUpload()
	subject, _ := middleware.GetSubject(c)
	s.logger.WithField("subject", subject).Warn("upload cancellation requested")

	c.JSON(http.StatusAccepted, gin.H{"cancelled": s.controller.UploadCancelled()})
}

// Start serves in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Starting status server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorWithErr("status server failed", err)
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}
