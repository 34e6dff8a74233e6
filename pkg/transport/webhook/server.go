// Package webhook receives events over HTTP and exposes the admin API.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/auth"
	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/metrics"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/pipeline"
	"github.com/erpbridge/erpbridge/pkg/syncer"
	"github.com/erpbridge/erpbridge/pkg/transport"
)

// BridgeStatus is the admin-facing snapshot of the running bridge.
type BridgeStatus struct {
	Running    bool            `json:"running"`
	Connected  bool            `json:"connected"`
	QueueDepth int             `json:"queue_depth"`
	Transports map[string]bool `json:"transports"`
}

// Controller is the slice of the bridge the admin API drives. The
// orchestrator implements it.
type Controller interface {
	Status() BridgeStatus
	FullSync(ctx context.Context, entity model.EntityType, records []map[string]interface{}) syncer.Report
	IncrementalSync(ctx context.Context, entity model.EntityType, since time.Time) (syncer.Report, error)
	RetryFailed(ctx context.Context) (syncer.Report, error)
	Cleanup(ctx context.Context) (int64, error)
}

type Server struct {
	cfg        *config.WebhookConfig
	sink       transport.Sink
	controller Controller
	tokens     *auth.AdminTokenManager
	logger     *zap.Logger

	router *gin.Engine
	srv    *http.Server
}

func NewServer(cfg *config.WebhookConfig, authCfg *config.AuthConfig, sink transport.Sink, controller Controller, logger *zap.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		sink:       sink,
		controller: controller,
		logger:     logger,
	}
	if authCfg != nil && authCfg.AdminSecret != "" {
		s.tokens = auth.NewAdminTokenManager([]byte(authCfg.AdminSecret), authCfg.TokenTTL)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/webhook/health", s.handleHealth)
	r.POST("/webhook/events", s.handleEvent)
	r.POST("/webhook/test", s.handleTest)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := r.Group("/admin")
	{
		admin.Use(s.adminAuth())
		admin.GET("/status", s.handleStatus)
		admin.POST("/sync/:entityType", s.handleFullSync)
		admin.POST("/sync/:entityType/incremental", s.handleIncrementalSync)
		admin.POST("/retry", s.handleRetry)
		admin.POST("/cleanup", s.handleCleanup)
	}

	s.router = r
}

// Router exposes the gin engine for in-process tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Name() string { return "webhook" }

func (s *Server) IsConnected() bool { return s.srv != nil }

func (s *Server) Start(ctx context.Context) error {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	s.srv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: readTimeout,
	}

	go func() {
		s.logger.Info("webhook server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	return err
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// adminAuth validates the bearer token on admin routes. With no secret
// configured the admin API is open; that mode is for single-host deployments
// behind a private interface.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tokens == nil {
			c.Next()
			return
		}
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		if _, err := s.tokens.ValidateAdminToken(strings.TrimSpace(parts[1])); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEvent(c *gin.Context) {
	var wire model.WireEvent
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt, err := wire.ToEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics.TransportEventsTotal.WithLabelValues(s.Name()).Inc()
	if err := s.sink(evt); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is full"})
			return
		}
		s.logger.Error("failed to enqueue webhook event",
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": evt.EventID})
}

// handleTest validates the envelope without enqueueing it, so integrators can
// verify their payload shape.
func (s *Server) handleTest(c *gin.Context) {
	var wire model.WireEvent
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	evt, err := wire.ToEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "event_id": evt.EventID})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

type fullSyncRequest struct {
	Records []map[string]interface{} `json:"records" binding:"required"`
}

func (s *Server) handleFullSync(c *gin.Context) {
	entity := model.EntityType(c.Param("entityType"))
	if !entity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", c.Param("entityType"))})
		return
	}

	var req fullSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report := s.controller.FullSync(c.Request.Context(), entity, req.Records)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleIncrementalSync(c *gin.Context) {
	entity := model.EntityType(c.Param("entityType"))
	if !entity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity type %q", c.Param("entityType"))})
		return
	}

	since, err := time.Parse(time.RFC3339, c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since timestamp: %v", err)})
		return
	}

	report, err := s.controller.IncrementalSync(c.Request.Context(), entity, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRetry(c *gin.Context) {
	report, err := s.controller.RetryFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleCleanup(c *gin.Context) {
	removed, err := s.controller.Cleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

var _ transport.Transport = (*Server)(nil)
