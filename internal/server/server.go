// Package server exposes a small HTTP surface for triggering sync passes
// and delivering inbound replies, so a scheduler or chat bridge can drive
// the engine without shelling out to the CLI.
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/the-books-must-balance/internal/certs"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
)

// Config holds server settings.
type Config struct {
	Addr        string
	SharedToken string // required on mutating endpoints
	TLSDir      string // serve HTTPS with a self-signed cert cached here; empty for plain HTTP
}

// Server wraps the engine behind HTTP.
type Server struct {
	engine *engine.Engine
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// New creates a server around the engine.
func New(eng *engine.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8484"
	}

	s := &Server{engine: eng, cfg: cfg, logger: logger}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/status", s.handleStatus)

	authed := v1.Group("", s.authRequired())
	authed.POST("/sync", s.handleSync)
	authed.POST("/reply", s.handleReply)

	return r
}

// authRequired checks the shared token header on mutating endpoints.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Balance-Token")
		if s.cfg.SharedToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SharedToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.engine.LastStats()
	c.JSON(http.StatusOK, gin.H{
		"running":       s.engine.Running(),
		"started_at":    stats.StartedAt,
		"duration_ms":   stats.Duration.Milliseconds(),
		"seen":          stats.Seen,
		"matched":       stats.Matched,
		"unmatched":     stats.Unmatched,
		"suggested":     stats.Suggested,
		"auto_applied":  stats.AutoApplied,
		"refunds_found": stats.RefundsFound,
		"deferred":      stats.Deferred,
		"errors":        stats.Errors,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	stats, err := s.engine.Sync(c.Request.Context(), nil)
	if err != nil {
		if errors.Is(err, common.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync pass is already running"})
			return
		}
		s.logger.Error("sync pass failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seen":         stats.Seen,
		"matched":      stats.Matched,
		"suggested":    stats.Suggested,
		"auto_applied": stats.AutoApplied,
	})
}

func (s *Server) handleReply(c *gin.Context) {
	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	reply, err := s.engine.HandleReply(c.Request.Context(), body.Text)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotOurs):
			c.JSON(http.StatusOK, gin.H{"handled": false})
		case errors.Is(err, common.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "a sync pass is running, try again shortly"})
		default:
			s.logger.Error("reply handling failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"handled": true, "reply": reply})
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.TLSDir != "" {
		cert, err := certs.GetOrCreate(s.cfg.TLSDir)
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		s.http.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr, "tls", s.cfg.TLSDir != "")
		var err error
		if s.cfg.TLSDir != "" {
			err = s.http.ListenAndServeTLS("", "")
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
