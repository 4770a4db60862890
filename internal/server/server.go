// Package server exposes a read-only HTTP view of the sync ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 200
)

// Server handles HTTP requests
type Server struct {
	config  config.ServerConfig
	storage storage.Storage
	logger  glog.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, logger glog.Logger) *Server {
	s := &Server{
		config:  cfg,
		storage: store,
		logger:  logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/posts", s.handlePosts)
	r.GET("/posts/:recordID", s.handlePostByRecordID)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "port", s.config.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.storage.GetSyncStatus(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to retrieve sync status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePosts(c *gin.Context) {
	limit := queryInt(c, "limit", defaultLimit, 1)
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := queryInt(c, "offset", 0, 0)

	posts, err := s.storage.GetPosts(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to retrieve posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":  posts,
		"count":  len(posts),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handlePostByRecordID(c *gin.Context) {
	post, err := s.storage.GetPostByRecordID(c.Request.Context(), c.Param("recordID"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to retrieve post", "record_id", c.Param("recordID"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve post"})
		return
	}
	c.JSON(http.StatusOK, post)
}

// queryInt reads an integer query parameter, falling back to def when it is
// missing, malformed or below floor.
func queryInt(c *gin.Context, key string, def, floor int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < floor {
		return def
	}
	return v
}
