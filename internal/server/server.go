// Package server implements the HTTP and WebSocket surface of the media
// server: health, timer introspection, the track list, virtual-library
// registration, and the event stream
package server

import (
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/internal/loop"
	"github.com/quaver-audio/quaver/internal/scanner"
)

// Server wires the HTTP API to the event loop, library store, scanner,
// status cache, and event hub
type Server struct {
	loop    *loop.Loop
	store   *library.Store
	scanner *scanner.Scanner
	cache   *cache.Cache
	hub     *events.Hub
	started time.Time
}

// New creates the HTTP API server. The cache may be nil, in which case
// member counts are always computed from the store
func New(
	l *loop.Loop, store *library.Store, sc *scanner.Scanner,
	c *cache.Cache, hub *events.Hub,
) *Server {
	return &Server{
		loop:    l,
		store:   store,
		scanner: sc,
		cache:   c,
		hub:     hub,
		started: time.Now(),
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	router.GET("/timers", s.handleListTimers)
	router.POST("/scan", s.handleScan)
	router.GET("/ws", s.handleWebSocket)

	lib := router.Group("/library")
	{
		lib.GET("/tracks", s.listTracks)
		lib.GET("/libraries", s.listLibraries)
		lib.POST("/libraries", s.createLibrary)
		lib.GET("/libraries/:libraryID/members", s.listMembers)
		lib.DELETE("/libraries/:libraryID", s.deleteLibrary)
	}

	return router
}

func (s *Server) handleScan(c *gin.Context) {
	if err := s.scanner.RequestScan(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scan scheduled"})
}
