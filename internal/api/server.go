// Package api exposes an observability surface over the running
// engine: the set of registered media sources and basic per-source
// stats, via the gin router sol's own API server is built on.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"rtspengine/pkg/registry"
)

// Server is the admin/observability HTTP surface.
type Server struct {
	router *gin.Engine
	port   string
	reg    *registry.Registry
}

// NewServer creates an API server backed by reg.
func NewServer(port string, reg *registry.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	return &Server{
		router: router,
		port:   port,
		reg:    reg,
	}
}

// SetupRoutes configures all API routes.
func (s *Server) SetupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/sources", s.ListSourcesHandler)
	}
}

// Start starts the API server.
func (s *Server) Start() error {
	s.SetupRoutes()

	go func() {
		if err := s.router.Run(":" + s.port); err != nil {
			slog.Error("API server error", "err", err)
		}
	}()

	return nil
}

// GetRouter returns the gin router (for testing).
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
