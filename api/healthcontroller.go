package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHealthRoutes registers the service-level health endpoint.
func (s *Server) RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
}

// handleHealth reports liveness. Dependency health lives under
// /api/v1/intake/health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
