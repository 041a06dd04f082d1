package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"basecamp/deduplication"
	"basecamp/leadstore"
	"basecamp/types"
)

// RegisterLeadRoutes registers the stored-lead read and admin endpoints.
func (s *Server) RegisterLeadRoutes(r *gin.Engine) {
	g := r.Group("/api/v1/leads")
	g.GET("", s.handleListLeads)
	g.GET("/stats", s.handleLeadStats)
	g.POST("/export", s.handleExportLeads)
	g.GET("/:id", s.handleGetLead)
	g.GET("/:id/similar", s.handleSimilarLeads)
	g.DELETE("/:id", s.handleDeleteLead)
}

func (s *Server) storeRequired(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lead store not configured"})
		return false
	}
	return true
}

// handleListLeads returns stored leads newest first, with optional status and
// classification filters and limit/offset paging.
func (s *Server) handleListLeads(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}

	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	leads, err := s.store.List(leadstore.ListFilter{
		Status:         types.LeadStatus(c.Query("status")),
		Classification: c.Query("classification"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leads": leadSummaries(leads),
		"count": len(leads),
	})
}

// LeadSummary is the list-view shape: the embedding stays out of responses.
type LeadSummary struct {
	ID             string            `json:"id"`
	Message        string            `json:"message"`
	Contact        types.ContactInfo `json:"contact"`
	BusinessScope  string            `json:"business_scope,omitempty"`
	Source         string            `json:"source,omitempty"`
	ReceivedAt     string            `json:"received_at"`
	Status         types.LeadStatus  `json:"status"`
	Classification string            `json:"classification,omitempty"`
	MatchedLeadID  string            `json:"matched_lead_id,omitempty"`
	Analysis       *types.AIAnalysis `json:"analysis,omitempty"`
}

func leadSummary(lead *types.Lead) LeadSummary {
	return LeadSummary{
		ID:             lead.ID,
		Message:        lead.Message,
		Contact:        lead.Contact,
		BusinessScope:  lead.BusinessScope,
		Source:         lead.Source,
		ReceivedAt:     lead.ReceivedAt.Format(time.RFC3339),
		Status:         lead.Status,
		Classification: lead.Classification,
		MatchedLeadID:  lead.MatchedLeadID,
		Analysis:       lead.Analysis,
	}
}

func leadSummaries(leads []*types.Lead) []LeadSummary {
	out := make([]LeadSummary, len(leads))
	for i, lead := range leads {
		out[i] = leadSummary(lead)
	}
	return out
}

// handleGetLead returns one stored lead.
func (s *Server) handleGetLead(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}

	lead, err := s.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, leadstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, leadSummary(lead))
}

// handleSimilarLeads returns neighbors of a stored lead, excluding itself.
func (s *Server) handleSimilarLeads(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}

	lead, err := s.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, leadstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	limit, err := intQuery(c, "limit", deduplication.DefaultMaxCandidates)
	if err != nil || limit <= 0 || limit > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 50"})
		return
	}

	candidates, err := s.processor.SimilarToLead(c.Request.Context(), lead, deduplication.DefaultSimilarityThreshold, limit)
	if err != nil {
		intakeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lead_id":    lead.ID,
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// handleDeleteLead removes a lead from the store and the vector index.
// Administrative use only.
func (s *Server) handleDeleteLead(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}
	id := c.Param("id")

	if s.index != nil {
		if err := s.index.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove from index: " + err.Error()})
			return
		}
	}
	if err := s.store.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "lead_id": id})
}

// handleLeadStats summarizes the stored corpus.
func (s *Server) handleLeadStats(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}

	stats, err := s.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleExportLeads snapshots the corpus to object storage and returns the
// object key.
func (s *Server) handleExportLeads(c *gin.Context) {
	if !s.storeRequired(c) {
		return
	}
	if s.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exporter not configured"})
		return
	}

	leads, err := s.store.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	key, err := s.exporter.Export(c.Request.Context(), leads)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "exported", "key": key, "count": len(leads)})
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
