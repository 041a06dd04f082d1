package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"basecamp/deduplication"
	"basecamp/types"
)

// maxBatchSize caps one batch submission.
const maxBatchSize = 50

// RegisterIntakeRoutes registers lead intake endpoints.
func (s *Server) RegisterIntakeRoutes(r *gin.Engine) {
	g := r.Group("/api/v1/intake")
	g.POST("", s.handleSubmitLead)
	g.POST("/batch", s.handleSubmitBatch)
	g.POST("/check-similar", s.handleCheckSimilar)
	g.GET("/health", s.handleIntakeHealth)
}

// SubmitLeadResponse is returned for each accepted lead.
type SubmitLeadResponse struct {
	LeadID            string                    `json:"lead_id"`
	Classification    string                    `json:"classification"`
	MatchedLeadID     string                    `json:"matched_lead_id,omitempty"`
	SimilarCandidates []deduplication.Candidate `json:"similar_candidates,omitempty"`
	CheckedAt         time.Time                 `json:"checked_at"`
}

// CheckSimilarRequest asks for neighbors of ad-hoc text without submitting a
// lead. Threshold and Limit are optional; zero selects the defaults.
type CheckSimilarRequest struct {
	Text          string  `json:"text" binding:"required"`
	BusinessScope string  `json:"business_scope,omitempty"`
	Threshold     float32 `json:"threshold,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

// intakeError maps pipeline failures onto HTTP statuses. Validation problems
// are the caller's fault; backend outages are 503 so clients know to retry.
func intakeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deduplication.ErrEmptyText), errors.Is(err, deduplication.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, deduplication.ErrEmbeddingUnavailable), errors.Is(err, deduplication.ErrIndex):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func submitResponse(lead *types.Lead, verdict *deduplication.Verdict) SubmitLeadResponse {
	return SubmitLeadResponse{
		LeadID:            lead.ID,
		Classification:    string(verdict.Classification),
		MatchedLeadID:     verdict.MatchedLeadID,
		SimilarCandidates: verdict.SimilarCandidates,
		CheckedAt:         verdict.CheckedAt,
	}
}

// handleSubmitLead accepts a single lead, classifies it, and kicks off
// enrichment in the background.
func (s *Server) handleSubmitLead(c *gin.Context) {
	var input types.LeadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, verdict, err := s.processor.ProcessLead(c.Request.Context(), &input)
	if err != nil {
		intakeError(c, err)
		return
	}

	go s.processor.EnrichAndSync(context.WithoutCancel(c.Request.Context()), lead)

	c.JSON(http.StatusCreated, submitResponse(lead, verdict))
}

// BatchSubmitRequest carries up to maxBatchSize leads.
type BatchSubmitRequest struct {
	Leads []types.LeadInput `json:"leads" binding:"required"`
}

// BatchItemResult is the per-lead outcome inside a batch response.
type BatchItemResult struct {
	Index  int                 `json:"index"`
	Result *SubmitLeadResponse `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// handleSubmitBatch processes leads sequentially so earlier leads in the
// batch participate in the verdicts of later ones.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req BatchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Leads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "leads must not be empty"})
		return
	}
	if len(req.Leads) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch exceeds maximum of 50 leads"})
		return
	}

	results := make([]BatchItemResult, 0, len(req.Leads))
	for i := range req.Leads {
		lead, verdict, err := s.processor.ProcessLead(c.Request.Context(), &req.Leads[i])
		if err != nil {
			results = append(results, BatchItemResult{Index: i, Error: err.Error()})
			continue
		}
		go s.processor.EnrichAndSync(context.WithoutCancel(c.Request.Context()), lead)
		resp := submitResponse(lead, verdict)
		results = append(results, BatchItemResult{Index: i, Result: &resp})
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleCheckSimilar runs an exploratory similarity query without inserting.
func (s *Server) handleCheckSimilar(c *gin.Context) {
	var req CheckSimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0 and 1"})
		return
	}
	if req.Limit < 0 || req.Limit > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 50"})
		return
	}
	if req.Threshold == 0 {
		req.Threshold = deduplication.DefaultSimilarityThreshold
	}
	if req.Limit == 0 {
		req.Limit = deduplication.DefaultMaxCandidates
	}

	candidates, err := s.processor.CheckSimilar(c.Request.Context(), req.Text, req.BusinessScope, req.Threshold, req.Limit)
	if err != nil {
		intakeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// handleIntakeHealth reports vector index connectivity and corpus size.
func (s *Server) handleIntakeHealth(c *gin.Context) {
	if s.index == nil {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "index": "not configured"})
		return
	}
	count, err := s.index.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "indexed_leads": count})
}
