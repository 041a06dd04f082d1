package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// LeadStatus tracks a lead through the intake pipeline.
type LeadStatus string

const (
	StatusPending    LeadStatus = "pending"
	StatusProcessing LeadStatus = "processing"
	StatusEnriched   LeadStatus = "enriched"
	StatusSynced     LeadStatus = "synced"
	StatusFailed     LeadStatus = "failed"
)

// ContactInfo identifies the person behind a lead. All fields are optional
// individually; intake validation requires at least one to be set.
type ContactInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
}

// HasContactMethod reports whether any identifying field is populated.
func (c ContactInfo) HasContactMethod() bool {
	return strings.TrimSpace(c.Name) != "" ||
		strings.TrimSpace(c.Email) != "" ||
		strings.TrimSpace(c.Phone) != ""
}

// LeadInput is the raw submission accepted from forms, chat widgets,
// the Kafka topic, or direct API calls.
type LeadInput struct {
	Message       string      `json:"message" binding:"required"`
	Contact       ContactInfo `json:"contact"`
	BusinessScope string      `json:"business_scope,omitempty"`
	Source        string      `json:"source,omitempty"`
}

// AIAnalysis holds the enrichment annotations produced after classification.
// The duplicate-detection core never reads these.
type AIAnalysis struct {
	Intent            string         `json:"intent"`
	IntentConfidence  float64        `json:"intent_confidence"`
	Urgency           string         `json:"urgency"`
	UrgencyConfidence float64        `json:"urgency_confidence"`
	QualityScore      int            `json:"quality_score"`
	Entities          map[string]any `json:"entities,omitempty"`
	Reasoning         string         `json:"reasoning,omitempty"`
	Model             string         `json:"model,omitempty"`
	ProcessingMS      int64          `json:"processing_ms,omitempty"`
}

// Lead is the durable record of a processed inquiry. Leads are immutable once
// embedded: reprocessing creates a new Lead with a fresh ID, never an edit.
// Only pipeline bookkeeping (status, analysis, CRM record) is updated in place.
type Lead struct {
	ID             string      `json:"id"`
	Message        string      `json:"message"`
	Contact        ContactInfo `json:"contact"`
	BusinessScope  string      `json:"business_scope,omitempty"`
	Source         string      `json:"source,omitempty"`
	ReceivedAt     time.Time   `json:"received_at"`
	Status         LeadStatus  `json:"status"`
	Embedding      []float32   `json:"embedding,omitempty"`
	EmbeddingModel string      `json:"embedding_model,omitempty"`
	TextHash       string      `json:"text_hash,omitempty"`

	// Verdict bookkeeping, set once by the pipeline after classification.
	Classification string `json:"classification,omitempty"`
	MatchedLeadID  string `json:"matched_lead_id,omitempty"`

	Analysis    *AIAnalysis `json:"analysis,omitempty"`
	CRMRecordID string      `json:"crm_record_id,omitempty"`
}

// HashText returns a stable hash of the normalized message text, used for
// exact-resubmission detection and change tracking.
func HashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
