package deduplication

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"basecamp/types"
)

const (
	// DefaultSimilarityThreshold is the tuned operating point balancing
	// false-positive suppression against missed true duplicates. Runtime
	// configuration, not a constant of the algorithm.
	DefaultSimilarityThreshold float32 = 0.7

	// DefaultMaxCandidates is the neighbor count k. Sized generously
	// relative to expected near-duplicate cluster sizes, since a (k+1)-th
	// neighbor is invisible to classification.
	DefaultMaxCandidates = 10

	metadataMessageLimit = 500
)

// Classification is the three-way outcome of duplicate detection.
type Classification string

const (
	// ClassificationDuplicate: semantically similar to a prior lead AND from
	// the same identified person. Typically suppresses re-processing.
	ClassificationDuplicate Classification = "duplicate"
	// ClassificationSimilarOther: semantically similar but from a different
	// person. Informational only; the lead is never suppressed.
	ClassificationSimilarOther Classification = "similar_other"
	// ClassificationNovel: no sufficiently similar prior lead.
	ClassificationNovel Classification = "novel"
)

// Candidate is a prior lead surfaced by the similarity query. Transient:
// rebuilt on every query, never persisted.
type Candidate struct {
	LeadID         string            `json:"lead_id"`
	Similarity     float32           `json:"similarity"`
	Distance       float32           `json:"distance"`
	Contact        types.ContactInfo `json:"contact"`
	MessagePreview string            `json:"message_preview,omitempty"`
	ReceivedAt     time.Time         `json:"received_at,omitempty"`
}

// Verdict is the output contract of classification. Duplicate and
// similar-other are mutually exclusive; novel implies both match fields are
// empty.
type Verdict struct {
	Classification Classification `json:"classification"`
	// MatchedLeadID is set iff Classification is duplicate: the
	// highest-similarity same-person prior lead.
	MatchedLeadID string `json:"matched_lead_id,omitempty"`
	// SimilarCandidates is set iff Classification is similar_other, sorted
	// by descending similarity.
	SimilarCandidates []Candidate `json:"similar_candidates,omitempty"`
	CheckedAt         time.Time   `json:"checked_at"`
}

// Detector classifies new leads against the corpus of prior leads. It is
// read-only with respect to the index: inserting the new lead is the
// pipeline's explicit follow-up step, which is what guarantees a lead never
// matches against itself.
type Detector struct {
	index     VectorIndex
	threshold float32
	k         int
}

// DetectorConfig holds classification tuning. Zero values select defaults.
type DetectorConfig struct {
	SimilarityThreshold float32
	MaxCandidates       int
}

// NewDetector creates a detector over the given index.
func NewDetector(index VectorIndex, cfg DetectorConfig) *Detector {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MaxCandidates == 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Detector{index: index, threshold: cfg.SimilarityThreshold, k: cfg.MaxCandidates}
}

// Classify produces a duplicate verdict for a lead whose embedding is already
// populated. The caller embeds; the detector only queries and decides.
func (d *Detector) Classify(ctx context.Context, lead *types.Lead) (*Verdict, error) {
	if len(lead.Embedding) == 0 {
		return nil, fmt.Errorf("%w: lead %s has no embedding", ErrInvalidArgument, lead.ID)
	}

	checkedAt := time.Now().UTC()

	candidates, err := d.SimilarTo(ctx, lead.Embedding, lead.BusinessScope, d.threshold, d.k)
	if err != nil {
		return nil, err
	}

	var samePerson []Candidate
	var otherPerson []Candidate
	for _, c := range candidates {
		if SamePerson(lead.Contact, c.Contact) {
			samePerson = append(samePerson, c)
		} else {
			otherPerson = append(otherPerson, c)
		}
	}

	if len(samePerson) > 0 {
		// Candidates arrive sorted by descending similarity, so the first
		// same-person match is the one to surface.
		best := samePerson[0]
		log.Printf("Lead %s is a duplicate of %s (%.2f%% similarity)",
			lead.ID, best.LeadID, best.Similarity*100)
		return &Verdict{
			Classification: ClassificationDuplicate,
			MatchedLeadID:  best.LeadID,
			CheckedAt:      checkedAt,
		}, nil
	}

	if len(otherPerson) > 0 {
		return &Verdict{
			Classification:    ClassificationSimilarOther,
			SimilarCandidates: otherPerson,
			CheckedAt:         checkedAt,
		}, nil
	}

	return &Verdict{Classification: ClassificationNovel, CheckedAt: checkedAt}, nil
}

// SimilarTo queries the index for neighbors of the vector within the business
// scope and keeps those at or above the threshold (the boundary is
// inclusive), sorted by descending similarity.
func (d *Detector) SimilarTo(ctx context.Context, vector []float32, scope string, threshold float32, k int) ([]Candidate, error) {
	var where map[string]any
	if scope != "" {
		where = map[string]any{"business_scope": scope}
	}

	matches, err := d.index.Query(ctx, vector, k, where)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		similarity := 1.0 - m.Distance
		if similarity < threshold {
			continue
		}
		candidates = append(candidates, candidateFromMatch(m, similarity))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	return candidates, nil
}

func candidateFromMatch(m QueryMatch, similarity float32) Candidate {
	c := Candidate{
		LeadID:     m.ID,
		Similarity: similarity,
		Distance:   m.Distance,
	}
	if m.Metadata == nil {
		return c
	}
	c.Contact = types.ContactInfo{
		Name:  stringField(m.Metadata, "contact_name"),
		Email: stringField(m.Metadata, "contact_email"),
		Phone: stringField(m.Metadata, "contact_phone"),
	}
	c.MessagePreview = stringField(m.Metadata, "message")
	if ts := stringField(m.Metadata, "received_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			c.ReceivedAt = parsed
		}
	}
	return c
}

// LeadMetadata builds the metadata stored alongside a lead's vector. The
// contact fields must round-trip through candidateFromMatch so identity
// matching sees the same signals on both sides of a comparison.
func LeadMetadata(lead *types.Lead) map[string]any {
	message := lead.Message
	if len(message) > metadataMessageLimit {
		message = message[:metadataMessageLimit]
	}

	metadata := map[string]any{
		"lead_id":     lead.ID,
		"message":     message,
		"received_at": lead.ReceivedAt.UTC().Format(time.RFC3339),
		"text_hash":   lead.TextHash,
	}
	if lead.Source != "" {
		metadata["source"] = lead.Source
	}
	if lead.BusinessScope != "" {
		metadata["business_scope"] = lead.BusinessScope
	}
	if lead.Contact.Name != "" {
		metadata["contact_name"] = lead.Contact.Name
	}
	if lead.Contact.Email != "" {
		metadata["contact_email"] = lead.Contact.Email
	}
	if lead.Contact.Phone != "" {
		metadata["contact_phone"] = lead.Contact.Phone
	}
	if lead.Contact.Company != "" {
		metadata["company"] = lead.Contact.Company
	}
	if lead.Analysis != nil {
		metadata["intent"] = lead.Analysis.Intent
		metadata["urgency"] = lead.Analysis.Urgency
		metadata["quality_score"] = lead.Analysis.QualityScore
	}
	return metadata
}

func stringField(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
