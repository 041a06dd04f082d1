package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"basecamp/deduplication"
	"basecamp/types"
)

// LeadStore persists processed leads for the read API and export.
type LeadStore interface {
	Save(lead *types.Lead) error
	Update(lead *types.Lead) error
}

// Enricher annotates a lead with intent, urgency, and quality. Never fails:
// implementations degrade to heuristics instead of returning errors.
type Enricher interface {
	Analyze(ctx context.Context, lead *types.Lead) *types.AIAnalysis
}

// CRMSyncer pushes a lead into the CRM and returns the created record id.
type CRMSyncer interface {
	SyncLead(ctx context.Context, lead *types.Lead) (string, error)
}

// ResubmissionFilter is the advisory bloom fast path for exact resubmissions.
type ResubmissionFilter interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Add(ctx context.Context, hash string) error
}

// Pipeline runs intake end to end: validate, embed, classify, index, persist,
// then enrich and sync as a separate best-effort stage. The bloom filter and
// CRM are optional; a nil store disables persistence-dependent endpoints.
type Pipeline struct {
	embeddings deduplication.EmbeddingsProvider
	detector   *deduplication.Detector
	index      deduplication.VectorIndex
	store      LeadStore
	enricher   Enricher
	crm        CRMSyncer
	bloom      ResubmissionFilter
}

// PipelineConfig wires the pipeline's collaborators. Embeddings, Detector,
// and Index are required; the rest are optional.
type PipelineConfig struct {
	Embeddings deduplication.EmbeddingsProvider
	Detector   *deduplication.Detector
	Index      deduplication.VectorIndex
	Store      LeadStore
	Enricher   Enricher
	CRM        CRMSyncer
	Bloom      ResubmissionFilter
}

// NewPipeline assembles a pipeline from its collaborators.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		embeddings: cfg.Embeddings,
		detector:   cfg.Detector,
		index:      cfg.Index,
		store:      cfg.Store,
		enricher:   cfg.Enricher,
		crm:        cfg.CRM,
		bloom:      cfg.Bloom,
	}
}

// ProcessLead takes a raw submission through embedding, classification, and
// indexing. The verdict reflects the corpus as it stood before this lead was
// inserted; concurrent identical submissions may therefore both classify as
// novel, which a later reconciliation sweep can fold together.
func (p *Pipeline) ProcessLead(ctx context.Context, input *types.LeadInput) (*types.Lead, *deduplication.Verdict, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, nil, deduplication.ErrEmptyText
	}

	lead := &types.Lead{
		ID:            uuid.NewString(),
		Message:       input.Message,
		Contact:       input.Contact,
		BusinessScope: input.BusinessScope,
		Source:        input.Source,
		ReceivedAt:    time.Now().UTC(),
		Status:        types.StatusPending,
		TextHash:      types.HashText(input.Message),
	}

	if p.bloom != nil {
		hash := deduplication.ResubmissionHash(lead.Message, lead.Contact)
		if seen, err := p.bloom.Exists(ctx, hash); err != nil {
			log.Printf("Warning: bloom check failed, continuing: %v", err)
		} else if seen {
			// Advisory only. The vector verdict still decides; the hit just
			// flags a probable exact resubmission for the logs.
			log.Printf("Lead %s looks like an exact resubmission (bloom hit)", lead.ID)
		}
	}

	vector, err := p.embeddings.Embed(ctx, lead.Message)
	if err != nil {
		return nil, nil, fmt.Errorf("embed lead %s: %w", lead.ID, err)
	}
	lead.Embedding = vector
	lead.EmbeddingModel = p.embeddings.ModelName()

	verdict, err := p.detector.Classify(ctx, lead)
	if err != nil {
		return nil, nil, fmt.Errorf("classify lead %s: %w", lead.ID, err)
	}
	lead.Classification = string(verdict.Classification)
	lead.MatchedLeadID = verdict.MatchedLeadID

	// Once indexing starts it runs to completion even if the caller goes
	// away, so the index and store never hold half a lead.
	insertCtx := context.WithoutCancel(ctx)
	if err := p.index.Insert(insertCtx, lead.ID, lead.Embedding, deduplication.LeadMetadata(lead)); err != nil {
		return nil, nil, fmt.Errorf("index lead %s: %w", lead.ID, err)
	}

	if p.store != nil {
		if err := p.store.Save(lead); err != nil {
			return nil, nil, fmt.Errorf("store lead %s: %w", lead.ID, err)
		}
	}

	if p.bloom != nil {
		if err := p.bloom.Add(insertCtx, deduplication.ResubmissionHash(lead.Message, lead.Contact)); err != nil {
			log.Printf("Warning: bloom add failed for lead %s: %v", lead.ID, err)
		}
	}

	return lead, verdict, nil
}

// EnrichAndSync runs the post-verdict stage: model annotation, then CRM sync.
// Both are best effort; failures mark the lead but never surface to intake.
func (p *Pipeline) EnrichAndSync(ctx context.Context, lead *types.Lead) {
	if p.enricher != nil {
		lead.Analysis = p.enricher.Analyze(ctx, lead)
		lead.Status = types.StatusEnriched
		p.updateLead(lead)
	}

	if p.crm != nil {
		recordID, err := p.crm.SyncLead(ctx, lead)
		if err != nil {
			log.Printf("Warning: CRM sync failed for lead %s: %v", lead.ID, err)
			lead.Status = types.StatusFailed
			p.updateLead(lead)
			return
		}
		lead.CRMRecordID = recordID
		lead.Status = types.StatusSynced
		p.updateLead(lead)
	}
}

func (p *Pipeline) updateLead(lead *types.Lead) {
	if p.store == nil {
		return
	}
	if err := p.store.Update(lead); err != nil {
		log.Printf("Warning: failed to update lead %s: %v", lead.ID, err)
	}
}

// CheckSimilar embeds ad-hoc text and returns prior leads at or above the
// threshold, without inserting anything. Serves the exploratory search
// endpoint.
func (p *Pipeline) CheckSimilar(ctx context.Context, text, scope string, threshold float32, limit int) ([]deduplication.Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, deduplication.ErrEmptyText
	}
	vector, err := p.embeddings.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.detector.SimilarTo(ctx, vector, scope, threshold, limit)
}

// SimilarToLead returns neighbors of an already-stored lead, excluding the
// lead itself.
func (p *Pipeline) SimilarToLead(ctx context.Context, lead *types.Lead, threshold float32, limit int) ([]deduplication.Candidate, error) {
	if len(lead.Embedding) == 0 {
		return nil, fmt.Errorf("%w: lead %s has no embedding", deduplication.ErrInvalidArgument, lead.ID)
	}
	// Ask for one extra neighbor since the lead matches itself at distance 0.
	candidates, err := p.detector.SimilarTo(ctx, lead.Embedding, lead.BusinessScope, threshold, limit+1)
	if err != nil {
		return nil, err
	}
	filtered := make([]deduplication.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.LeadID == lead.ID {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}
