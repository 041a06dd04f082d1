package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"basecamp/deduplication"
	"basecamp/leadstore"
	"basecamp/types"
)

// Processor is the intake pipeline surface the controllers call.
type Processor interface {
	ProcessLead(ctx context.Context, input *types.LeadInput) (*types.Lead, *deduplication.Verdict, error)
	EnrichAndSync(ctx context.Context, lead *types.Lead)
	CheckSimilar(ctx context.Context, text, scope string, threshold float32, limit int) ([]deduplication.Candidate, error)
	SimilarToLead(ctx context.Context, lead *types.Lead, threshold float32, limit int) ([]deduplication.Candidate, error)
}

// Exporter snapshots the lead corpus to object storage.
type Exporter interface {
	Export(ctx context.Context, leads []*types.Lead) (string, error)
}

// Server bundles the API's collaborators. Store, Index, and Exporter may be
// nil; the corresponding endpoints report unavailability.
type Server struct {
	processor Processor
	store     *leadstore.Store
	index     deduplication.VectorIndex
	exporter  Exporter
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Processor Processor
	Store     *leadstore.Store
	Index     deduplication.VectorIndex
	Exporter  Exporter
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		processor: cfg.Processor,
		store:     cfg.Store,
		index:     cfg.Index,
		exporter:  cfg.Exporter,
	}
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; logger optional to reduce verbosity
	r.Use(gin.Recovery())

	s.RegisterIntakeRoutes(r)
	s.RegisterLeadRoutes(r)
	s.RegisterHealthRoutes(r)
	return r
}
