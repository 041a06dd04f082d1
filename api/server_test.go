package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basecamp/deduplication"
	"basecamp/leadstore"
	"basecamp/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	processErr error
	candidates []deduplication.Candidate
	similarErr error
	enriched   chan string
}

func (f *fakeProcessor) ProcessLead(ctx context.Context, input *types.LeadInput) (*types.Lead, *deduplication.Verdict, error) {
	if f.processErr != nil {
		return nil, nil, f.processErr
	}
	lead := &types.Lead{
		ID:         "lead-123",
		Message:    input.Message,
		Contact:    input.Contact,
		ReceivedAt: time.Now().UTC(),
		Status:     types.StatusPending,
	}
	return lead, &deduplication.Verdict{
		Classification: deduplication.ClassificationNovel,
		CheckedAt:      time.Now().UTC(),
	}, nil
}

func (f *fakeProcessor) EnrichAndSync(ctx context.Context, lead *types.Lead) {
	if f.enriched != nil {
		f.enriched <- lead.ID
	}
}

func (f *fakeProcessor) CheckSimilar(ctx context.Context, text, scope string, threshold float32, limit int) ([]deduplication.Candidate, error) {
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return f.candidates, nil
}

func (f *fakeProcessor) SimilarToLead(ctx context.Context, lead *types.Lead, threshold float32, limit int) ([]deduplication.Candidate, error) {
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return f.candidates, nil
}

type fakeIndex struct {
	count   int
	deleted []string
	err     error
}

func (f *fakeIndex) Insert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, k int, where map[string]any) ([]deduplication.QueryMatch, error) {
	return nil, nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeIndex) Count(ctx context.Context) (int, error) {
	return f.count, f.err
}

func (f *fakeIndex) Close() error { return nil }

type fakeExporter struct {
	key string
	err error
}

func (f *fakeExporter) Export(ctx context.Context, leads []*types.Lead) (string, error) {
	return f.key, f.err
}

func newTestRouter(t *testing.T, processor *fakeProcessor) (*gin.Engine, *leadstore.Store) {
	t.Helper()
	store, err := leadstore.New(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := NewServer(ServerConfig{
		Processor: processor,
		Store:     store,
		Index:     &fakeIndex{count: 3},
		Exporter:  &fakeExporter{key: "exports/leads-test.jsonl"},
	})
	return NewRouter(server), store
}

func doJSON(router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitLead(t *testing.T) {
	processor := &fakeProcessor{enriched: make(chan string, 1)}
	router, _ := newTestRouter(t, processor)

	w := doJSON(router, http.MethodPost, "/api/v1/intake", types.LeadInput{
		Message: "need an oil change",
		Contact: types.ContactInfo{Email: "alice@x.com"},
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp SubmitLeadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lead-123", resp.LeadID)
	assert.Equal(t, "novel", resp.Classification)

	select {
	case id := <-processor.enriched:
		assert.Equal(t, "lead-123", id)
	case <-time.After(time.Second):
		t.Fatal("enrichment was not kicked off")
	}
}

func TestSubmitLeadValidation(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProcessor{})

	w := doJSON(router, http.MethodPost, "/api/v1/intake", map[string]any{
		"contact": map[string]string{"email": "alice@x.com"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitLeadBackendOutageIs503(t *testing.T) {
	processor := &fakeProcessor{
		processErr: fmt.Errorf("embed: %w", deduplication.ErrEmbeddingUnavailable),
	}
	router, _ := newTestRouter(t, processor)

	w := doJSON(router, http.MethodPost, "/api/v1/intake", types.LeadInput{Message: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitBatchSizeLimit(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProcessor{})

	leads := make([]types.LeadInput, 51)
	for i := range leads {
		leads[i] = types.LeadInput{Message: fmt.Sprintf("lead %d", i)}
	}
	w := doJSON(router, http.MethodPost, "/api/v1/intake/batch", BatchSubmitRequest{Leads: leads})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/intake/batch", BatchSubmitRequest{Leads: leads[:2]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []BatchItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
}

func TestBatchReportsPerLeadErrors(t *testing.T) {
	// Processing fails for every lead; each item carries its own error while
	// the batch call itself succeeds.
	processor := &fakeProcessor{processErr: deduplication.ErrEmptyText}
	router, _ := newTestRouter(t, processor)

	w := doJSON(router, http.MethodPost, "/api/v1/intake/batch", BatchSubmitRequest{
		Leads: []types.LeadInput{{Message: " "}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []BatchItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.NotEmpty(t, resp.Results[0].Error)
	assert.Nil(t, resp.Results[0].Result)
}

func TestCheckSimilarValidation(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProcessor{})

	w := doJSON(router, http.MethodPost, "/api/v1/intake/check-similar", CheckSimilarRequest{
		Text:      "oil change",
		Threshold: 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/intake/check-similar", CheckSimilarRequest{
		Text:  "oil change",
		Limit: 51,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckSimilar(t *testing.T) {
	processor := &fakeProcessor{
		candidates: []deduplication.Candidate{
			{LeadID: "lead-9", Similarity: 0.91},
		},
	}
	router, _ := newTestRouter(t, processor)

	w := doJSON(router, http.MethodPost, "/api/v1/intake/check-similar", CheckSimilarRequest{Text: "oil change"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Candidates []deduplication.Candidate `json:"candidates"`
		Count      int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "lead-9", resp.Candidates[0].LeadID)
}

func TestLeadReadEndpoints(t *testing.T) {
	router, store := newTestRouter(t, &fakeProcessor{})

	lead := &types.Lead{
		ID:             "lead-1",
		Message:        "need an oil change",
		Contact:        types.ContactInfo{Email: "alice@x.com"},
		ReceivedAt:     time.Now().UTC(),
		Status:         types.StatusEnriched,
		Classification: "novel",
		Embedding:      []float32{0.1, 0.2},
	}
	require.NoError(t, store.Save(lead))

	w := doJSON(router, http.MethodGet, "/api/v1/leads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Leads []LeadSummary `json:"leads"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Equal(t, 1, listResp.Count)
	assert.Equal(t, "lead-1", listResp.Leads[0].ID)
	assert.NotContains(t, w.Body.String(), "embedding")

	w = doJSON(router, http.MethodGet, "/api/v1/leads/lead-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/leads/absent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/leads/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats leadstore.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
}

func TestSimilarLeadsEndpoint(t *testing.T) {
	processor := &fakeProcessor{
		candidates: []deduplication.Candidate{{LeadID: "lead-2", Similarity: 0.88}},
	}
	router, store := newTestRouter(t, processor)

	require.NoError(t, store.Save(&types.Lead{
		ID:         "lead-1",
		Message:    "oil change",
		ReceivedAt: time.Now().UTC(),
		Embedding:  []float32{1, 0},
	}))

	w := doJSON(router, http.MethodGet, "/api/v1/leads/lead-1/similar", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Candidates []deduplication.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "lead-2", resp.Candidates[0].LeadID)
}

func TestDeleteLeadRemovesFromIndexAndStore(t *testing.T) {
	store, err := leadstore.New(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := &fakeIndex{}
	server := NewServer(ServerConfig{Processor: &fakeProcessor{}, Store: store, Index: index})
	router := NewRouter(server)

	require.NoError(t, store.Save(&types.Lead{ID: "lead-1", Message: "hi", ReceivedAt: time.Now().UTC()}))

	w := doJSON(router, http.MethodDelete, "/api/v1/leads/lead-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"lead-1"}, index.deleted)

	w = doJSON(router, http.MethodGet, "/api/v1/leads/lead-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportLeads(t *testing.T) {
	router, store := newTestRouter(t, &fakeProcessor{})
	require.NoError(t, store.Save(&types.Lead{ID: "lead-1", Message: "hi", ReceivedAt: time.Now().UTC()}))

	w := doJSON(router, http.MethodPost, "/api/v1/leads/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Key   string `json:"key"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "exports/leads-test.jsonl", resp.Key)
	assert.Equal(t, 1, resp.Count)
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProcessor{})

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/intake/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status       string `json:"status"`
		IndexedLeads int    `json:"indexed_leads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 3, resp.IndexedLeads)
}
