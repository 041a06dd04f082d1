package deduplication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// VectorIndex is the persistent nearest-neighbor store behind duplicate
// detection. Vectors are supplied by the caller; the index never embeds.
//
// Contract:
//   - Insert fails with ErrDuplicateID for an already-used id and never
//     silently overwrites (leads are immutable once indexed).
//   - Query returns matches ordered by ascending distance, at most k of
//     them; an empty index yields an empty result, not an error.
//   - Any transport or storage failure wraps ErrIndex.
type VectorIndex interface {
	Insert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Query(ctx context.Context, vector []float32, k int, where map[string]any) ([]QueryMatch, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// QueryMatch is one nearest-neighbor result. Distance is cosine distance;
// similarity = 1 - distance.
type QueryMatch struct {
	ID       string
	Distance float32
	Document string
	Metadata map[string]any
}

// Chroma wraps the Chroma v2 REST API as a VectorIndex.
type Chroma struct {
	baseURL        string
	tenant         string
	database       string
	collectionName string
	collectionID   string
	httpClient     *http.Client
}

// ChromaConfig holds connection settings for the Chroma server.
type ChromaConfig struct {
	Host           string
	Port           int
	CollectionName string
}

// NewChroma connects to the Chroma server and gets or creates the collection.
func NewChroma(config ChromaConfig) (*Chroma, error) {
	c := &Chroma{
		baseURL:        fmt.Sprintf("http://%s:%d/api/v2", config.Host, config.Port),
		tenant:         "default_tenant",
		database:       "default_database",
		collectionName: config.CollectionName,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}

	collectionID, err := c.getOrCreateCollection(config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create collection: %v", ErrIndex, err)
	}
	c.collectionID = collectionID
	return c, nil
}

func (c *Chroma) getOrCreateCollection(name string) (string, error) {
	url := fmt.Sprintf("%s/tenants/%s/databases/%s/collections/%s", c.baseURL, c.tenant, c.database, name)
	resp, err := c.httpClient.Get(url)
	if err == nil && resp.StatusCode == http.StatusOK {
		defer resp.Body.Close()
		var result map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", err
		}
		id, ok := result["id"].(string)
		if !ok {
			return "", fmt.Errorf("collection response missing id")
		}
		log.Printf("Using existing collection: %s", name)
		return id, nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	log.Printf("Creating new collection: %s", name)
	createURL := fmt.Sprintf("%s/tenants/%s/databases/%s/collections", c.baseURL, c.tenant, c.database)
	payload := map[string]any{
		"name": name,
		"metadata": map[string]any{
			"description": "lead embeddings for similarity search and deduplication",
		},
		"get_or_create": true,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err = c.httpClient.Post(createURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to create collection (status %d): %s", resp.StatusCode, string(body))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse collection response: %w", err)
	}
	id, ok := result["id"].(string)
	if !ok {
		return "", fmt.Errorf("collection response missing id")
	}
	return id, nil
}

func (c *Chroma) collectionURL() string {
	return fmt.Sprintf("%s/tenants/%s/databases/%s/collections/%s", c.baseURL, c.tenant, c.database, c.collectionID)
}

func (c *Chroma) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// Insert adds a vector with metadata under a unique id. An existing id fails
// with ErrDuplicateID; replacement is never implicit.
func (c *Chroma) Insert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if id == "" || len(vector) == 0 {
		return fmt.Errorf("%w: insert requires id and vector", ErrInvalidArgument)
	}

	existing, err := c.getIDs(ctx, id)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	document, _ := metadata["message"].(string)
	payload := map[string]any{
		"ids":        []string{id},
		"embeddings": [][]float32{vector},
		"metadatas":  []map[string]any{metadata},
		"documents":  []string{document},
	}

	resp, err := c.post(ctx, fmt.Sprintf("%s/add", c.collectionURL()), payload)
	if err != nil {
		return fmt.Errorf("%w: add document: %v", ErrIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: add document (status %d): %s", ErrIndex, resp.StatusCode, string(body))
	}
	return nil
}

// Query returns up to k nearest neighbors for the vector, most similar first,
// optionally filtered by a Chroma "where" clause on metadata.
func (c *Chroma) Query(ctx context.Context, vector []float32, k int, where map[string]any) ([]QueryMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query requires a vector", ErrInvalidArgument)
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        k,
		"include":          []string{"metadatas", "documents", "distances"},
	}
	if len(where) > 0 {
		payload["where"] = where
	}

	resp, err := c.post(ctx, fmt.Sprintf("%s/query", c.collectionURL()), payload)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: query (status %d): %s", ErrIndex, resp.StatusCode, string(body))
	}

	var result struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float32        `json:"distances"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Documents [][]string         `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode query response: %v", ErrIndex, err)
	}

	if len(result.IDs) == 0 {
		return nil, nil
	}

	matches := make([]QueryMatch, 0, len(result.IDs[0]))
	for i, id := range result.IDs[0] {
		m := QueryMatch{ID: id}
		if len(result.Distances) > 0 && len(result.Distances[0]) > i {
			m.Distance = result.Distances[0][i]
		}
		if len(result.Metadatas) > 0 && len(result.Metadatas[0]) > i {
			m.Metadata = result.Metadatas[0][i]
		}
		if len(result.Documents) > 0 && len(result.Documents[0]) > i {
			m.Document = result.Documents[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// getIDs returns which of the given ids exist in the collection.
func (c *Chroma) getIDs(ctx context.Context, ids ...string) ([]string, error) {
	payload := map[string]any{"ids": ids}
	resp, err := c.post(ctx, fmt.Sprintf("%s/get", c.collectionURL()), payload)
	if err != nil {
		return nil, fmt.Errorf("%w: get documents: %v", ErrIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: get documents (status %d): %s", ErrIndex, resp.StatusCode, string(body))
	}

	var result struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode get response: %v", ErrIndex, err)
	}
	return result.IDs, nil
}

// Delete removes a document by id. Administrative use only; the core pipeline
// never deletes.
func (c *Chroma) Delete(ctx context.Context, id string) error {
	payload := map[string]any{"ids": []string{id}}
	resp, err := c.post(ctx, fmt.Sprintf("%s/delete", c.collectionURL()), payload)
	if err != nil {
		return fmt.Errorf("%w: delete document: %v", ErrIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: delete document (status %d): %s", ErrIndex, resp.StatusCode, string(body))
	}
	return nil
}

// Count returns the number of documents in the collection.
func (c *Chroma) Count(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/count", c.collectionURL()), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: count (status %d): %s", ErrIndex, resp.StatusCode, string(body))
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("%w: decode count: %v", ErrIndex, err)
	}
	return count, nil
}

// Close is a no-op; the REST client holds no persistent connection state.
func (c *Chroma) Close() error {
	return nil
}
