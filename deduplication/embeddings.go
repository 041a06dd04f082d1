package deduplication

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingsProvider maps text to fixed-length float vectors. For a fixed
// model the mapping is deterministic: the same text always yields the same
// vector. Implementations must return one vector per input text, in order.
type EmbeddingsProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// validateTexts rejects empty or whitespace-only inputs up front so the
// backends never see them. A single bad element fails the whole batch;
// callers that need partial success embed singly.
func validateTexts(texts []string) error {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return ErrEmptyText
		}
	}
	return nil
}

// CohereEmbeddings implements EmbeddingsProvider using the Cohere Embed v2 API.
type CohereEmbeddings struct {
	client *cohereclient.Client
	model  string
}

// NewCohereEmbeddings creates a Cohere-backed provider. An empty model selects
// embed-english-v3.0.
func NewCohereEmbeddings(apiKey, model string) *CohereEmbeddings {
	if model == "" || !strings.HasPrefix(model, "embed-") {
		model = "embed-english-v3.0"
	}
	// Force HTTP/1.1; the Cohere endpoint intermittently resets HTTP/2 streams.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbeddings{client: client, model: model}
}

func (c *CohereEmbeddings) ModelName() string { return c.model }

func (c *CohereEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *CohereEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts: texts,
			Model: c.model,
			// A single input type on both store and query sides keeps the
			// text->vector mapping deterministic across the pipeline.
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: cohere embed: %v", ErrEmbeddingUnavailable, err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, fmt.Errorf("%w: cohere embed returned no float embeddings", ErrEmbeddingUnavailable)
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

// OpenAIEmbeddings implements EmbeddingsProvider against any
// OpenAI-compatible embeddings endpoint, which includes Ollama's /v1 API
// for locally hosted models.
type OpenAIEmbeddings struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbeddings creates a provider for an OpenAI-compatible endpoint.
// baseURL may be empty for api.openai.com; an empty model selects
// text-embedding-3-small.
func NewOpenAIEmbeddings(apiKey, baseURL, model string) *OpenAIEmbeddings {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbeddings{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIEmbeddings) ModelName() string { return o.model }

func (o *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAIEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embed: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
