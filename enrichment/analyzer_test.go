package enrichment

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basecamp/types"
)

type fakeChat struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func newTestAnalyzer(chat *fakeChat, businessType string) *Analyzer {
	return &Analyzer{client: chat, model: "test-model", businessType: businessType}
}

func TestAnalyzeParsesModelResponse(t *testing.T) {
	chat := &fakeChat{content: "```json\n" + `{
		"intent": "quote_request",
		"intent_confidence": 0.9,
		"urgency": "high",
		"urgency_confidence": 0.8,
		"entities": {"services": ["brake repair"]},
		"quality_score": 85,
		"summary": "Customer wants a brake repair quote"
	}` + "\n```"}
	analyzer := newTestAnalyzer(chat, "automotive")

	lead := &types.Lead{
		ID:      "lead-1",
		Message: "How much for brake repair on a 2018 Civic?",
		Contact: types.ContactInfo{Email: "alice@x.com"},
		Source:  "web_form",
	}
	analysis := analyzer.Analyze(context.Background(), lead)

	require.NotNil(t, analysis)
	assert.Equal(t, "quote_request", analysis.Intent)
	assert.InDelta(t, 0.9, analysis.IntentConfidence, 1e-9)
	assert.Equal(t, "high", analysis.Urgency)
	assert.Equal(t, 85, analysis.QualityScore)
	assert.Equal(t, "Customer wants a brake repair quote", analysis.Reasoning)
	assert.Equal(t, "test-model", analysis.Model)

	// Business-type template and lead details reach the model.
	require.Len(t, chat.lastReq.Messages, 2)
	assert.Contains(t, chat.lastReq.Messages[0].Content, "automotive")
	assert.Contains(t, chat.lastReq.Messages[1].Content, lead.Message)
	assert.Contains(t, chat.lastReq.Messages[1].Content, "alice@x.com")
}

func TestAnalyzeClampsAndNormalizes(t *testing.T) {
	chat := &fakeChat{content: `{
		"intent": "purchase",
		"intent_confidence": 1.7,
		"urgency": "catastrophic",
		"urgency_confidence": -0.5,
		"quality_score": 400
	}`}
	analyzer := newTestAnalyzer(chat, "general")

	analysis := analyzer.Analyze(context.Background(), &types.Lead{ID: "lead-1", Message: "hi"})

	assert.Equal(t, IntentGeneral, analysis.Intent)
	assert.Equal(t, 1.0, analysis.IntentConfidence)
	assert.Equal(t, UrgencyMedium, analysis.Urgency)
	assert.Equal(t, 0.0, analysis.UrgencyConfidence)
	assert.Equal(t, 100, analysis.QualityScore)
}

func TestAnalyzeFallbackOnModelError(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	analyzer := newTestAnalyzer(chat, "general")

	lead := &types.Lead{
		ID:      "lead-1",
		Message: "URGENT: my car won't start, need an appointment today",
		Contact: types.ContactInfo{Phone: "5551112222"},
	}
	analysis := analyzer.Analyze(context.Background(), lead)

	require.NotNil(t, analysis)
	assert.Equal(t, IntentAppointmentRequest, analysis.Intent)
	assert.Equal(t, UrgencyHigh, analysis.Urgency)
	// 30 base + 20 urgency + 15 appointment + 25 contact method.
	assert.Equal(t, 90, analysis.QualityScore)
	assert.Equal(t, "test-model_fallback", analysis.Model)
}

func TestAnalyzeFallbackOnGarbageResponse(t *testing.T) {
	chat := &fakeChat{content: "I'm sorry, I can't help with that."}
	analyzer := newTestAnalyzer(chat, "general")

	analysis := analyzer.Analyze(context.Background(), &types.Lead{ID: "lead-1", Message: "hello"})

	require.NotNil(t, analysis)
	assert.Equal(t, IntentGeneral, analysis.Intent)
	assert.Equal(t, UrgencyMedium, analysis.Urgency)
	assert.Equal(t, 30, analysis.QualityScore)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}
