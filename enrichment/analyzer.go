package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"basecamp/types"
)

// Intent categories the analyzer may assign. Unknown model output falls back
// to IntentGeneral.
const (
	IntentInquiry            = "inquiry"
	IntentAppointmentRequest = "appointment_request"
	IntentQuoteRequest       = "quote_request"
	IntentSupport            = "support"
	IntentComplaint          = "complaint"
	IntentGeneral            = "general"
)

// Urgency levels. Unknown model output falls back to UrgencyMedium.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
	UrgencyUrgent = "urgent"
)

// chatCompleter is the slice of the OpenAI client the analyzer needs.
// Satisfied by *openai.Client and by test fakes.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer annotates leads with intent, urgency, and a quality score using a
// chat model behind any OpenAI-compatible endpoint, including Ollama's /v1
// API. Enrichment is strictly post-verdict: classification never waits on it
// and never reads its output.
type Analyzer struct {
	client       chatCompleter
	model        string
	businessType string
}

// Config holds analyzer settings. BaseURL may be empty for api.openai.com;
// BusinessType selects the prompt template and defaults to "general".
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	BusinessType string
}

// NewAnalyzer creates an analyzer for the configured endpoint.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.BusinessType == "" {
		cfg.BusinessType = "general"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Analyzer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		businessType: cfg.BusinessType,
	}
}

// analysisResponse is the JSON shape the model is instructed to return.
type analysisResponse struct {
	Intent            string         `json:"intent"`
	IntentConfidence  float64        `json:"intent_confidence"`
	Urgency           string         `json:"urgency"`
	UrgencyConfidence float64        `json:"urgency_confidence"`
	Entities          map[string]any `json:"entities"`
	QualityScore      int            `json:"quality_score"`
	Summary           string         `json:"summary"`
}

// Analyze annotates a lead. A model failure never propagates: the analyzer
// logs it and returns a keyword-heuristic fallback so the pipeline always has
// an annotation to record.
func (a *Analyzer) Analyze(ctx context.Context, lead *types.Lead) *types.AIAnalysis {
	start := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(a.businessType)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(lead)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		log.Printf("Warning: lead analysis failed for %s: %v", lead.ID, err)
		return a.fallback(lead, start)
	}
	if len(resp.Choices) == 0 {
		log.Printf("Warning: lead analysis for %s returned no choices", lead.ID)
		return a.fallback(lead, start)
	}

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Choices[0].Message.Content)), &parsed); err != nil {
		log.Printf("Warning: unparseable analysis for lead %s: %v", lead.ID, err)
		return a.fallback(lead, start)
	}

	model := resp.Model
	if model == "" {
		model = a.model
	}
	return &types.AIAnalysis{
		Intent:            normalizeIntent(parsed.Intent),
		IntentConfidence:  clamp01(parsed.IntentConfidence),
		Urgency:           normalizeUrgency(parsed.Urgency),
		UrgencyConfidence: clamp01(parsed.UrgencyConfidence),
		QualityScore:      clampScore(parsed.QualityScore),
		Entities:          parsed.Entities,
		Reasoning:         parsed.Summary,
		Model:             model,
		ProcessingMS:      time.Since(start).Milliseconds(),
	}
}

// fallback produces a keyword-heuristic annotation when the model is
// unavailable or returns garbage.
func (a *Analyzer) fallback(lead *types.Lead, start time.Time) *types.AIAnalysis {
	message := strings.ToLower(lead.Message)
	intent := IntentGeneral
	urgency := UrgencyMedium
	score := 30

	for _, kw := range []string{"urgent", "emergency", "asap", "immediately", "broken", "won't start"} {
		if strings.Contains(message, kw) {
			urgency = UrgencyHigh
			score += 20
			break
		}
	}
	for _, kw := range []string{"appointment", "schedule", "book", "meeting"} {
		if strings.Contains(message, kw) {
			intent = IntentAppointmentRequest
			score += 15
			break
		}
	}
	if lead.Contact.HasContactMethod() {
		score += 25
	}

	return &types.AIAnalysis{
		Intent:            intent,
		IntentConfidence:  0.3,
		Urgency:           urgency,
		UrgencyConfidence: 0.3,
		QualityScore:      clampScore(score),
		Reasoning:         "keyword fallback; model analysis unavailable",
		Model:             a.model + "_fallback",
		ProcessingMS:      time.Since(start).Milliseconds(),
	}
}

func userPrompt(lead *types.Lead) string {
	var b strings.Builder
	b.WriteString("Analyze this customer inquiry:\n\n")
	fmt.Fprintf(&b, "Message: %s\n", lead.Message)

	var contact []string
	if lead.Contact.Name != "" {
		contact = append(contact, "Name: "+lead.Contact.Name)
	}
	if lead.Contact.Email != "" {
		contact = append(contact, "Email: "+lead.Contact.Email)
	}
	if lead.Contact.Phone != "" {
		contact = append(contact, "Phone: "+lead.Contact.Phone)
	}
	if lead.Contact.Company != "" {
		contact = append(contact, "Company: "+lead.Contact.Company)
	}
	if len(contact) > 0 {
		fmt.Fprintf(&b, "Contact Info: %s\n", strings.Join(contact, "; "))
	}
	if lead.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", lead.Source)
	}
	b.WriteString("\nExtract the intent, urgency, entities, and provide a quality score (0-100) based on lead potential.")
	return b.String()
}

const responseFormat = `Respond ONLY with valid JSON in this exact format:
{
    "intent": "inquiry|appointment_request|quote_request|support|complaint|general",
    "intent_confidence": 0.85,
    "urgency": "low|medium|high|urgent",
    "urgency_confidence": 0.75,
    "entities": {
        "services": ["service1"],
        "dates": ["date1"],
        "contact_preferences": ["email", "phone"]
    },
    "quality_score": 75,
    "summary": "Brief summary of the inquiry"
}`

func systemPrompt(businessType string) string {
	var focus string
	switch businessType {
	case "automotive":
		focus = `You are an AI assistant specialized in analyzing customer inquiries for automotive service businesses (mechanics, auto repair shops, car dealerships).

Focus on vehicle information (make, model, year), service types, described symptoms, and urgency indicators like safety issues or a car that won't start.

`
	case "medspa":
		focus = `You are an AI assistant specialized in analyzing customer inquiries for medical spa and aesthetic treatment businesses.

Focus on treatment types, areas of concern, prior experience, consultation requests, and timing needs such as upcoming events.

`
	case "consulting":
		focus = `You are an AI assistant specialized in analyzing inquiries for professional consulting businesses.

Focus on service areas, project scope, timeline requirements, budget indicators, and current pain points.

`
	default:
		focus = `You are an AI assistant specialized in analyzing customer inquiries for small businesses.
Your task is to analyze the lead content and extract key information in a structured format.

`
	}
	return focus + responseFormat
}

// stripCodeFences tolerates models that wrap JSON in a markdown code block.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeIntent(intent string) string {
	switch intent {
	case IntentInquiry, IntentAppointmentRequest, IntentQuoteRequest, IntentSupport, IntentComplaint, IntentGeneral:
		return intent
	default:
		return IntentGeneral
	}
}

func normalizeUrgency(urgency string) string {
	switch urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent:
		return urgency
	default:
		return UrgencyMedium
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
