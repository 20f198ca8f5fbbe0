package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	openai "github.com/sashabaranov/go-openai"
)

// Candidate is a preference proposed by an Extractor.
type Candidate struct {
	Category   string  `json:"category"`
	Value      string  `json:"value"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
}

// Extractor finds at most one preference in a piece of user text. It returns
// nil without error when the text states none.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Candidate, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) (*Candidate, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string) (*Candidate, error) {
	return f(ctx, text)
}

const extractionPrompt = `You detect stable user preferences in chat messages.
Read the user's message and answer with one JSON object:
{"found": bool, "category": string, "value": string, "context": string, "confidence": number}
category is a short snake_case label such as "language", "tone", "format" or "tooling".
value is the preference itself in a few words. context quotes the phrase that shows it.
confidence is between 0 and 1. Use {"found": false} when the message states no lasting preference.`

type extraction struct {
	Found bool `json:"found"`
	Candidate
}

// OpenAIExtractor implements Extractor with an OpenAI-compatible chat
// completion endpoint in JSON mode.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	policy *bluemonday.Policy
}

// NewOpenAIExtractor creates an extractor. An empty model uses gpt-4o-mini.
func NewOpenAIExtractor(client *openai.Client, model string) *OpenAIExtractor {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIExtractor{
		client: client,
		model:  model,
		policy: bluemonday.StrictPolicy(),
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*Candidate, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("preference extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("preference extraction returned no choices")
	}

	var out extraction
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse extraction: %w", err)
	}
	if !out.Found {
		return nil, nil
	}

	c := &Candidate{
		Category:   e.clean(out.Category),
		Value:      e.clean(out.Value),
		Context:    e.clean(out.Context),
		Confidence: clamp01(out.Confidence),
	}
	if c.Category == "" || c.Value == "" {
		return nil, nil
	}
	return c, nil
}

// clean drops any markup the model echoed back from the user text.
func (e *OpenAIExtractor) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(e.policy.Sanitize(s)))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
