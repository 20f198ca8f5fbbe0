package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const summarizerSystemPrompt = `You compress the early part of a conversation between a user and an AI agent
into working memory for that same agent. The agent will continue the
conversation using only your summary plus the most recent messages.`

// LLMSummarizer implements Summarizer with a langchaingo model in JSON mode.
type LLMSummarizer struct {
	model   llms.Model
	options []llms.CallOption
}

// NewLLMSummarizer creates a summarizer. Extra call options (model name,
// temperature, ...) are passed through on every call.
func NewLLMSummarizer(model llms.Model, opts ...llms.CallOption) *LLMSummarizer {
	return &LLMSummarizer{model: model, options: opts}
}

// CompressMessages asks the model for a CompressedSummary of msgs. An answer
// that is not valid JSON is kept verbatim as the narrative.
func (s *LLMSummarizer) CompressMessages(ctx context.Context, msgs []*Message, hint string) (*CompressedSummary, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptySummary
	}

	prompt := buildSummaryPrompt(msgs, hint)
	opts := append([]llms.CallOption{llms.WithJSONMode()}, s.options...)
	resp, err := s.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarizerSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("summarization call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptySummary
	}

	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return nil, ErrEmptySummary
	}
	return parseSummary(content), nil
}

func buildSummaryPrompt(msgs []*Message, hint string) string {
	var b strings.Builder

	if hint = strings.TrimSpace(hint); hint != "" {
		b.WriteString("## User Goal\n")
		b.WriteString(hint)
		b.WriteString("\n\n---\n\n")
	}

	fmt.Fprintf(&b, "Summarize the following %d message(s). Answer with a single JSON object:\n\n", len(msgs))
	b.WriteString(`{"main_topics": [string], "key_decisions": [string], "important_facts": [string], "pending_tasks": [string], "narrative": string}`)
	b.WriteString("\n\n")
	b.WriteString("MUST PRESERVE: exact file paths, identifiers, numbers, error messages, user preferences and commitments.\n")
	b.WriteString("MUST NOT INCLUDE: conversational filler or restatements.\n")
	b.WriteString("Use an empty list for any section with nothing meaningful to say.\n\n")
	b.WriteString("Messages:\n\n")

	for _, m := range msgs {
		if m == nil {
			continue
		}
		fmt.Fprintf(&b, "[%s]: %s\n", m.Role, m.Content)
		for _, call := range m.ToolCalls {
			fmt.Fprintf(&b, "  -> call %s %s(%s)\n", call.ID, call.Name, call.Arguments)
		}
		for _, r := range m.ToolResults {
			fmt.Fprintf(&b, "  <- result %s %s: %s\n", r.CallID, r.Name, r.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseSummary(content string) *CompressedSummary {
	raw := stripCodeFence(content)
	var summary CompressedSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil || summary.IsEmpty() {
		return &CompressedSummary{Narrative: content}
	}
	return &summary
}

// stripCodeFence removes a surrounding ```json fence some models emit even in
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
