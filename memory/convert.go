package memory

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ToMessageContent converts a log to langchaingo messages. Each tool result
// becomes its own tool message, which is the shape providers accept.
func ToMessageContent(msgs []*Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, mc)
		case RoleTool:
			for _, r := range m.ToolResults {
				out = append(out, llms.MessageContent{
					Role: llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{llms.ToolCallResponse{
						ToolCallID: r.CallID,
						Name:       r.Name,
						Content:    r.Content,
					}},
				})
			}
		}
	}
	return out
}

// FromContentChoice builds an assistant message from a model response choice.
func FromContentChoice(choice *llms.ContentChoice) *Message {
	if choice == nil {
		return NewAssistantMessage("")
	}
	calls := make([]ToolCall, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return NewAssistantMessage(choice.Content, calls...)
}

// FromMessageContent converts langchaingo messages back into a log. Tool
// responses that follow each other are grouped into one tool message.
func FromMessageContent(mcs []llms.MessageContent) []*Message {
	out := make([]*Message, 0, len(mcs))
	for _, mc := range mcs {
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			out = append(out, NewSystemMessage(joinText(mc.Parts)))
		case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
			out = append(out, NewUserMessage(joinText(mc.Parts)))
		case llms.ChatMessageTypeAI:
			var calls []ToolCall
			for _, p := range mc.Parts {
				if tc, ok := p.(llms.ToolCall); ok && tc.FunctionCall != nil {
					calls = append(calls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments})
				}
			}
			out = append(out, NewAssistantMessage(joinText(mc.Parts), calls...))
		case llms.ChatMessageTypeTool:
			var results []ToolResult
			for _, p := range mc.Parts {
				if r, ok := p.(llms.ToolCallResponse); ok {
					results = append(results, ToolResult{CallID: r.ToolCallID, Name: r.Name, Content: r.Content})
				}
			}
			if n := len(out); n > 0 && out[n-1].Role == RoleTool {
				out[n-1].ToolResults = append(out[n-1].ToolResults, results...)
				continue
			}
			out = append(out, NewToolMessage(results...))
		}
	}
	return out
}

func joinText(parts []llms.ContentPart) string {
	var texts []string
	for _, p := range parts {
		if t, ok := p.(llms.TextContent); ok && t.Text != "" {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}
