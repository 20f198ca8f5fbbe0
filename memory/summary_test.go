package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// MockLLM returns canned responses and records what it was sent.
type MockLLM struct {
	responses []string
	err       error
	calls     [][]llms.MessageContent
	options   []llms.CallOptions
}

func (m *MockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, messages)
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	m.options = append(m.options, opts)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llms.ContentResponse{}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (m *MockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func humanText(t *testing.T, mc llms.MessageContent) string {
	t.Helper()
	require.NotEmpty(t, mc.Parts)
	text, ok := mc.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestLLMSummarizer_ParsesJSON(t *testing.T) {
	model := &MockLLM{responses: []string{
		`{"main_topics":["deploy"],"key_decisions":["use blue/green"],"important_facts":["cluster is prod-eu"],"pending_tasks":[],"narrative":"User is deploying."}`,
	}}
	s := NewLLMSummarizer(model, llms.WithTemperature(0))

	msgs := []*Message{
		NewUserMessage("deploy the api to prod-eu"),
		NewAssistantMessage("", ToolCall{ID: "c1", Name: "kubectl", Arguments: `{"cmd":"get pods"}`}),
		NewToolMessage(ToolResult{CallID: "c1", Name: "kubectl", Content: "3 pods running"}),
	}
	summary, err := s.CompressMessages(context.Background(), msgs, "ship v2")
	require.NoError(t, err)

	assert.Equal(t, []string{"deploy"}, summary.MainTopics)
	assert.Equal(t, []string{"use blue/green"}, summary.KeyDecisions)
	assert.Equal(t, "User is deploying.", summary.Narrative)

	require.Len(t, model.calls, 1)
	require.Len(t, model.calls[0], 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.calls[0][0].Role)
	prompt := humanText(t, model.calls[0][1])
	assert.Contains(t, prompt, "## User Goal\nship v2")
	assert.Contains(t, prompt, "deploy the api to prod-eu")
	assert.Contains(t, prompt, "-> call c1 kubectl")
	assert.Contains(t, prompt, "<- result c1 kubectl: 3 pods running")
	assert.True(t, model.options[0].JSONMode)
	assert.Equal(t, 0.0, model.options[0].Temperature)
}

func TestLLMSummarizer_FencedAndPlainAnswers(t *testing.T) {
	model := &MockLLM{responses: []string{
		"```json\n{\"main_topics\":[\"billing\"]}\n```",
		"The user asked about invoices.",
	}}
	s := NewLLMSummarizer(model)
	msgs := []*Message{NewUserMessage("invoices?")}

	fenced, err := s.CompressMessages(context.Background(), msgs, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, fenced.MainTopics)
	assert.NotContains(t, humanText(t, model.calls[0][1]), "User Goal")

	plain, err := s.CompressMessages(context.Background(), msgs, "")
	require.NoError(t, err)
	assert.Equal(t, "The user asked about invoices.", plain.Narrative)
	assert.Empty(t, plain.MainTopics)
}

func TestLLMSummarizer_Errors(t *testing.T) {
	ctx := context.Background()
	msgs := []*Message{NewUserMessage("x")}

	_, err := NewLLMSummarizer(&MockLLM{}).CompressMessages(ctx, msgs, "")
	assert.ErrorIs(t, err, ErrEmptySummary)

	_, err = NewLLMSummarizer(&MockLLM{responses: []string{"   "}}).CompressMessages(ctx, msgs, "")
	assert.ErrorIs(t, err, ErrEmptySummary)

	boom := errors.New("rate limited")
	_, err = NewLLMSummarizer(&MockLLM{err: boom}).CompressMessages(ctx, msgs, "")
	assert.ErrorIs(t, err, boom)

	_, err = NewLLMSummarizer(&MockLLM{}).CompressMessages(ctx, nil, "")
	assert.ErrorIs(t, err, ErrEmptySummary)
}

func TestCompressedSummary_Message(t *testing.T) {
	s := &CompressedSummary{
		Narrative:    "Planning a trip.",
		MainTopics:   []string{"flights", " "},
		PendingTasks: []string{"book hotel"},
	}
	m := s.Message()

	assert.Equal(t, RoleSystem, m.Role)
	assert.True(t, m.IsSummary())
	assert.Equal(t, "[Conversation summary]\nPlanning a trip.\n\n## Main topics\n- flights\n\n## Pending tasks\n- book hotel", m.Content)

	assert.True(t, (&CompressedSummary{Narrative: "  "}).IsEmpty())
	assert.True(t, (*CompressedSummary)(nil).IsEmpty())
	assert.False(t, s.IsEmpty())
}
