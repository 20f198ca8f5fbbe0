package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/agentmemory/log"
	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/preference"
)

// maxPromptPreferences caps how many preferences are added to the system prompt.
const maxPromptPreferences = 10

// ErrNoResponse is returned when the model answers with no choices.
var ErrNoResponse = errors.New("model returned no choices")

// ChatSession runs a multi-turn conversation backed by a ConversationMemory.
//
// Each turn loads the history, repairs its tool chain, calls the model and
// only then persists the new messages, so a failed model call leaves the
// log untouched.
type ChatSession struct {
	model          llms.Model
	mem            *memory.ConversationMemory
	validator      *memory.ToolChainValidator
	conversationID string
	userID         string
	prefs          *preference.Manager
	systemPrompt   string
	tools          []llms.Tool
	callOptions    []llms.CallOption
	logger         log.Logger
}

// ChatSessionOption configures a ChatSession.
type ChatSessionOption func(*ChatSession)

// WithConversationID resumes an existing conversation. The default is a new UUID.
func WithConversationID(id string) ChatSessionOption {
	return func(s *ChatSession) {
		s.conversationID = id
	}
}

// WithUserID sets the user whose preferences are read and learned.
func WithUserID(id string) ChatSessionOption {
	return func(s *ChatSession) {
		s.userID = id
	}
}

// WithPreferences enables preference injection and learning.
func WithPreferences(m *preference.Manager) ChatSessionOption {
	return func(s *ChatSession) {
		s.prefs = m
	}
}

// WithSystemPrompt sets a system prompt sent ahead of the history on every
// turn. It is not stored in the log.
func WithSystemPrompt(prompt string) ChatSessionOption {
	return func(s *ChatSession) {
		s.systemPrompt = prompt
	}
}

// WithTools advertises tools to the model.
func WithTools(tools ...llms.Tool) ChatSessionOption {
	return func(s *ChatSession) {
		s.tools = append(s.tools, tools...)
	}
}

// WithCallOptions passes extra options to every model call.
func WithCallOptions(opts ...llms.CallOption) ChatSessionOption {
	return func(s *ChatSession) {
		s.callOptions = append(s.callOptions, opts...)
	}
}

// WithLogger sets the session logger.
func WithLogger(logger log.Logger) ChatSessionOption {
	return func(s *ChatSession) {
		s.logger = logger
	}
}

// NewChatSession creates a new ChatSession.
func NewChatSession(model llms.Model, mem *memory.ConversationMemory, opts ...ChatSessionOption) (*ChatSession, error) {
	if model == nil || mem == nil {
		return nil, fmt.Errorf("chat session needs a model and a conversation memory")
	}

	s := &ChatSession{
		model: model,
		mem:   mem,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.conversationID == "" {
		s.conversationID = uuid.New().String()
	}
	if s.logger == nil {
		s.logger = log.Named("session", nil)
	}
	s.validator = memory.NewToolChainValidator(s.logger)
	return s, nil
}

// ConversationID returns the conversation this session writes to.
func (s *ChatSession) ConversationID() string {
	return s.conversationID
}

// History returns the repaired conversation log.
func (s *ChatSession) History(ctx context.Context) ([]*memory.Message, error) {
	return s.mem.History(ctx, s.conversationID)
}

// Chat sends a user message and returns the assistant reply. When the reply
// requests tools, answer with SubmitToolResults.
func (s *ChatSession) Chat(ctx context.Context, text string) (*memory.Message, error) {
	user := memory.NewUserMessage(text)
	reply, err := s.turn(ctx, user)
	if err != nil {
		return nil, err
	}
	s.learn(ctx, text)
	return reply, nil
}

// SubmitToolResults answers the pending tool calls and returns the next reply.
func (s *ChatSession) SubmitToolResults(ctx context.Context, results ...memory.ToolResult) (*memory.Message, error) {
	if len(results) == 0 {
		return nil, memory.ErrInvalidArgument
	}
	return s.turn(ctx, memory.NewToolMessage(results...))
}

// turn runs loadHistory, validateToolChain, invokeModel and persist.
func (s *ChatSession) turn(ctx context.Context, pending *memory.Message) (*memory.Message, error) {
	history, err := s.mem.Get(ctx, s.conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	msgs := make([]*memory.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, pending)
	msgs = s.validator.Validate(s.conversationID, msgs)

	reply, err := s.invoke(ctx, msgs)
	if err != nil {
		return nil, err
	}

	if err := s.mem.AddMessages(ctx, s.conversationID, pending, reply); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	if s.mem.ShouldCompress(append(history, pending, reply)) {
		if err := s.mem.Compress(ctx, s.conversationID); err != nil {
			s.logger.Warn("compaction of %s failed: %v", s.conversationID, err)
		}
	}
	return reply, nil
}

func (s *ChatSession) invoke(ctx context.Context, msgs []*memory.Message) (*memory.Message, error) {
	content := memory.ToMessageContent(msgs)
	if prompt := s.prompt(ctx); prompt != "" {
		content = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, prompt)}, content...)
	}

	opts := append([]llms.CallOption(nil), s.callOptions...)
	if len(s.tools) > 0 {
		opts = append(opts, llms.WithTools(s.tools))
	}

	resp, err := s.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoResponse
	}
	return memory.FromContentChoice(resp.Choices[0]), nil
}

// prompt renders the system prompt followed by the user's enabled preferences.
func (s *ChatSession) prompt(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(s.systemPrompt)

	if s.prefs != nil && s.userID != "" {
		prefs, err := s.prefs.Search(ctx, s.userID, preference.Query{EnabledOnly: true, Limit: maxPromptPreferences})
		if err != nil {
			s.logger.Warn("failed to load preferences for %s: %v", s.userID, err)
		} else if len(prefs) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("Known user preferences:\n")
			for _, p := range prefs {
				fmt.Fprintf(&b, "- %s: %s\n", p.Category, p.Value)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *ChatSession) learn(ctx context.Context, text string) {
	if s.prefs == nil || s.userID == "" {
		return
	}
	res, err := s.prefs.LearnFromTurn(ctx, s.userID, text)
	if err != nil {
		s.logger.Warn("failed to store extracted preference for %s: %v", s.userID, err)
		return
	}
	if res != nil {
		s.logger.Info("extracted %s preference %q for %s, pending confirmation", res.Preference.Category, res.Preference.Value, s.userID)
	}
}
