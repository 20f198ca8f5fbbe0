package memory

import (
	"context"
	"strings"
)

// SummaryHeader opens every compaction summary message.
const SummaryHeader = "[Conversation summary]"

// CompressedSummary is the structured result of summarizing a log segment.
type CompressedSummary struct {
	MainTopics     []string `json:"main_topics"`
	KeyDecisions   []string `json:"key_decisions"`
	ImportantFacts []string `json:"important_facts"`
	PendingTasks   []string `json:"pending_tasks"`
	Narrative      string   `json:"narrative"`
}

// Summarizer reduces a slice of messages to a summary. hint carries
// caller-provided focus, such as the latest user goal.
type Summarizer interface {
	CompressMessages(ctx context.Context, msgs []*Message, hint string) (*CompressedSummary, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, msgs []*Message, hint string) (*CompressedSummary, error)

func (f SummarizerFunc) CompressMessages(ctx context.Context, msgs []*Message, hint string) (*CompressedSummary, error) {
	return f(ctx, msgs, hint)
}

// IsEmpty reports whether the summary carries no content.
func (s *CompressedSummary) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.MainTopics) == 0 && len(s.KeyDecisions) == 0 &&
		len(s.ImportantFacts) == 0 && len(s.PendingTasks) == 0 &&
		strings.TrimSpace(s.Narrative) == ""
}

// Text renders the summary as markdown-ish prose for the model.
func (s *CompressedSummary) Text() string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	b.WriteString("\n")
	if n := strings.TrimSpace(s.Narrative); n != "" {
		b.WriteString(n)
		b.WriteString("\n")
	}
	writeSection(&b, "Main topics", s.MainTopics)
	writeSection(&b, "Key decisions", s.KeyDecisions)
	writeSection(&b, "Important facts", s.ImportantFacts)
	writeSection(&b, "Pending tasks", s.PendingTasks)
	return strings.TrimRight(b.String(), "\n")
}

// Message renders the summary as a synthetic system message.
func (s *CompressedSummary) Message() *Message {
	m := NewSystemMessage(s.Text())
	m.Metadata = map[string]string{metadataSummary: "true"}
	return m
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n## ")
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}
