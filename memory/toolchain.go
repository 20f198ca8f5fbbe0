package memory

import (
	"github.com/smallnest/agentmemory/log"
)

type chainState int

const (
	scanningForCalls chainState = iota
	awaitingResults
)

// ToolChainValidator repairs a rehydrated log so that every assistant tool
// call is answered by the tool messages that follow it.
//
// A turn whose calls are all answered is kept as-is. A turn with any
// unanswered call keeps the assistant text, loses its tool calls, and loses
// the partial tool results. Tool messages that answer nothing open are
// dropped. The input slice and its messages are never modified.
type ToolChainValidator struct {
	Logger log.Logger
}

// NewToolChainValidator creates a validator that reports repairs to logger.
func NewToolChainValidator(logger log.Logger) *ToolChainValidator {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &ToolChainValidator{Logger: logger}
}

// ValidateToolChain repairs msgs without logging.
func ValidateToolChain(msgs []*Message) []*Message {
	return NewToolChainValidator(nil).Validate("", msgs)
}

// Validate scans msgs once, left to right, and returns the repaired list.
func (v *ToolChainValidator) Validate(conversationID string, msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	state := scanningForCalls

	i := 0
	for i < len(msgs) {
		m := msgs[i]
		switch state {
		case scanningForCalls:
			switch {
			case m == nil:
				i++
			case m.Role == RoleTool:
				v.warn("dropped orphan tool message %s in conversation %q", m.ID, conversationID)
				i++
			case m.HasToolCalls():
				state = awaitingResults
			default:
				out = append(out, m)
				i++
			}

		case awaitingResults:
			kept, next, matched := resolveTurn(msgs, i)
			if matched {
				out = append(out, m)
				out = append(out, kept...)
			} else {
				stripped := m.Clone()
				stripped.ToolCalls = nil
				out = append(out, stripped)
				v.warn("stripped %d unanswered tool call(s) from message %s in conversation %q",
					len(m.ToolCalls), m.ID, conversationID)
			}
			i = next
			state = scanningForCalls
		}
	}

	return out
}

func (v *ToolChainValidator) warn(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Warn(format, args...)
	}
}

// resolveTurn inspects the contiguous run of tool messages after the
// assistant message at idx. It returns the tool messages worth keeping, the
// index just past the run, and whether every call ID was answered.
func resolveTurn(msgs []*Message, idx int) ([]*Message, int, bool) {
	expected := make(map[string]bool, len(msgs[idx].ToolCalls))
	for _, call := range msgs[idx].ToolCalls {
		expected[call.ID] = true
	}
	covered := make(map[string]bool, len(expected))

	var kept []*Message
	j := idx + 1
	for ; j < len(msgs); j++ {
		m := msgs[j]
		if m == nil {
			continue
		}
		if m.Role != RoleTool {
			break
		}

		results := make([]ToolResult, 0, len(m.ToolResults))
		for _, r := range m.ToolResults {
			if r.CallID == "" || !expected[r.CallID] || covered[r.CallID] {
				continue
			}
			covered[r.CallID] = true
			results = append(results, r)
		}

		switch {
		case len(results) == 0:
		case len(results) == len(m.ToolResults):
			kept = append(kept, m)
		default:
			c := m.Clone()
			c.ToolResults = results
			kept = append(kept, c)
		}
	}

	matched := !expected[""] && len(covered) == len(expected)
	return kept, j, matched
}
