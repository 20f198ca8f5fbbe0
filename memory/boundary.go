package memory

import "math"

// FindCompressionBoundary returns the index splitting msgs into a head to
// summarize (msgs[:idx]) and a tail kept verbatim (msgs[idx:]).
//
// The tail holds round(len(msgs) × preserve) messages, then the split is moved
// so that it never lands inside a tool-call unit: when msgs[idx] is a tool
// message, the split walks back to the assistant message that issued the
// calls, keeping the whole unit in the tail. If that run has no owner, the
// split walks forward past it instead.
func FindCompressionBoundary(msgs []*Message, preserve float64) int {
	n := len(msgs)
	if n == 0 {
		return 0
	}
	preserve = clampFraction(preserve)

	keep := int(math.Round(float64(n) * preserve))
	idx := n - keep
	if idx <= 0 || idx >= n {
		return clampIndex(idx, n)
	}
	if !isToolMessage(msgs[idx]) {
		return idx
	}

	back := idx
	for back > 0 && isToolMessage(msgs[back]) {
		back--
	}
	if msgs[back].HasToolCalls() {
		return back
	}

	fwd := idx
	for fwd < n && isToolMessage(msgs[fwd]) {
		fwd++
	}
	return fwd
}

func isToolMessage(m *Message) bool {
	return m != nil && m.Role == RoleTool
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n {
		return n
	}
	return idx
}
