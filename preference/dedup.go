package preference

import (
	"strings"
	"time"
)

// NormalizeFunc maps a value to the form used for duplicate detection.
type NormalizeFunc func(category, value string) string

// DefaultNormalize lower-cases, trims and collapses inner whitespace.
func DefaultNormalize(category, value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// Deduplicator merges a candidate into a user's preference list.
type Deduplicator struct {
	Normalize NormalizeFunc
	now       func() time.Time
}

// NewDeduplicator creates a Deduplicator. A nil normalize uses DefaultNormalize.
func NewDeduplicator(normalize NormalizeFunc) *Deduplicator {
	if normalize == nil {
		normalize = DefaultNormalize
	}
	return &Deduplicator{Normalize: normalize, now: time.Now}
}

func (d *Deduplicator) same(a, b Info) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Category), strings.TrimSpace(b.Category)) {
		return false
	}
	return d.Normalize(a.Category, a.Value) == d.Normalize(b.Category, b.Value)
}

// Merge folds candidate into existing and returns the new list, the stored
// entry and whether it was appended. On a match the usage count grows, the
// confidence keeps the higher value and a non-empty context replaces the old
// one. An explicit candidate also enables an extracted match. Nothing is
// ever removed. existing is not modified.
func (d *Deduplicator) Merge(candidate Info, existing []Info) ([]Info, Info, bool) {
	now := d.now()
	merged := make([]Info, len(existing), len(existing)+1)
	copy(merged, existing)

	for i, p := range merged {
		if !d.same(p, candidate) {
			continue
		}
		p.UsageCount++
		if candidate.Confidence > p.Confidence {
			p.Confidence = candidate.Confidence
		}
		if strings.TrimSpace(candidate.Context) != "" {
			p.Context = candidate.Context
		}
		if candidate.Source == SourceExplicit {
			p.Source = SourceExplicit
			p.Enabled = true
		}
		p.UpdatedAt = now
		merged[i] = p
		return merged, p, false
	}

	candidate.UsageCount = 1
	if candidate.LearnedAt.IsZero() {
		candidate.LearnedAt = now
	}
	candidate.UpdatedAt = now
	merged = append(merged, candidate)
	return merged, candidate, true
}
