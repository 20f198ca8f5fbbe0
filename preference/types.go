package preference

import (
	"errors"
	"time"
)

// Source records how a preference was learned.
type Source string

const (
	// SourceExplicit marks preferences stated by the user or set by the host.
	SourceExplicit Source = "explicit"
	// SourceExtracted marks preferences inferred from conversation text.
	SourceExtracted Source = "extracted"
)

var (
	// ErrLowConfidence is returned when a candidate is below Config.MinConfidence.
	ErrLowConfidence = errors.New("preference: confidence below threshold")
	// ErrInvalidPreference is returned for a missing user, category or value.
	ErrInvalidPreference = errors.New("preference: user, category and value are required")
	// ErrNotFound is returned by SetEnabled when nothing matches.
	ErrNotFound = errors.New("preference: not found")
)

// Info is one learned user preference.
type Info struct {
	Category   string    `json:"category"`
	Value      string    `json:"value"`
	Context    string    `json:"context,omitempty"`
	Confidence float64   `json:"confidence"`
	LearnedAt  time.Time `json:"learned_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UsageCount int       `json:"usage_count"`
	Source     Source    `json:"source"`
	Enabled    bool      `json:"enabled"`
}

// LearnResult reports the stored preference after a learn.
type LearnResult struct {
	Preference Info
	// IsNew is false when the candidate was merged into an existing entry.
	IsNew bool
}

// Query filters Search results. Zero values match everything.
type Query struct {
	Category      string
	Text          string
	EnabledOnly   bool
	MinConfidence float64
	Limit         int
}

// document is the stored value for one user.
type document struct {
	Preferences []Info `json:"preferences"`
}
