package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/smallnest/agentmemory/log"
	"github.com/smallnest/agentmemory/store"
)

const (
	DefaultMinConfidence  = 0.5
	DefaultMinInputLength = 5
)

// Namespace is where preference documents live in the ItemStore.
var Namespace = []string{"preferences"}

// Config controls learning thresholds.
type Config struct {
	// MinConfidence rejects weaker candidates.
	MinConfidence float64
	// MinInputLength is the shortest text, in runes, worth extracting from.
	MinInputLength int
	// ExtractionEnabled turns LearnFromTurn on.
	ExtractionEnabled bool

	Logger log.Logger
}

// DefaultConfig returns the default thresholds with extraction off.
func DefaultConfig() Config {
	return Config{
		MinConfidence:  DefaultMinConfidence,
		MinInputLength: DefaultMinInputLength,
	}
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.MinInputLength <= 0 {
		c.MinInputLength = DefaultMinInputLength
	}
	if c.Logger == nil {
		c.Logger = log.Named("preference", nil)
	}
	return c
}

// Manager learns and serves per-user preferences over an ItemStore.
//
// Each user's preferences are one document, so updates are read-modify-write.
// They are serialized per user within one Manager only.
type Manager struct {
	items     store.ItemStore
	dedup     *Deduplicator
	extractor Extractor
	cfg       Config
	logger    log.Logger

	locks sync.Map // userID -> *sync.Mutex
	now   func() time.Time
}

// NewManager creates a Manager. extractor may be nil when LearnFromTurn is unused.
func NewManager(items store.ItemStore, extractor Extractor, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		items:     items,
		dedup:     NewDeduplicator(nil),
		extractor: extractor,
		cfg:       cfg,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// SetDeduplicator replaces the default deduplicator.
func (m *Manager) SetDeduplicator(d *Deduplicator) {
	if d != nil {
		m.dedup = d
	}
}

func (m *Manager) lockUser(userID string) func() {
	v, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Learn records an explicit preference, merging it with an equivalent one
// when present. excerpt is the text that showed the preference.
func (m *Manager) Learn(ctx context.Context, userID, category, value, excerpt string, confidence float64) (*LearnResult, error) {
	candidate := Info{
		Category:   strings.TrimSpace(category),
		Value:      strings.TrimSpace(value),
		Context:    excerpt,
		Confidence: confidence,
		Source:     SourceExplicit,
		Enabled:    true,
	}
	return m.learn(ctx, userID, candidate)
}

func (m *Manager) learn(ctx context.Context, userID string, candidate Info) (*LearnResult, error) {
	if userID == "" || candidate.Category == "" || candidate.Value == "" {
		return nil, ErrInvalidPreference
	}
	if candidate.Confidence < m.cfg.MinConfidence {
		return nil, ErrLowConfidence
	}
	candidate.Confidence = clamp01(candidate.Confidence)
	candidate.LearnedAt = m.now()

	unlock := m.lockUser(userID)
	defer unlock()

	existing, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged, stored, isNew := m.dedup.Merge(candidate, existing)
	if err := m.store(ctx, userID, merged); err != nil {
		return nil, err
	}

	if isNew {
		m.logger.Debug("learned %s preference %q for user %s", stored.Category, stored.Value, userID)
	} else {
		m.logger.Debug("reinforced %s preference %q for user %s (used %d times)", stored.Category, stored.Value, userID, stored.UsageCount)
	}
	return &LearnResult{Preference: stored, IsNew: isNew}, nil
}

// Get returns every stored preference of the user, enabled or not.
func (m *Manager) Get(ctx context.Context, userID string) ([]Info, error) {
	if userID == "" {
		return nil, ErrInvalidPreference
	}
	return m.load(ctx, userID)
}

// Save overwrites the user's whole preference list.
func (m *Manager) Save(ctx context.Context, userID string, prefs []Info) error {
	if userID == "" {
		return ErrInvalidPreference
	}
	for i, p := range prefs {
		if strings.TrimSpace(p.Category) == "" || strings.TrimSpace(p.Value) == "" {
			return fmt.Errorf("preference %d: %w", i, ErrInvalidPreference)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("preference %d: confidence %.2f out of range", i, p.Confidence)
		}
	}

	unlock := m.lockUser(userID)
	defer unlock()
	return m.store(ctx, userID, prefs)
}

// Search filters and ranks the user's preferences by confidence, then usage.
func (m *Manager) Search(ctx context.Context, userID string, q Query) ([]Info, error) {
	prefs, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	out := make([]Info, 0, len(prefs))
	for _, p := range prefs {
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if q.EnabledOnly && !p.Enabled {
			continue
		}
		if p.Confidence < q.MinConfidence {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(p.Value), text) &&
			!strings.Contains(strings.ToLower(p.Context), text) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UsageCount > out[j].UsageCount
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SetEnabled switches a preference on or off. Disabled preferences are
// kept, so forgetting can be undone.
func (m *Manager) SetEnabled(ctx context.Context, userID, category, value string, enabled bool) error {
	if userID == "" {
		return ErrInvalidPreference
	}

	unlock := m.lockUser(userID)
	defer unlock()

	prefs, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	probe := Info{Category: category, Value: value}
	for i := range prefs {
		if m.dedup.same(prefs[i], probe) {
			prefs[i].Enabled = enabled
			prefs[i].UpdatedAt = m.now()
			return m.store(ctx, userID, prefs)
		}
	}
	return ErrNotFound
}

// Users lists user IDs with stored preferences, in key order.
func (m *Manager) Users(ctx context.Context, prefix string, limit int) ([]string, error) {
	items, err := m.items.SearchItems(ctx, Namespace, store.SearchFilter{KeyPrefix: prefix, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list preference users: %w", err)
	}
	users := make([]string, 0, len(items))
	for _, it := range items {
		users = append(users, it.Key)
	}
	return users, nil
}

// ShouldExtract reports whether text is long enough to look at.
func (m *Manager) ShouldExtract(text string) bool {
	text = strings.TrimSpace(text)
	return text != "" && utf8.RuneCountInString(text) >= m.cfg.MinInputLength
}

// LearnFromTurn runs the extractor over user text and stores at most one
// preference, disabled until confirmed. Extraction failures are logged and
// yield a nil result; only storage errors are returned.
func (m *Manager) LearnFromTurn(ctx context.Context, userID, text string) (*LearnResult, error) {
	if !m.cfg.ExtractionEnabled || m.extractor == nil || userID == "" || !m.ShouldExtract(text) {
		return nil, nil
	}

	c, err := m.extractor.Extract(ctx, text)
	if err != nil {
		m.logger.Warn("preference extraction failed for user %s: %v", userID, err)
		return nil, nil
	}
	if c == nil {
		return nil, nil
	}
	if c.Confidence < m.cfg.MinConfidence {
		m.logger.Debug("ignored extracted preference %q (confidence %.2f)", c.Value, c.Confidence)
		return nil, nil
	}

	res, err := m.learn(ctx, userID, Info{
		Category:   strings.TrimSpace(c.Category),
		Value:      strings.TrimSpace(c.Value),
		Context:    c.Context,
		Confidence: c.Confidence,
		Source:     SourceExtracted,
		Enabled:    false,
	})
	if errors.Is(err, ErrInvalidPreference) {
		m.logger.Warn("extractor returned an incomplete preference for user %s", userID)
		return nil, nil
	}
	return res, err
}

func (m *Manager) load(ctx context.Context, userID string) ([]Info, error) {
	item, err := m.items.GetItem(ctx, Namespace, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for %s: %w", userID, err)
	}
	if item == nil || len(item.Value) == 0 {
		return []Info{}, nil
	}

	var doc document
	if err := json.Unmarshal(item.Value, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences for %s: %w", userID, err)
	}
	if doc.Preferences == nil {
		doc.Preferences = []Info{}
	}
	return doc.Preferences, nil
}

func (m *Manager) store(ctx context.Context, userID string, prefs []Info) error {
	if prefs == nil {
		prefs = []Info{}
	}
	data, err := json.Marshal(document{Preferences: prefs})
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := m.items.PutItem(ctx, Namespace, userID, data); err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", userID, err)
	}
	return nil
}
