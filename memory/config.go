package memory

import (
	"time"

	"github.com/smallnest/agentmemory/log"
)

const (
	DefaultPreserveThreshold = 0.3
	DefaultMinInterval       = 60 * time.Second
	DefaultLockWait          = 3 * time.Second
	DefaultLockLease         = 120 * time.Second
	DefaultTriggerMessages   = 40
)

// Config holds the compaction policy of a ConversationMemory.
type Config struct {
	// Enabled turns compaction on. Reads and writes work either way.
	Enabled bool

	// PreserveThreshold is the fraction of the log kept verbatim after
	// compaction, in (0,1]. Zero selects DefaultPreserveThreshold; pass
	// WithPreserveThreshold(0) to Compress to summarize the whole log once.
	PreserveThreshold float64

	// MinInterval is the minimum time between two compactions of the same
	// conversation.
	MinInterval time.Duration

	// LockWait bounds how long Compress waits for the conversation lock.
	LockWait time.Duration

	// LockLease bounds how long a lock survives an abandoned holder. It must
	// cover the summarizer call.
	LockLease time.Duration

	// TriggerMessages is the log length at which ShouldCompress reports true.
	TriggerMessages int

	Logger log.Logger
}

// DefaultConfig returns a Config with compaction enabled and default limits.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		PreserveThreshold: DefaultPreserveThreshold,
		MinInterval:       DefaultMinInterval,
		LockWait:          DefaultLockWait,
		LockLease:         DefaultLockLease,
		TriggerMessages:   DefaultTriggerMessages,
	}
}

func (c Config) withDefaults() Config {
	if c.PreserveThreshold <= 0 || c.PreserveThreshold > 1 {
		c.PreserveThreshold = DefaultPreserveThreshold
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	if c.LockLease <= 0 {
		c.LockLease = DefaultLockLease
	}
	if c.TriggerMessages <= 0 {
		c.TriggerMessages = DefaultTriggerMessages
	}
	if c.Logger == nil {
		c.Logger = log.Named("memory", nil)
	}
	return c
}

// CompressOption overrides the configured policy for one Compress call.
type CompressOption func(*compressOptions)

type compressOptions struct {
	preserve float64
	hint     string
	force    bool
}

// WithPreserveThreshold overrides Config.PreserveThreshold.
func WithPreserveThreshold(f float64) CompressOption {
	return func(o *compressOptions) {
		o.preserve = clampFraction(f)
	}
}

// WithHint passes focus text to the summarizer.
func WithHint(hint string) CompressOption {
	return func(o *compressOptions) {
		o.hint = hint
	}
}

// WithForce skips the enabled and interval gates. The lock is still taken.
func WithForce() CompressOption {
	return func(o *compressOptions) {
		o.force = true
	}
}
