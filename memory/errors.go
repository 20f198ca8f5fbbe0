package memory

import "errors"

// ErrInvalidArgument is returned for an empty conversation ID or a nil message.
var ErrInvalidArgument = errors.New("memory: invalid argument")

// ErrEmptySummary is returned when a summarizer produces nothing usable.
var ErrEmptySummary = errors.New("memory: summarizer returned an empty summary")

// ErrNoSummarizer is returned by Compress when no Summarizer was configured.
var ErrNoSummarizer = errors.New("memory: no summarizer configured")
