package model

import "time"

// EventType distinguishes per-record progress from stream termination.
type EventType string

const (
	EventScored    EventType = "scored"
	EventCompleted EventType = "completed"
)

// Score is the structured output expected from the reasoning service.
type Score struct {
	Value         float64 `json:"score"`
	Justification string  `json:"justification"`
}

// ProgressEvent is one ordered item on an evaluation stream. Exactly one
// EventScored is emitted per input record, in input order, followed by a
// single EventCompleted.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	Index      int       `json:"index"`
	Identifier string    `json:"identifier,omitempty"`
	Score      *Score    `json:"score,omitempty"`
	// Failed marks records that exhausted retries and received the
	// neutral fallback score.
	Failed  bool      `json:"failed,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
	Scored  int       `json:"scored,omitempty"`  // set on EventCompleted
	Skipped int       `json:"skipped,omitempty"` // set on EventCompleted
}
