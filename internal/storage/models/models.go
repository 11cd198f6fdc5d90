package models

import "time"

// ChatRecord is one routed chat turn, kept for operational history and
// threshold calibration. The retrieval core itself is stateless; this log
// lives outside it.
type ChatRecord struct {
	ID           string
	ConditionID  string
	QueryText    string
	ResponseType string
	Confidence   float64
	Mismatch     bool
	LatencyMS    int
	CreatedAt    time.Time
}

// Feedback is an optional user signal attached to a chat turn.
type Feedback struct {
	ID        int
	ChatID    string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}
