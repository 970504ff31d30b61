package models

import "time"

// CaptureRecord is one raw observation taken by the scheduler. Records are
// written once per tick and never mutated afterwards; they exist for audits
// and analytics independently of how activities are merged.
//
// Under privacy mode the record is still written, but detailed metadata
// (window titles, archived image keys) is suppressed before persisting.
type CaptureRecord struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Timestamp   time.Time      `json:"timestamp"`
	ContentHash string         `json:"content_hash"`
	Category    Category       `json:"category"`
	Confidence  float64        `json:"confidence"`
	// Productive mirrors the classifier's productivity indicator
	// ("productive", "neutral" or "distracting").
	Productive string         `json:"productivity_indicator"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
