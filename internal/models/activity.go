// Package models defines the domain types shared across glimpse components:
// activities, capture records, classifier analyses, goals and settings.
package models

import "time"

// Category is the classification bucket an activity falls into.
type Category string

const (
	CategoryFocus         Category = "focus"
	CategoryCommunication Category = "communication"
	CategoryResearch      Category = "research"
	CategoryBreak         Category = "break"
	CategoryCreative      Category = "creative"
	CategoryOther         Category = "other"
)

// Categories lists every valid category, in stable order.
var Categories = []Category{
	CategoryFocus, CategoryCommunication, CategoryResearch,
	CategoryBreak, CategoryCreative, CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ActivityStatus is the lifecycle state of an Activity.
type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "active"
	ActivityCompleted ActivityStatus = "completed"
)

// Activity is one contiguous, single-category block of tracked time.
//
// Invariants:
//   - at most one Activity per owner is active at a time;
//   - EndTime is nil while the activity is open;
//   - once closed, EndTime >= StartTime and DurationMs = EndTime - StartTime.
type Activity struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Title      string         `json:"title"`
	Category   Category       `json:"category"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Status     ActivityStatus `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Open reports whether the activity has not been closed yet.
func (a *Activity) Open() bool {
	return a.Status == ActivityActive && a.EndTime == nil
}

// Close marks the activity completed at end, computing the stored duration.
func (a *Activity) Close(end time.Time) {
	if end.Before(a.StartTime) {
		end = a.StartTime
	}
	a.EndTime = &end
	a.DurationMs = end.Sub(a.StartTime).Milliseconds()
	a.Status = ActivityCompleted
}

// Clone returns a deep copy. Nil-safe, so snapshots of a possibly-absent
// activity do not need a guard.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	if a.EndTime != nil {
		end := *a.EndTime
		c.EndTime = &end
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ActivityPatch is an owner-scoped partial update of an Activity.
// The id and creation timestamp are never patchable.
type ActivityPatch struct {
	Title      *string         `json:"title,omitempty"`
	Category   *Category       `json:"category,omitempty"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	DurationMs *int64          `json:"duration_ms,omitempty"`
	Status     *ActivityStatus `json:"status,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}
