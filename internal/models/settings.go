package models

import "time"

// Goals is the per-owner singleton of numeric hour targets. It is created on
// first write and replaced wholesale on update; no history is kept.
type Goals struct {
	OwnerID      string    `json:"owner_id"`
	DailyHours   float64   `json:"daily_hours"`
	WeeklyHours  float64   `json:"weekly_hours"`
	MonthlyHours float64   `json:"monthly_hours"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Settings is the per-owner singleton of tracking preferences.
// Replace-on-write semantics, same as Goals.
type Settings struct {
	OwnerID string `json:"owner_id"`
	// CaptureInterval is the scheduler tick period.
	CaptureInterval time.Duration `json:"capture_interval"`
	// AIAnalysisEnabled gates all classifier network calls.
	AIAnalysisEnabled bool `json:"ai_analysis_enabled"`
	// PrivacyMode suppresses detailed metadata in persisted capture records.
	PrivacyMode bool `json:"privacy_mode"`
	// AllowedCategories restricts which categories may be recorded.
	// Empty means all categories are allowed.
	AllowedCategories []Category `json:"allowed_categories,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DefaultSettings returns the settings applied to an owner that has never
// saved any.
func DefaultSettings(ownerID string) *Settings {
	return &Settings{
		OwnerID:           ownerID,
		CaptureInterval:   30 * time.Second,
		AIAnalysisEnabled: true,
		PrivacyMode:       false,
	}
}

// Allows reports whether category c may be recorded under these settings.
func (s *Settings) Allows(c Category) bool {
	if len(s.AllowedCategories) == 0 {
		return true
	}
	for _, k := range s.AllowedCategories {
		if k == c {
			return true
		}
	}
	return false
}
