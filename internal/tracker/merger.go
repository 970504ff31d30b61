// Package tracker contains the capture scheduler and the session merger:
// the state machine that folds a stream of classifications into discrete
// activity records.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

// Store is the subset of the persistence contract the tracker needs.
type Store interface {
	CreateActivity(ctx context.Context, a *models.Activity) (*models.Activity, error)
	UpdateActivity(ctx context.Context, id, ownerID string, patch models.ActivityPatch) error
	StoreCapture(ctx context.Context, c *models.CaptureRecord) (*models.CaptureRecord, error)
	GetSettings(ctx context.Context, ownerID string) (*models.Settings, error)
}

// Merger decides, for each classification, whether to continue the open
// activity or to close it and open a new one.
//
// The continuation rule: the category is unchanged AND the gap since the
// last update is at most the configured threshold. Everything else forces a
// split. Exactly one activity per owner is open at any time.
type Merger struct {
	store   Store
	ownerID string
	logger  logging.Logger

	open       *models.Activity
	lastUpdate time.Time
}

// NewMerger starts in the Idle state (no open activity).
func NewMerger(store Store, ownerID string, logger logging.Logger) *Merger {
	return &Merger{store: store, ownerID: ownerID, logger: logger}
}

// Open returns the currently open activity, or nil when idle.
func (m *Merger) Open() *models.Activity {
	return m.open
}

func analysisMetadata(a *models.Analysis) map[string]any {
	meta := map[string]any{
		"confidence":             a.Confidence,
		"activity_title":         a.Title,
		"primary_application":    a.Details.PrimaryApplication,
		"content_type":           a.Details.ContentType,
		"productivity_indicator": a.Details.ProductivityIndicator,
		"distraction_level":      a.Details.DistractionLevel,
	}
	if a.Fallback() {
		meta["fallback_analysis"] = true
	}
	return meta
}

// Apply advances the state machine with one classification observed at t.
// It returns the activity that is open after the transition.
func (m *Merger) Apply(ctx context.Context, analysis *models.Analysis, t time.Time, gapThreshold time.Duration) (*models.Activity, error) {
	if analysis == nil {
		return m.open, nil
	}
	t = t.UTC()

	if m.open != nil {
		sameCategory := m.open.Category == analysis.Category
		withinGap := !t.After(m.lastUpdate.Add(gapThreshold))

		if sameCategory && withinGap {
			// Continue in place: metadata refresh only, no new row.
			patch := models.ActivityPatch{Metadata: analysisMetadata(analysis)}
			if err := m.store.UpdateActivity(ctx, m.open.ID, m.ownerID, patch); err != nil {
				return m.open, fmt.Errorf("activity continue error: %w", err)
			}
			m.open.Metadata = patch.Metadata
			m.open.UpdatedAt = t
			m.lastUpdate = t
			return m.open, nil
		}

		if err := m.closeOpen(ctx, t); err != nil {
			return m.open, err
		}
	}

	created, err := m.store.CreateActivity(ctx, &models.Activity{
		OwnerID:   m.ownerID,
		Title:     analysis.Title,
		Category:  analysis.Category,
		StartTime: t,
		Status:    models.ActivityActive,
		Metadata:  analysisMetadata(analysis),
	})
	if err != nil {
		return nil, fmt.Errorf("activity create error: %w", err)
	}
	m.open = created
	m.lastUpdate = t
	return m.open, nil
}

// closeOpen completes the open activity with end time t and persists it.
func (m *Merger) closeOpen(ctx context.Context, t time.Time) error {
	a := m.open
	a.Close(t)

	patch := models.ActivityPatch{
		EndTime:    a.EndTime,
		DurationMs: &a.DurationMs,
		Status:     &a.Status,
	}
	if err := m.store.UpdateActivity(ctx, a.ID, m.ownerID, patch); err != nil {
		return fmt.Errorf("activity close error: %w", err)
	}
	m.open = nil
	return nil
}

// Close ends the open activity at "now", regardless of classifier state.
// Calling Close while idle is a no-op; the activity is closed exactly once.
func (m *Merger) Close(ctx context.Context, now time.Time) error {
	if m.open == nil {
		return nil
	}
	return m.closeOpen(ctx, now.UTC())
}
