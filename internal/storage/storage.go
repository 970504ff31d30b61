// Package storage defines the backend-agnostic persistence contract and the
// factory that selects one of the two implementations at startup.
//
// Error contract, identical across backends:
//   - list and aggregate reads never fail: on a storage-layer error the
//     backend logs it and returns an empty collection with a nil error;
//   - point reads return common.ErrorNotFound when the row is missing;
//   - writes (create/update/upsert) surface their errors so callers can
//     decide to retry on the next tick.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glimpse-app/glimpse/internal/config"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
	"github.com/glimpse-app/glimpse/internal/storage/postgres"
	"github.com/glimpse-app/glimpse/internal/storage/sqlite"
)

// Store is the persistence contract every higher component depends on.
// Both the embedded SQLite backend and the remote Postgres backend must
// behave identically for every method.
type Store interface {
	// Initialize runs schema migrations. Safe to call more than once.
	Initialize(ctx context.Context) error
	Close() error

	// CreateActivity inserts a new activity; the store assigns the id and
	// the created/updated timestamps, and returns the stored value.
	CreateActivity(ctx context.Context, a *models.Activity) (*models.Activity, error)
	// UpdateActivity applies an owner-scoped patch. The id and creation
	// timestamp are never modified.
	UpdateActivity(ctx context.Context, id, ownerID string, patch models.ActivityPatch) error
	ActivityByID(ctx context.Context, id, ownerID string) (*models.Activity, error)
	// ActivitiesByDate lists activities starting within the calendar day of
	// date (UTC).
	ActivitiesByDate(ctx context.Context, date time.Time, ownerID string) ([]models.Activity, error)
	ActivitiesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.Activity, error)

	GetGoals(ctx context.Context, ownerID string) (*models.Goals, error)
	SaveGoals(ctx context.Context, g *models.Goals) error
	GetSettings(ctx context.Context, ownerID string) (*models.Settings, error)
	SaveSettings(ctx context.Context, s *models.Settings) error

	StoreCapture(ctx context.Context, c *models.CaptureRecord) (*models.CaptureRecord, error)
	CapturesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.CaptureRecord, error)

	// ActivityStats groups completed activities by category with
	// count/sum/avg duration.
	ActivityStats(ctx context.Context, start, end time.Time, ownerID string) ([]models.CategoryStat, error)
	// ProductivityTrends groups capture records by day, category and
	// productivity indicator.
	ProductivityTrends(ctx context.Context, start, end time.Time, ownerID string) ([]models.TrendPoint, error)
}

// New selects and constructs the backend once, based on the deployment-mode
// flag in cfg. Calling code never branches on the backend again.
func New(cfg *config.Config, logger logging.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		return sqlite.New(cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return postgres.New(cfg.DatabaseDSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
