// Package sqlite implements the persistence contract on an embedded SQLite
// database (pure-Go driver). Metadata is serialized to JSON text on write and
// parsed back on read; a parse failure degrades to nil metadata.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/dbx"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
	"github.com/glimpse-app/glimpse/internal/storage/sqlite/migrations"
)

// Store is the SQLite-backed implementation of the persistence contract.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New opens (or creates) the database file at path.
func New(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open error: %w", err)
	}
	// modernc.org/sqlite does not tolerate concurrent writers on one handle.
	db.SetMaxOpenConns(1)
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing handle; used by tests with ":memory:".
func NewWithDB(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Initialize runs the embedded goose migrations. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("sqlite migrations error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// marshalMeta serializes metadata for the TEXT column. nil maps become NULL.
func (s *Store) marshalMeta(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("metadata marshal error: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// parseMeta parses the TEXT column back into a map. A parse failure is
// logged and degrades to nil metadata rather than failing the read.
func (s *Store) parseMeta(ctx context.Context, raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		s.logger.Warn(ctx, "unparseable metadata, dropping", "error", err)
		return nil
	}
	return m
}

func (s *Store) CreateActivity(ctx context.Context, a *models.Activity) (*models.Activity, error) {
	meta, err := s.marshalMeta(a.Metadata)
	if err != nil {
		return nil, err
	}

	stored := *a
	stored.ID = uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	var endMs sql.NullInt64
	if stored.EndTime != nil {
		endMs = sql.NullInt64{Int64: stored.EndTime.UnixMilli(), Valid: true}
	}

	// At most one activity per owner is active. Stale active rows (left by a
	// crash) are closed at their last update, in the same transaction as the
	// insert.
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if stored.Status == models.ActivityActive {
			_, err := tx.ExecContext(ctx,
				`UPDATE activities SET status = ?, end_time = updated_at,
				 duration_ms = updated_at - start_time
				 WHERE owner_id = ? AND status = ?`,
				string(models.ActivityCompleted), stored.OwnerID, string(models.ActivityActive))
			if err != nil {
				return fmt.Errorf("failed to close stale activities: %w", err)
			}
		}

		query := `INSERT INTO activities
			(id, owner_id, title, category, start_time, end_time, duration_ms, status, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, query,
			stored.ID, stored.OwnerID, stored.Title, string(stored.Category),
			stored.StartTime.UnixMilli(), endMs, stored.DurationMs, string(stored.Status),
			meta, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) UpdateActivity(ctx context.Context, id, ownerID string, patch models.ActivityPatch) error {
	set := "updated_at = ?"
	args := []any{time.Now().UTC().UnixMilli()}

	if patch.Title != nil {
		set += ", title = ?"
		args = append(args, *patch.Title)
	}
	if patch.Category != nil {
		set += ", category = ?"
		args = append(args, string(*patch.Category))
	}
	if patch.EndTime != nil {
		set += ", end_time = ?"
		args = append(args, patch.EndTime.UnixMilli())
	}
	if patch.DurationMs != nil {
		set += ", duration_ms = ?"
		args = append(args, *patch.DurationMs)
	}
	if patch.Status != nil {
		set += ", status = ?"
		args = append(args, string(*patch.Status))
	}
	if patch.Metadata != nil {
		meta, err := s.marshalMeta(patch.Metadata)
		if err != nil {
			return err
		}
		set += ", metadata = ?"
		args = append(args, meta)
	}

	args = append(args, id, ownerID)
	res, err := s.db.ExecContext(ctx, "UPDATE activities SET "+set+" WHERE id = ? AND owner_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

const activityColumns = `id, owner_id, title, category, start_time, end_time, duration_ms, status, metadata, created_at, updated_at`

func (s *Store) scanActivity(ctx context.Context, scan func(dest ...any) error) (*models.Activity, error) {
	var (
		a                     models.Activity
		category, status      string
		startMs, crMs, updMs  int64
		endMs                 sql.NullInt64
		meta                  sql.NullString
	)
	err := scan(&a.ID, &a.OwnerID, &a.Title, &category, &startMs, &endMs,
		&a.DurationMs, &status, &meta, &crMs, &updMs)
	if err != nil {
		return nil, err
	}
	a.Category = models.Category(category)
	a.Status = models.ActivityStatus(status)
	a.StartTime = time.UnixMilli(startMs).UTC()
	if endMs.Valid {
		t := time.UnixMilli(endMs.Int64).UTC()
		a.EndTime = &t
	}
	a.Metadata = s.parseMeta(ctx, meta)
	a.CreatedAt = time.UnixMilli(crMs).UTC()
	a.UpdatedAt = time.UnixMilli(updMs).UTC()
	return &a, nil
}

func (s *Store) ActivityByID(ctx context.Context, id, ownerID string) (*models.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := s.scanActivity(ctx, row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return a, nil
}

// listActivities runs query and swallows storage failures into an empty
// slice, per the read contract.
func (s *Store) listActivities(ctx context.Context, query string, args ...any) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error(ctx, "activity query failed", "error", err)
		return []models.Activity{}, nil
	}
	defer rows.Close()

	result := []models.Activity{}
	for rows.Next() {
		a, err := s.scanActivity(ctx, rows.Scan)
		if err != nil {
			s.logger.Error(ctx, "activity scan failed", "error", err)
			return []models.Activity{}, nil
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error(ctx, "activity rows error", "error", err)
		return []models.Activity{}, nil
	}
	return result, nil
}

func (s *Store) ActivitiesByDate(ctx context.Context, date time.Time, ownerID string) ([]models.Activity, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	return s.ActivitiesBetween(ctx, day, day.Add(24*time.Hour), ownerID)
}

func (s *Store) ActivitiesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.Activity, error) {
	return s.listActivities(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE owner_id = ? AND start_time >= ? AND start_time < ?
		 ORDER BY start_time`,
		ownerID, start.UTC().UnixMilli(), end.UTC().UnixMilli())
}

func (s *Store) GetGoals(ctx context.Context, ownerID string) (*models.Goals, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, daily_hours, weekly_hours, monthly_hours, updated_at FROM goals WHERE owner_id = ?`,
		ownerID)
	var (
		g     models.Goals
		updMs int64
	)
	if err := row.Scan(&g.OwnerID, &g.DailyHours, &g.WeeklyHours, &g.MonthlyHours, &updMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("goals scan failed: %w", err)
	}
	g.UpdatedAt = time.UnixMilli(updMs).UTC()
	return &g, nil
}

func (s *Store) SaveGoals(ctx context.Context, g *models.Goals) error {
	now := time.Now().UTC()
	query := `INSERT INTO goals (owner_id, daily_hours, weekly_hours, monthly_hours, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			daily_hours = excluded.daily_hours,
			weekly_hours = excluded.weekly_hours,
			monthly_hours = excluded.monthly_hours,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		g.OwnerID, g.DailyHours, g.WeeklyHours, g.MonthlyHours, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert goals: %w", err)
	}
	g.UpdatedAt = now
	return nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (*models.Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, capture_interval_ms, ai_enabled, privacy_mode, allowed_categories, updated_at
		 FROM settings WHERE owner_id = ?`, ownerID)
	var (
		st          models.Settings
		intervalMs  int64
		ai, privacy int
		cats        sql.NullString
		updMs       int64
	)
	if err := row.Scan(&st.OwnerID, &intervalMs, &ai, &privacy, &cats, &updMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("settings scan failed: %w", err)
	}
	st.CaptureInterval = time.Duration(intervalMs) * time.Millisecond
	st.AIAnalysisEnabled = ai != 0
	st.PrivacyMode = privacy != 0
	if cats.Valid && cats.String != "" {
		if err := json.Unmarshal([]byte(cats.String), &st.AllowedCategories); err != nil {
			s.logger.Warn(ctx, "unparseable allowed categories, dropping", "error", err)
			st.AllowedCategories = nil
		}
	}
	st.UpdatedAt = time.UnixMilli(updMs).UTC()
	return &st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st *models.Settings) error {
	var cats sql.NullString
	if len(st.AllowedCategories) > 0 {
		b, err := json.Marshal(st.AllowedCategories)
		if err != nil {
			return fmt.Errorf("categories marshal error: %w", err)
		}
		cats = sql.NullString{String: string(b), Valid: true}
	}
	now := time.Now().UTC()
	query := `INSERT INTO settings (owner_id, capture_interval_ms, ai_enabled, privacy_mode, allowed_categories, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			capture_interval_ms = excluded.capture_interval_ms,
			ai_enabled = excluded.ai_enabled,
			privacy_mode = excluded.privacy_mode,
			allowed_categories = excluded.allowed_categories,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		st.OwnerID, st.CaptureInterval.Milliseconds(), boolInt(st.AIAnalysisEnabled),
		boolInt(st.PrivacyMode), cats, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	st.UpdatedAt = now
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) StoreCapture(ctx context.Context, c *models.CaptureRecord) (*models.CaptureRecord, error) {
	meta, err := s.marshalMeta(c.Metadata)
	if err != nil {
		return nil, err
	}

	stored := *c
	stored.ID = uuid.NewString()

	query := `INSERT INTO captures (id, owner_id, ts, content_hash, category, confidence, productivity, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		stored.ID, stored.OwnerID, stored.Timestamp.UnixMilli(), stored.ContentHash,
		string(stored.Category), stored.Confidence, stored.Productive, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to insert capture: %w", err)
	}
	return &stored, nil
}

func (s *Store) CapturesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.CaptureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, ts, content_hash, category, confidence, productivity, metadata
		 FROM captures WHERE owner_id = ? AND ts >= ? AND ts < ? ORDER BY ts`,
		ownerID, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		s.logger.Error(ctx, "capture query failed", "error", err)
		return []models.CaptureRecord{}, nil
	}
	defer rows.Close()

	result := []models.CaptureRecord{}
	for rows.Next() {
		var (
			c        models.CaptureRecord
			tsMs     int64
			category string
			meta     sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &tsMs, &c.ContentHash, &category,
			&c.Confidence, &c.Productive, &meta); err != nil {
			s.logger.Error(ctx, "capture scan failed", "error", err)
			return []models.CaptureRecord{}, nil
		}
		c.Timestamp = time.UnixMilli(tsMs).UTC()
		c.Category = models.Category(category)
		c.Metadata = s.parseMeta(ctx, meta)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error(ctx, "capture rows error", "error", err)
		return []models.CaptureRecord{}, nil
	}
	return result, nil
}

func (s *Store) ActivityStats(ctx context.Context, start, end time.Time, ownerID string) ([]models.CategoryStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(duration_ms), 0), COALESCE(AVG(duration_ms), 0)
		 FROM activities
		 WHERE owner_id = ? AND status = ? AND start_time >= ? AND start_time < ?
		 GROUP BY category ORDER BY category`,
		ownerID, string(models.ActivityCompleted), start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		s.logger.Error(ctx, "stats query failed", "error", err)
		return []models.CategoryStat{}, nil
	}
	defer rows.Close()

	result := []models.CategoryStat{}
	for rows.Next() {
		var (
			cat  string
			stat models.CategoryStat
		)
		if err := rows.Scan(&cat, &stat.Count, &stat.TotalMs, &stat.AvgMs); err != nil {
			s.logger.Error(ctx, "stats scan failed", "error", err)
			return []models.CategoryStat{}, nil
		}
		stat.Category = models.Category(cat)
		result = append(result, stat)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error(ctx, "stats rows error", "error", err)
		return []models.CategoryStat{}, nil
	}
	return result, nil
}

func (s *Store) ProductivityTrends(ctx context.Context, start, end time.Time, ownerID string) ([]models.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d', ts / 1000, 'unixepoch') AS day,
		        category, productivity, COUNT(*), COALESCE(AVG(confidence), 0)
		 FROM captures
		 WHERE owner_id = ? AND ts >= ? AND ts < ?
		 GROUP BY day, category, productivity
		 ORDER BY day, category, productivity`,
		ownerID, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		s.logger.Error(ctx, "trends query failed", "error", err)
		return []models.TrendPoint{}, nil
	}
	defer rows.Close()

	result := []models.TrendPoint{}
	for rows.Next() {
		var (
			p   models.TrendPoint
			cat string
		)
		if err := rows.Scan(&p.Day, &cat, &p.Productive, &p.Count, &p.AvgConf); err != nil {
			s.logger.Error(ctx, "trends scan failed", "error", err)
			return []models.TrendPoint{}, nil
		}
		p.Category = models.Category(cat)
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error(ctx, "trends rows error", "error", err)
		return []models.TrendPoint{}, nil
	}
	return result, nil
}
