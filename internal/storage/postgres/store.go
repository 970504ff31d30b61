// Package postgres implements the persistence contract on a remote
// PostgreSQL database via the pgx stdlib driver. Metadata is stored as
// structured JSONB; a corrupt value degrades to nil metadata on read.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/dbx"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
	"github.com/glimpse-app/glimpse/internal/storage/postgres/migrations"
)

// Store is the Postgres-backed implementation of the persistence contract.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New opens a connection pool for the given DSN.
func New(dsn string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing handle; used by tests with sqlmock.
func NewWithDB(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Initialize runs the embedded goose migrations. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("postgres migrations error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// marshalMeta serializes metadata for the JSONB column. nil maps become NULL.
func (s *Store) marshalMeta(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata marshal error: %w", err)
	}
	return b, nil
}

func (s *Store) parseMeta(ctx context.Context, raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
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

	var end *time.Time
	if stored.EndTime != nil {
		t := stored.EndTime.UTC()
		end = &t
	}

	// At most one activity per owner is active. Stale active rows (left by a
	// crash) are closed at their last update, in the same transaction as the
	// insert.
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if stored.Status == models.ActivityActive {
			_, err := tx.ExecContext(ctx,
				`UPDATE activities SET status = $1, end_time = updated_at,
				 duration_ms = (EXTRACT(EPOCH FROM (updated_at - start_time)) * 1000)::bigint
				 WHERE owner_id = $2 AND status = $3`,
				string(models.ActivityCompleted), stored.OwnerID, string(models.ActivityActive))
			if err != nil {
				return fmt.Errorf("failed to close stale activities: %w", err)
			}
		}

		query := `INSERT INTO activities
			(id, owner_id, title, category, start_time, end_time, duration_ms, status, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := tx.ExecContext(ctx, query,
			stored.ID, stored.OwnerID, stored.Title, string(stored.Category),
			stored.StartTime.UTC(), end, stored.DurationMs, string(stored.Status),
			meta, now, now)
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
	set := "updated_at = $1"
	args := []any{time.Now().UTC()}

	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Category != nil {
		add("category", string(*patch.Category))
	}
	if patch.EndTime != nil {
		add("end_time", patch.EndTime.UTC())
	}
	if patch.DurationMs != nil {
		add("duration_ms", *patch.DurationMs)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Metadata != nil {
		meta, err := s.marshalMeta(patch.Metadata)
		if err != nil {
			return err
		}
		add("metadata", meta)
	}

	args = append(args, id, ownerID)
	query := fmt.Sprintf("UPDATE activities SET %s WHERE id = $%d AND owner_id = $%d",
		set, len(args)-1, len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
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
		a                models.Activity
		category, status string
		end              sql.NullTime
		meta             []byte
	)
	err := scan(&a.ID, &a.OwnerID, &a.Title, &category, &a.StartTime, &end,
		&a.DurationMs, &status, &meta, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Category = models.Category(category)
	a.Status = models.ActivityStatus(status)
	a.StartTime = a.StartTime.UTC()
	if end.Valid {
		t := end.Time.UTC()
		a.EndTime = &t
	}
	a.Metadata = s.parseMeta(ctx, meta)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *Store) ActivityByID(ctx context.Context, id, ownerID string) (*models.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1 AND owner_id = $2`, id, ownerID)
	a, err := s.scanActivity(ctx, row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return a, nil
}

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
		 WHERE owner_id = $1 AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time`,
		ownerID, start.UTC(), end.UTC())
}

func (s *Store) GetGoals(ctx context.Context, ownerID string) (*models.Goals, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, daily_hours, weekly_hours, monthly_hours, updated_at FROM goals WHERE owner_id = $1`,
		ownerID)
	var g models.Goals
	if err := row.Scan(&g.OwnerID, &g.DailyHours, &g.WeeklyHours, &g.MonthlyHours, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("goals scan failed: %w", err)
	}
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}

func (s *Store) SaveGoals(ctx context.Context, g *models.Goals) error {
	now := time.Now().UTC()
	query := `INSERT INTO goals (owner_id, daily_hours, weekly_hours, monthly_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) DO UPDATE SET
			daily_hours = EXCLUDED.daily_hours,
			weekly_hours = EXCLUDED.weekly_hours,
			monthly_hours = EXCLUDED.monthly_hours,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		g.OwnerID, g.DailyHours, g.WeeklyHours, g.MonthlyHours, now)
	if err != nil {
		return fmt.Errorf("failed to upsert goals: %w", err)
	}
	g.UpdatedAt = now
	return nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (*models.Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, capture_interval_ms, ai_enabled, privacy_mode, allowed_categories, updated_at
		 FROM settings WHERE owner_id = $1`, ownerID)
	var (
		st         models.Settings
		intervalMs int64
		cats       []byte
	)
	if err := row.Scan(&st.OwnerID, &intervalMs, &st.AIAnalysisEnabled, &st.PrivacyMode, &cats, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("settings scan failed: %w", err)
	}
	st.CaptureInterval = time.Duration(intervalMs) * time.Millisecond
	if len(cats) > 0 {
		if err := json.Unmarshal(cats, &st.AllowedCategories); err != nil {
			s.logger.Warn(ctx, "unparseable allowed categories, dropping", "error", err)
			st.AllowedCategories = nil
		}
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st *models.Settings) error {
	var cats any
	if len(st.AllowedCategories) > 0 {
		b, err := json.Marshal(st.AllowedCategories)
		if err != nil {
			return fmt.Errorf("categories marshal error: %w", err)
		}
		cats = b
	}
	now := time.Now().UTC()
	query := `INSERT INTO settings (owner_id, capture_interval_ms, ai_enabled, privacy_mode, allowed_categories, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			capture_interval_ms = EXCLUDED.capture_interval_ms,
			ai_enabled = EXCLUDED.ai_enabled,
			privacy_mode = EXCLUDED.privacy_mode,
			allowed_categories = EXCLUDED.allowed_categories,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		st.OwnerID, st.CaptureInterval.Milliseconds(), st.AIAnalysisEnabled,
		st.PrivacyMode, cats, now)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	st.UpdatedAt = now
	return nil
}

func (s *Store) StoreCapture(ctx context.Context, c *models.CaptureRecord) (*models.CaptureRecord, error) {
	meta, err := s.marshalMeta(c.Metadata)
	if err != nil {
		return nil, err
	}

	stored := *c
	stored.ID = uuid.NewString()

	query := `INSERT INTO captures (id, owner_id, ts, content_hash, category, confidence, productivity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		stored.ID, stored.OwnerID, stored.Timestamp.UTC(), stored.ContentHash,
		string(stored.Category), stored.Confidence, stored.Productive, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to insert capture: %w", err)
	}
	return &stored, nil
}

func (s *Store) CapturesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.CaptureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, ts, content_hash, category, confidence, productivity, metadata
		 FROM captures WHERE owner_id = $1 AND ts >= $2 AND ts < $3 ORDER BY ts`,
		ownerID, start.UTC(), end.UTC())
	if err != nil {
		s.logger.Error(ctx, "capture query failed", "error", err)
		return []models.CaptureRecord{}, nil
	}
	defer rows.Close()

	result := []models.CaptureRecord{}
	for rows.Next() {
		var (
			c        models.CaptureRecord
			category string
			meta     []byte
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Timestamp, &c.ContentHash, &category,
			&c.Confidence, &c.Productive, &meta); err != nil {
			s.logger.Error(ctx, "capture scan failed", "error", err)
			return []models.CaptureRecord{}, nil
		}
		c.Timestamp = c.Timestamp.UTC()
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
		 WHERE owner_id = $1 AND status = $2 AND start_time >= $3 AND start_time < $4
		 GROUP BY category ORDER BY category`,
		ownerID, string(models.ActivityCompleted), start.UTC(), end.UTC())
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
		`SELECT to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		        category, productivity, COUNT(*), COALESCE(AVG(confidence), 0)
		 FROM captures
		 WHERE owner_id = $1 AND ts >= $2 AND ts < $3
		 GROUP BY day, category, productivity
		 ORDER BY day, category, productivity`,
		ownerID, start.UTC(), end.UTC())
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
