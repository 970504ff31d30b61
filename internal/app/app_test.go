package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpse-app/glimpse/internal/config"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "glimpse.db")
	cfg.VaultDir = filepath.Join(t.TempDir(), "vault")
	cfg.VaultSecret = "test-master-secret"
	cfg.CacheSweepInterval = 0

	a, err := NewApp(context.Background(), cfg, logging.NewDefault())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.refsCache.Close()
		a.store.Close()
	})

	require.NoError(t, a.store.Initialize(context.Background()))
	return a
}

func TestStopTracking_NotActiveIsSuccess(t *testing.T) {
	a := newTestApp(t)

	result := a.StopTracking(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, "not tracking", result.Message)
}

func TestTrackingStatus_DefaultsWithoutSavedSettings(t *testing.T) {
	a := newTestApp(t)

	status := a.TrackingStatus(context.Background())
	assert.False(t, status.IsTracking)
	require.NotNil(t, status.Settings)
	assert.Equal(t, 30*time.Second, status.Settings.CaptureInterval)
	assert.True(t, status.Settings.AIAnalysisEnabled)
}

func TestUpdateSettings_AppliesInterval(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	saved, err := a.UpdateSettings(ctx, &models.Settings{
		CaptureInterval:   60 * time.Second,
		AIAnalysisEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, a.cfg.OwnerID, saved.OwnerID)

	assert.Equal(t, 60*time.Second, a.scheduler.GetStatus().Interval)

	status := a.TrackingStatus(ctx)
	assert.Equal(t, 60*time.Second, status.Settings.CaptureInterval)
}

func TestGoals_Roundtrip(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// No goals saved yet: zero values, not an error.
	g, err := a.GetGoals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, g.DailyHours)

	_, err = a.SaveGoals(ctx, &models.Goals{DailyHours: 6, WeeklyHours: 30})
	require.NoError(t, err)

	g, err = a.GetGoals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6.0, g.DailyHours)
	assert.Equal(t, 30.0, g.WeeklyHours)
}

func TestCredentials_Roundtrip(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	creds := map[string]any{"api_key": "key-123", "username": "alice"}
	require.NoError(t, a.StoreCredential(ctx, "zotero", creds))

	got, err := a.GetCredential(ctx, "zotero")
	require.NoError(t, err)
	assert.Equal(t, "key-123", got["api_key"])
	assert.Equal(t, "alice", got["username"])

	require.NoError(t, a.RemoveCredential(ctx, "zotero"))
	_, err = a.GetCredential(ctx, "zotero")
	assert.Error(t, err)
}

func TestCredentials_RefsServiceRoutesThroughClient(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.StoreCredential(ctx, "refs", map[string]any{"api_key": "k"}))

	got, err := a.GetCredential(ctx, "refs")
	require.NoError(t, err)
	assert.Equal(t, "k", got["api_key"])

	require.NoError(t, a.RemoveCredential(ctx, "refs"))
	_, err = a.GetCredential(ctx, "refs")
	assert.Error(t, err)
}

func TestInsights(t *testing.T) {
	a := newTestApp(t)

	report, err := a.Insights(context.Background(), "week")
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalSessions)
	assert.NotEmpty(t, report.Insights)

	_, err = a.Insights(context.Background(), "decade")
	assert.Error(t, err)
}

func TestCaptureImageURL_NotConfigured(t *testing.T) {
	a := newTestApp(t)

	_, err := a.CaptureImageURL(context.Background(), "captures/owner/img.png")
	assert.ErrorContains(t, err, "not configured")
}
