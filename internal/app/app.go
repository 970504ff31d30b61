// Package app wires the glimpse components together and exposes the command
// surface consumed by the desktop shell and dashboard (which live outside
// this repository).
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/glimpse-app/glimpse/internal/analytics"
	"github.com/glimpse-app/glimpse/internal/blob"
	"github.com/glimpse-app/glimpse/internal/cache"
	"github.com/glimpse-app/glimpse/internal/capture"
	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/config"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
	"github.com/glimpse-app/glimpse/internal/refs"
	"github.com/glimpse-app/glimpse/internal/storage"
	"github.com/glimpse-app/glimpse/internal/tracker"
	"github.com/glimpse-app/glimpse/internal/vault"
	"github.com/glimpse-app/glimpse/internal/vision"
)

// App is the composition root. Everything is constructed once here and
// passed down explicitly; no package-level singletons.
type App struct {
	cfg    *config.Config
	logger logging.Logger

	store      storage.Store
	vault      *vault.Vault
	refsCache  *cache.Cache[[]refs.Paper]
	refsClient *refs.Client
	images     *blob.ImageStore
	scheduler  *tracker.Scheduler
	analytics  *analytics.Engine
}

// NewApp builds the full dependency graph from cfg. The storage backend is
// selected exactly once, here.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	v, err := vault.New(cfg.VaultDir, []byte(cfg.VaultSecret), logger)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	var genaiClient *genai.Client
	if cfg.GeminiAPIKey != "" {
		genaiClient, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			return nil, fmt.Errorf("genai client error: %w", err)
		}
	}
	classifier := vision.New(genaiClient, cfg.GeminiModel, cfg.ClassifyTimeout, logger)

	var images *blob.ImageStore
	var archiver tracker.ImageArchiver
	if cfg.S3Enabled() {
		images = blob.NewImageStore(cfg)
		archiver = images
	}

	scheduler := tracker.NewScheduler(store, capture.New(logger), classifier,
		archiver, cfg.OwnerID, cfg.CaptureInterval, cfg.GapFactor, logger)

	refsCache := cache.New[[]refs.Paper](cfg.CacheSweepInterval)
	refsClient := refs.NewClient(cfg.RefsBaseURL, cfg.OwnerID, v, refsCache, cfg.CacheTTL, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		vault:      v,
		refsCache:  refsCache,
		refsClient: refsClient,
		images:     images,
		scheduler:  scheduler,
		analytics:  analytics.NewEngine(store, cfg.OwnerID, logger),
	}, nil
}

// Scheduler exposes the scheduler for status subscriptions.
func (a *App) Scheduler() *tracker.Scheduler {
	return a.scheduler
}

// Refs exposes the reference-manager client.
func (a *App) Refs() *refs.Client {
	return a.refsClient
}

// Run initializes storage, starts tracking, and blocks until the context is
// canceled or a termination signal arrives. The open activity is closed on
// the way out.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigs
		cancel()
	}()

	if err := a.store.Initialize(ctx); err != nil {
		return fmt.Errorf("storage migrations error: %w", err)
	}

	a.logger.Info(ctx, "starting tracker",
		"owner", a.cfg.OwnerID,
		"backend", string(a.cfg.StorageBackend),
		"interval", a.cfg.CaptureInterval)

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	a.logger.Info(ctx, "shutting down")
	if err := a.scheduler.Stop(context.WithoutCancel(ctx)); err != nil &&
		!errors.Is(err, common.ErrTrackingNotActive) {
		a.logger.Error(ctx, "scheduler stop error", "error", err)
	}

	a.refsCache.Close()
	return a.store.Close()
}

// CommandResult is the uniform reply for start/stop commands.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StartTracking begins the capture schedule. Calling it while tracking is
// already active reports that, not an error.
func (a *App) StartTracking(ctx context.Context) CommandResult {
	if err := a.scheduler.Start(ctx); err != nil {
		if errors.Is(err, common.ErrTrackingActive) {
			return CommandResult{Success: true, Message: "already tracking"}
		}
		return CommandResult{Success: false, Message: err.Error()}
	}
	return CommandResult{Success: true, Message: "tracking started"}
}

// StopTracking cancels the schedule and closes the open activity.
func (a *App) StopTracking(ctx context.Context) CommandResult {
	if err := a.scheduler.Stop(ctx); err != nil {
		if errors.Is(err, common.ErrTrackingNotActive) {
			return CommandResult{Success: true, Message: "not tracking"}
		}
		return CommandResult{Success: false, Message: err.Error()}
	}
	return CommandResult{Success: true, Message: "tracking stopped"}
}

// StatusResponse is the reply for the tracking-status command.
type StatusResponse struct {
	tracker.Status
	Settings *models.Settings `json:"settings"`
}

// TrackingStatus returns the live scheduler snapshot plus current settings.
func (a *App) TrackingStatus(ctx context.Context) StatusResponse {
	settings, err := a.store.GetSettings(ctx, a.cfg.OwnerID)
	if err != nil {
		settings = models.DefaultSettings(a.cfg.OwnerID)
	}
	return StatusResponse{Status: a.scheduler.GetStatus(), Settings: settings}
}

// CaptureResult is the reply for a manual capture-and-analyze command.
type CaptureResult struct {
	Success   bool             `json:"success"`
	Analysis  *models.Analysis `json:"analysis,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Error     string           `json:"error,omitempty"`
}

// CaptureNow performs one on-demand capture outside the schedule.
func (a *App) CaptureNow(ctx context.Context) CaptureResult {
	analysis, err := a.scheduler.CaptureOnce(ctx)
	if err != nil {
		return CaptureResult{Success: false, Timestamp: time.Now().UTC(), Error: err.Error()}
	}
	return CaptureResult{Success: true, Analysis: analysis, Timestamp: time.Now().UTC()}
}

// UpdateSettings persists new settings and applies the capture interval to
// the running scheduler when it changed.
func (a *App) UpdateSettings(ctx context.Context, s *models.Settings) (*models.Settings, error) {
	s.OwnerID = a.cfg.OwnerID

	previous, err := a.store.GetSettings(ctx, a.cfg.OwnerID)
	if err != nil {
		previous = models.DefaultSettings(a.cfg.OwnerID)
	}

	if err := a.store.SaveSettings(ctx, s); err != nil {
		return nil, err
	}

	if s.CaptureInterval > 0 && s.CaptureInterval != previous.CaptureInterval {
		a.scheduler.SetInterval(s.CaptureInterval)
		a.logger.Info(ctx, "capture interval updated", "interval", s.CaptureInterval)
	}
	return s, nil
}

// Insights generates the analytics report for a timeframe (day|week|month).
func (a *App) Insights(ctx context.Context, timeframe string) (*analytics.Report, error) {
	return a.analytics.Generate(ctx, analytics.Timeframe(timeframe), time.Now())
}

// GetGoals returns the owner's goals, or zero-valued goals when none are
// saved yet.
func (a *App) GetGoals(ctx context.Context) (*models.Goals, error) {
	g, err := a.store.GetGoals(ctx, a.cfg.OwnerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &models.Goals{OwnerID: a.cfg.OwnerID}, nil
		}
		return nil, err
	}
	return g, nil
}

// SaveGoals replaces the owner's goals wholesale.
func (a *App) SaveGoals(ctx context.Context, g *models.Goals) (*models.Goals, error) {
	g.OwnerID = a.cfg.OwnerID
	if err := a.store.SaveGoals(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// StoreCredential saves an encrypted credential blob for a service.
func (a *App) StoreCredential(ctx context.Context, service string, credentials map[string]any) error {
	if service == refs.Service {
		return a.refsClient.SetCredentials(ctx, credentials)
	}
	return a.vault.Store(ctx, service, a.cfg.OwnerID, credentials)
}

// GetCredential returns the decrypted credential blob for a service.
func (a *App) GetCredential(ctx context.Context, service string) (map[string]any, error) {
	return a.vault.Get(ctx, service, a.cfg.OwnerID)
}

// RemoveCredential deletes the credential blob for a service. Removing a
// missing credential succeeds.
func (a *App) RemoveCredential(ctx context.Context, service string) error {
	if service == refs.Service {
		return a.refsClient.ClearCredentials(ctx)
	}
	return a.vault.Remove(ctx, service, a.cfg.OwnerID)
}

// CaptureImageURL returns a presigned download URL for an archived capture
// image, when the archive is configured.
func (a *App) CaptureImageURL(ctx context.Context, key string) (string, error) {
	if a.images == nil {
		return "", fmt.Errorf("image archive not configured")
	}
	return a.images.PresignedGetURL(ctx, key)
}
