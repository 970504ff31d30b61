package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/glimpse-app/glimpse/internal/capture"
	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

// recentCaptureLimit bounds the in-memory ring of classifier summaries
// exposed through Status.
const recentCaptureLimit = 10

// Classifier produces an analysis for a captured frame, or nil when
// disabled or on a hard failure.
type Classifier interface {
	Classify(ctx context.Context, frame *capture.Frame) (*models.Analysis, error)
	Enabled() bool
}

// ImageArchiver persists raw capture images outside the database.
// Optional; a nil archiver disables archival.
type ImageArchiver interface {
	Archive(ctx context.Context, ownerID string, png []byte, ts time.Time) (string, error)
}

// Status is the snapshot broadcast to listeners after every successful
// classification and returned by GetStatus.
type Status struct {
	IsTracking      bool                   `json:"is_tracking"`
	CurrentActivity *models.Activity       `json:"current_activity,omitempty"`
	LastAnalysis    *models.Analysis       `json:"last_analysis,omitempty"`
	Interval        time.Duration          `json:"interval"`
	NextTickIn      time.Duration          `json:"next_tick_in"`
	RecentCaptures  []models.CaptureRecord `json:"recent_captures"`
}

// Listener receives status snapshots. Called synchronously after each tick;
// keep it fast.
type Listener func(Status)

// Scheduler drives the capture-classify-merge pipeline on a single timer.
// One tick fully completes (capture, classification, merge, persistence)
// before the timer is re-armed, so ticks never overlap.
type Scheduler struct {
	store      Store
	capturer   capture.Capturer
	classifier Classifier
	archiver   ImageArchiver
	merger     *Merger
	ownerID    string
	logger     logging.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	interval  time.Duration
	gapFactor int
	nextTick  time.Time
	// current is a snapshot of the merger's open activity, republished
	// after each tick. The merger's own value is only touched under tickMu.
	current   *models.Activity
	last      *models.Analysis
	recent    []models.CaptureRecord
	listeners []Listener

	// tickMu serializes scheduled ticks with manual CaptureOnce calls.
	tickMu sync.Mutex
}

// NewScheduler wires the pipeline. archiver may be nil.
func NewScheduler(store Store, capturer capture.Capturer, classifier Classifier,
	archiver ImageArchiver, ownerID string, interval time.Duration, gapFactor int,
	logger logging.Logger) *Scheduler {
	if gapFactor <= 0 {
		gapFactor = 2
	}
	return &Scheduler{
		store:      store,
		capturer:   capturer,
		classifier: classifier,
		archiver:   archiver,
		merger:     NewMerger(store, ownerID, logger),
		ownerID:    ownerID,
		interval:   interval,
		gapFactor:  gapFactor,
		logger:     logger,
	}
}

// Subscribe registers a listener for status broadcasts.
func (s *Scheduler) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start begins tracking: one capture immediately, then one per interval.
// Idempotent: a second call returns ErrTrackingActive and changes nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return common.ErrTrackingActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(runCtx, done)
	return nil
}

// loop runs ticks until the context is canceled. The timer is re-armed only
// after a tick fully completes, which is what guarantees non-overlap.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0) // immediate first tick
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)

			s.mu.Lock()
			interval := s.interval
			s.nextTick = time.Now().Add(interval)
			s.mu.Unlock()

			timer.Reset(interval)
		}
	}
}

// Stop cancels the timer and closes the open activity, if any. Safe to call
// mid-tick: the in-flight tick finishes (or its classify call is canceled),
// and the activity ends up closed exactly once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		// A manual CaptureOnce may have opened an activity while the
		// schedule was idle; it still has to be completed here.
		if err := s.closeOpen(ctx); err != nil {
			return err
		}
		return common.ErrTrackingNotActive
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	// The loop has exited; no tick can race this close.
	return s.closeOpen(ctx)
}

// closeOpen completes the open activity, if any, and clears the published
// snapshot. Serialized against ticks.
func (s *Scheduler) closeOpen(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if err := s.merger.Close(context.WithoutCancel(ctx), time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return nil
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval changes the tick period. Takes effect when the timer is next
// re-armed, without restarting tracking or closing the open activity.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// GetStatus returns the current tracking snapshot.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() Status {
	var next time.Duration
	if s.running && !s.nextTick.IsZero() {
		if d := time.Until(s.nextTick); d > 0 {
			next = d
		}
	}
	recent := make([]models.CaptureRecord, len(s.recent))
	copy(recent, s.recent)
	return Status{
		IsTracking:      s.running,
		CurrentActivity: s.current.Clone(),
		LastAnalysis:    s.last,
		Interval:        s.interval,
		NextTickIn:      next,
		RecentCaptures:  recent,
	}
}

// broadcast sends the current status to all listeners.
func (s *Scheduler) broadcast() {
	s.mu.Lock()
	status := s.statusLocked()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
}

// settings loads the owner's settings, falling back to defaults when none
// are saved or the read fails.
func (s *Scheduler) settings(ctx context.Context) *models.Settings {
	st, err := s.store.GetSettings(ctx, s.ownerID)
	if err != nil || st == nil {
		return models.DefaultSettings(s.ownerID)
	}
	return st
}

// CaptureOnce performs one capture-classify-merge pass on demand, outside
// the schedule. Serialized against scheduled ticks.
func (s *Scheduler) CaptureOnce(ctx context.Context) (*models.Analysis, error) {
	return s.runTick(ctx)
}

// tick is one scheduled pass. Failures are logged and skipped; nothing
// tears the scheduler down.
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runTick(ctx); err != nil {
		s.logger.Warn(ctx, "tick skipped", "error", err)
	}
}

func (s *Scheduler) runTick(ctx context.Context) (*models.Analysis, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	settings := s.settings(ctx)

	frame, err := s.capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}

	var analysis *models.Analysis
	if settings.AIAnalysisEnabled {
		// A hard classifier failure comes back as (nil, nil), identical
		// to the classifier being disabled.
		analysis, _ = s.classifier.Classify(ctx, frame)
	}

	record := s.buildRecord(ctx, frame, analysis, settings)
	if _, err := s.store.StoreCapture(ctx, record); err != nil {
		// Write failures surface in the log; the next tick retries with
		// fresh data.
		s.logger.Error(ctx, "capture record write failed", "error", err)
	} else {
		s.mu.Lock()
		s.recent = append(s.recent, *record)
		if len(s.recent) > recentCaptureLimit {
			s.recent = s.recent[len(s.recent)-recentCaptureLimit:]
		}
		s.mu.Unlock()
	}

	if analysis != nil && settings.Allows(analysis.Category) {
		open, err := s.merger.Apply(ctx, analysis, frame.Timestamp, s.gapThreshold(settings))
		if err != nil {
			s.logger.Error(ctx, "merge failed", "error", err)
		}
		// Status readers see a snapshot of the open activity, never the
		// merger's live value the next tick will mutate.
		s.mu.Lock()
		s.current = open.Clone()
		s.last = analysis
		s.mu.Unlock()
		s.broadcast()
	}

	return analysis, nil
}

func (s *Scheduler) gapThreshold(settings *models.Settings) time.Duration {
	interval := settings.CaptureInterval
	if interval <= 0 {
		s.mu.Lock()
		interval = s.interval
		s.mu.Unlock()
	}
	return time.Duration(s.gapFactor) * interval
}

// buildRecord assembles the immutable capture record for this tick.
// Privacy mode keeps the record but strips detailed metadata; the archive
// upload is skipped entirely.
func (s *Scheduler) buildRecord(ctx context.Context, frame *capture.Frame,
	analysis *models.Analysis, settings *models.Settings) *models.CaptureRecord {

	record := &models.CaptureRecord{
		OwnerID:     s.ownerID,
		Timestamp:   frame.Timestamp,
		ContentHash: frame.Hash(),
		Category:    models.CategoryOther,
	}
	if analysis != nil {
		record.Category = analysis.Category
		record.Confidence = analysis.Confidence
		record.Productive = analysis.Details.ProductivityIndicator
	}

	if settings.PrivacyMode {
		return record
	}

	meta := map[string]any{
		"width":  frame.Width,
		"height": frame.Height,
	}
	if analysis != nil {
		meta["activity_title"] = analysis.Title
		meta["primary_application"] = analysis.Details.PrimaryApplication
		meta["content_type"] = analysis.Details.ContentType
		meta["distraction_level"] = analysis.Details.DistractionLevel
		if analysis.Fallback() {
			meta["fallback_analysis"] = true
		}
	}
	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, s.ownerID, frame.PNG, frame.Timestamp)
		if err != nil {
			s.logger.Warn(ctx, "image archive failed", "error", err)
		} else {
			meta["image_key"] = key
		}
	}
	record.Metadata = meta
	return record
}
