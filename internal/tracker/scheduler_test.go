package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpse-app/glimpse/internal/capture"
	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

type fakeCapturer struct {
	err   error
	calls atomic.Int64
}

func (f *fakeCapturer) Capture(ctx context.Context) (*capture.Frame, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &capture.Frame{
		PNG:       []byte{0x89, 0x50, 0x4e, 0x47},
		Width:     1920,
		Height:    1080,
		Timestamp: time.Now().UTC(),
	}, nil
}

type fakeClassifier struct {
	analysis *models.Analysis
	calls    atomic.Int64
}

func (f *fakeClassifier) Classify(ctx context.Context, frame *capture.Frame) (*models.Analysis, error) {
	f.calls.Add(1)
	return f.analysis, nil
}

func (f *fakeClassifier) Enabled() bool { return f.analysis != nil }

type fakeArchiver struct {
	key string
	err error
}

func (f *fakeArchiver) Archive(ctx context.Context, ownerID string, png []byte, ts time.Time) (string, error) {
	return f.key, f.err
}

func newTestScheduler(store *fakeStore, cls *fakeClassifier) *Scheduler {
	return NewScheduler(store, &fakeCapturer{}, cls, nil, "owner1",
		time.Hour, 2, logging.NewDefault())
}

func TestScheduler_StartIdempotent(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store, &fakeClassifier{analysis: focusAnalysis("Coding")})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.ErrorIs(t, s.Start(context.Background()), common.ErrTrackingActive)
	assert.True(t, s.Running())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store, &fakeClassifier{})

	assert.ErrorIs(t, s.Stop(context.Background()), common.ErrTrackingNotActive)
}

func TestScheduler_FirstTickIsImmediate(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		st := s.GetStatus()
		return st.CurrentActivity != nil && len(st.RecentCaptures) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status := s.GetStatus()
	assert.True(t, status.IsTracking)
	require.NotNil(t, status.CurrentActivity)
	assert.Equal(t, models.CategoryFocus, status.CurrentActivity.Category)
	assert.Len(t, status.RecentCaptures, 1)
}

func TestScheduler_StopClosesOpenActivity(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return cls.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))

	assert.False(t, s.Running())
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.activities, 1)
	for _, a := range store.activities {
		assert.Equal(t, models.ActivityCompleted, a.Status)
		assert.NotNil(t, a.EndTime)
	}
}

func TestScheduler_StatusConcurrentWithTicks(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := NewScheduler(store, &fakeCapturer{}, cls, nil, "owner1",
		time.Millisecond, 2, logging.NewDefault())

	require.NoError(t, s.Start(context.Background()))

	// Hammer the status surface while ticks keep continuing the open
	// activity. The race detector fails this if readers ever see the
	// merger's live value.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(200 * time.Millisecond)
		for time.Now().Before(deadline) {
			st := s.GetStatus()
			if st.CurrentActivity != nil {
				_ = st.CurrentActivity.Metadata["activity_title"]
				_ = st.CurrentActivity.UpdatedAt
			}
		}
	}()
	<-done

	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StatusReturnsActivityCopy(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)

	first := s.GetStatus().CurrentActivity
	require.NotNil(t, first)
	first.Title = "mutated"
	first.Metadata["activity_title"] = "mutated"

	second := s.GetStatus().CurrentActivity
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, "Coding", second.Title)
	assert.Equal(t, "Coding", second.Metadata["activity_title"])
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return cls.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return cls.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_CaptureOnce(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	analysis, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, models.CategoryFocus, analysis.Category)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.captures, 1)
	record := store.captures[0]
	assert.Equal(t, models.CategoryFocus, record.Category)
	assert.NotEmpty(t, record.ContentHash)
	assert.Equal(t, 1920, record.Metadata["width"])
}

func TestScheduler_StopClosesManualCaptureActivity(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	// A manual capture while the schedule is idle opens an activity.
	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.GetStatus().CurrentActivity)

	// Stop still reports that nothing was scheduled, but the activity
	// must not be left open.
	assert.ErrorIs(t, s.Stop(context.Background()), common.ErrTrackingNotActive)
	assert.Nil(t, s.GetStatus().CurrentActivity)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.activities, 1)
	for _, a := range store.activities {
		assert.Equal(t, models.ActivityCompleted, a.Status)
		assert.NotNil(t, a.EndTime)
	}
}

func TestScheduler_CaptureFailureSkipsTick(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := NewScheduler(store, &fakeCapturer{err: common.ErrCaptureFailed}, cls, nil,
		"owner1", time.Hour, 2, logging.NewDefault())

	_, err := s.CaptureOnce(context.Background())
	assert.ErrorIs(t, err, common.ErrCaptureFailed)

	assert.Equal(t, int64(0), cls.calls.Load())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.captures)
	assert.Empty(t, store.activities)
}

func TestScheduler_PrivacyModeStripsMetadata(t *testing.T) {
	store := newFakeStore()
	store.settings = &models.Settings{
		OwnerID:           "owner1",
		CaptureInterval:   time.Hour,
		AIAnalysisEnabled: true,
		PrivacyMode:       true,
	}
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.captures, 1)
	record := store.captures[0]
	assert.Nil(t, record.Metadata)
	// The record itself is still written with its category and hash.
	assert.Equal(t, models.CategoryFocus, record.Category)
	assert.NotEmpty(t, record.ContentHash)
}

func TestScheduler_AIDisabledSkipsClassifier(t *testing.T) {
	store := newFakeStore()
	store.settings = &models.Settings{
		OwnerID:         "owner1",
		CaptureInterval: time.Hour,
	}
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	analysis, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, analysis)
	assert.Equal(t, int64(0), cls.calls.Load())

	// The capture record is still written, tagged with the neutral category.
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.captures, 1)
	assert.Equal(t, models.CategoryOther, store.captures[0].Category)
	assert.Empty(t, store.activities)
}

func TestScheduler_DisallowedCategoryNotMerged(t *testing.T) {
	store := newFakeStore()
	store.settings = &models.Settings{
		OwnerID:           "owner1",
		CaptureInterval:   time.Hour,
		AIAnalysisEnabled: true,
		AllowedCategories: []models.Category{models.CategoryFocus},
	}
	cls := &fakeClassifier{analysis: commAnalysis()}
	s := newTestScheduler(store, cls)

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.captures, 1)
	assert.Empty(t, store.activities)
}

func TestScheduler_ArchiverKeyRecorded(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := NewScheduler(store, &fakeCapturer{}, cls, &fakeArchiver{key: "captures/owner1/img.png"},
		"owner1", time.Hour, 2, logging.NewDefault())

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.captures, 1)
	assert.Equal(t, "captures/owner1/img.png", store.captures[0].Metadata["image_key"])
}

func TestScheduler_ArchiverFailureKeepsRecord(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := NewScheduler(store, &fakeCapturer{}, cls, &fakeArchiver{err: errors.New("bucket gone")},
		"owner1", time.Hour, 2, logging.NewDefault())

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.captures, 1)
	_, hasKey := store.captures[0].Metadata["image_key"]
	assert.False(t, hasKey)
}

func TestScheduler_SetInterval(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store, &fakeClassifier{})

	s.SetInterval(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, s.GetStatus().Interval)

	// Non-positive intervals are ignored.
	s.SetInterval(0)
	assert.Equal(t, 5*time.Minute, s.GetStatus().Interval)
}

func TestScheduler_BroadcastToListeners(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	var got atomic.Int64
	s.Subscribe(func(st Status) {
		if st.CurrentActivity != nil {
			got.Add(1)
		}
	})

	_, err := s.CaptureOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Load())
}

func TestScheduler_RecentCapturesBounded(t *testing.T) {
	store := newFakeStore()
	cls := &fakeClassifier{analysis: focusAnalysis("Coding")}
	s := newTestScheduler(store, cls)

	for i := 0; i < recentCaptureLimit+5; i++ {
		_, err := s.CaptureOnce(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, s.GetStatus().RecentCaptures, recentCaptureLimit)
}
