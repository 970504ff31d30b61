// Package capture takes still images of the current display. The primary
// path shells out to the OS-native screenshot utility for best quality; if
// that is unavailable it falls back to generic display enumeration. Failures
// never panic past this boundary; they come back as errors.
package capture

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/logging"
)

// Frame is one captured screen image.
type Frame struct {
	PNG       []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Hash returns the hex SHA-256 of the image bytes, used for capture-record
// de-duplication.
func (f *Frame) Hash() string {
	sum := sha256.Sum256(f.PNG)
	return hex.EncodeToString(sum[:])
}

// Capturer takes one still image of the current display.
type Capturer interface {
	Capture(ctx context.Context) (*Frame, error)
}

// Adapter is the production Capturer.
type Adapter struct {
	logger logging.Logger

	// Overridable in tests.
	nativeCapture  func(ctx context.Context) (*Frame, error)
	displayCapture func() (*Frame, error)
}

// New constructs an Adapter for the current platform.
func New(logger logging.Logger) *Adapter {
	a := &Adapter{logger: logger}
	a.nativeCapture = a.captureNative
	a.displayCapture = captureDisplay
	return a
}

// Capture tries the native utility first and falls back to display
// enumeration. All failure modes collapse into a wrapped ErrCaptureFailed.
func (a *Adapter) Capture(ctx context.Context) (frame *Frame, err error) {
	defer func() {
		if p := recover(); p != nil {
			frame = nil
			err = fmt.Errorf("%w: panic in capture: %v", common.ErrCaptureFailed, p)
		}
	}()

	frame, nativeErr := a.nativeCapture(ctx)
	if nativeErr == nil {
		return frame, nil
	}
	a.logger.Debug(ctx, "native capture unavailable, falling back", "error", nativeErr)

	frame, fallbackErr := a.displayCapture()
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: native: %v; fallback: %v",
			common.ErrCaptureFailed, nativeErr, fallbackErr)
	}
	return frame, nil
}

// captureNative shells out to the platform screenshot utility and reads the
// resulting PNG from a temp file.
func (a *Adapter) captureNative(ctx context.Context) (*Frame, error) {
	tmp, err := os.CreateTemp("", "glimpse-*.png")
	if err != nil {
		return nil, fmt.Errorf("temp file error: %w", err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		// -x silences the shutter sound.
		cmd = exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", path)
	case "linux":
		if _, err := exec.LookPath("gnome-screenshot"); err == nil {
			cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", path)
		} else {
			// grim covers wlroots compositors.
			cmd = exec.CommandContext(ctx, "grim", path)
		}
	default:
		return nil, fmt.Errorf("no native capture utility for %s", runtime.GOOS)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("native capture error: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture read error: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("capture decode error: %w", err)
	}

	return &Frame{PNG: b, Width: cfg.Width, Height: cfg.Height, Timestamp: time.Now().UTC()}, nil
}

// captureDisplay grabs the primary display via generic enumeration.
func captureDisplay() (*Frame, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active displays")
	}

	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, fmt.Errorf("display capture error: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode error: %w", err)
	}

	bounds := img.Bounds()
	return &Frame{
		PNG:       buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: time.Now().UTC(),
	}, nil
}
