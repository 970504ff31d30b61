// Package common defines shared constants and sentinel errors used across
// glimpse components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Scheduler lifecycle errors.
	ErrTrackingActive    = errors.New("tracking already active")
	ErrTrackingNotActive = errors.New("tracking not active")

	// Vault errors. Encryption being unavailable fails every vault
	// operation closed; nothing is ever written in plaintext.
	ErrEncryptionUnavailable = errors.New("encryption unavailable")

	// Capture / classification errors.
	ErrCaptureFailed   = errors.New("screen capture failed")
	ErrInvalidAnalysis = errors.New("invalid analysis payload")
)
