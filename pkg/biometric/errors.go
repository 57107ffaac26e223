package biometric

import "errors"

var (
	// ErrInsufficientData means the user has not enrolled enough samples to
	// train. The caller should keep enrolling; nothing is wrong.
	ErrInsufficientData = errors.New("biometric: insufficient enrollment data")

	// ErrModelNotTrained means verification ran before the first successful
	// training pass for the user.
	ErrModelNotTrained = errors.New("biometric: model not trained")

	// ErrLiveness means the submitted timing was mechanically uniform,
	// inconsistent with human typing. Treated as a rejected attempt.
	ErrLiveness = errors.New("biometric: liveness check failed")

	// ErrSchemaMismatch means the feature vector was extracted under a
	// different feature schema than the stored bundle was trained with.
	ErrSchemaMismatch = errors.New("biometric: feature schema mismatch")
)
