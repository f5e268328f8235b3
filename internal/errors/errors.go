package errors

import (
	"errors"
)

// Error kinds shared across the moderation pipeline.
var (
	ErrConfigMissing = errors.New("config missing")

	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrMalformedClassification   = errors.New("malformed classification")

	ErrEnforcementFailed = errors.New("enforcement action failed")

	ErrTokenNotFound         = errors.New("verification token not found")
	ErrTokenBusy             = errors.New("verification token busy")
	ErrChallengeNotCompleted = errors.New("challenge not completed")
	ErrChallengeUnreachable  = errors.New("challenge service unreachable")
	ErrInvalidAnswer         = errors.New("invalid answer")
	ErrAnswerMismatch        = errors.New("answer mismatch")

	ErrInvalidInput = errors.New("invalid input")
)
