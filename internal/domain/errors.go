package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrResourceExhausted = errors.New("resource pool exhausted")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrRegenerationLimit = errors.New("regeneration limit reached")
)
