package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateMirror    = errors.New("mirror already exists")
	ErrAlreadyResolved    = errors.New("mirror already resolved")
	ErrQuotaExceeded      = errors.New("daily clone quota exceeded")
	ErrSourceUnavailable  = errors.New("source platform unavailable")
	ErrUnsupportedSource  = errors.New("source platform not supported")
	ErrUnsupportedOutcome = errors.New("outcome shape not supported")
	ErrLockHeld           = errors.New("lock already held")
)
