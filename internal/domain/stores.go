package domain

import (
	"context"
	"time"
)

// MirrorStore is the persistent mirror registry.
type MirrorStore interface {
	// Insert records a freshly created mirror. A (source, source id) or
	// contract id collision returns ErrDuplicateMirror.
	Insert(ctx context.Context, rec *MirrorRecord) error

	// GetBySource looks up the mirror for a source question, if any.
	GetBySource(ctx context.Context, source Source, sourceID string) (*MirrorRecord, error)

	// GetByContractID looks up a mirror by its destination contract id.
	GetByContractID(ctx context.Context, contractID string) (*MirrorRecord, error)

	// FindByDestinationURL looks up a mirror by destination market URL or slug.
	FindByDestinationURL(ctx context.Context, rawURL string) (*MirrorRecord, error)

	// ListUnresolved returns mirrors still awaiting a source resolution,
	// optionally restricted to one source platform (empty Source = all).
	ListUnresolved(ctx context.Context, source Source) ([]MirrorRecord, error)

	// ListAll returns every mirror, optionally filtered by resolved state.
	ListAll(ctx context.Context, resolvedOnly bool) ([]MirrorRecord, error)

	// ListResolvedBefore returns mirrors resolved strictly before the cutoff,
	// oldest first. Used by the archiver.
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]MirrorRecord, error)

	// CountCreatedSince counts mirrors for a source created at or after the
	// cutoff. Drives the trailing-window clone quota.
	CountCreatedSince(ctx context.Context, source Source, cutoff time.Time) (int64, error)

	// MarkResolved flips the resolved flag exactly once. A second call for
	// the same mirror returns ErrAlreadyResolved.
	MarkResolved(ctx context.Context, id int64, at time.Time) error
}

// ThirdPartyMirrorStore tracks mirrors created by other users.
type ThirdPartyMirrorStore interface {
	// Upsert records a third-party mirror; re-seeing a known contract id is
	// not an error.
	Upsert(ctx context.Context, m *ThirdPartyMirror) error

	// GetBySource looks up a third-party mirror of a source question.
	GetBySource(ctx context.Context, source Source, sourceID string) (*ThirdPartyMirror, error)

	// ListAll returns every tracked third-party mirror.
	ListAll(ctx context.Context) ([]ThirdPartyMirror, error)
}

// ManagramStore is the persistent log of received managrams.
type ManagramStore interface {
	// Insert stores a newly fetched managram. Duplicate txn ids are ignored.
	Insert(ctx context.Context, m *Managram) error

	// LastTimestamp returns the creation time of the newest stored managram,
	// or the zero time when none exist. Fetches resume from here.
	LastTimestamp(ctx context.Context) (time.Time, error)

	// ListUnprocessed returns stored managrams not yet acted on, oldest first.
	ListUnprocessed(ctx context.Context) ([]Managram, error)

	// ListProcessedBefore returns processed managrams created strictly before
	// the cutoff. Used by the archiver.
	ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]Managram, error)

	// MarkProcessed flags a managram as handled. Called before any refund so
	// a crash cannot double-refund.
	MarkProcessed(ctx context.Context, txnID string) error
}

// Reservation is a provisional claim on one unit of clone quota. Exactly one
// of Confirm or Release must be called; unconfirmed reservations expire on
// their own after a grace period.
type Reservation interface {
	Confirm(ctx context.Context) error
	Release(ctx context.Context) error
}

// QuotaReserver hands out short-lived quota reservations that bridge the gap
// between the quota check and the registry insert.
type QuotaReserver interface {
	// Reserve claims one pending slot if fewer than remaining are already
	// pending. Returns ErrQuotaExceeded when the budget is spent.
	Reserve(ctx context.Context, source Source, remaining int64) (Reservation, error)
}

// LockManager provides short mutual-exclusion locks keyed by name, used to
// serialize creation attempts for the same source question.
type LockManager interface {
	// Acquire takes the named lock or returns ErrLockHeld.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// BlobWriter persists a payload under a key in cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, payload []byte, contentType string) (string, error)
}

// Archiver moves aged registry rows into cold storage.
type Archiver interface {
	// ArchiveResolvedMirrors writes mirrors resolved before the cutoff as
	// monthly JSONL objects and reports how many rows were written.
	ArchiveResolvedMirrors(ctx context.Context, cutoff time.Time) (int, error)

	// ArchiveManagrams writes processed managrams created before the cutoff.
	ArchiveManagrams(ctx context.Context, cutoff time.Time) (int, error)
}
