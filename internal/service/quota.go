package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// quotaWindow is the trailing window over which clone quotas are counted.
const quotaWindow = 24 * time.Hour

// QuotaTracker enforces the per-source clone budget. The budget counts
// mirrors created in the trailing window plus reservations held by passes
// that have not finished yet, so concurrent runs cannot overshoot the limit.
type QuotaTracker struct {
	mirrors  domain.MirrorStore
	reserver domain.QuotaReserver
	limits   map[domain.Source]int64
	logger   *slog.Logger
}

// NewQuotaTracker creates a QuotaTracker. A zero or negative limit for a
// source disables quota enforcement for that source.
func NewQuotaTracker(
	mirrors domain.MirrorStore,
	reserver domain.QuotaReserver,
	limits map[domain.Source]int64,
	logger *slog.Logger,
) *QuotaTracker {
	return &QuotaTracker{
		mirrors:  mirrors,
		reserver: reserver,
		limits:   limits,
		logger:   logger.With(slog.String("component", "quota")),
	}
}

// Reserve claims one slot of the source's clone budget. It returns
// domain.ErrQuotaExceeded when the trailing-window budget is spent. The
// returned reservation must be confirmed after the mirror is recorded or
// released on failure.
func (t *QuotaTracker) Reserve(ctx context.Context, source domain.Source) (domain.Reservation, error) {
	limit := t.limits[source]
	if limit <= 0 {
		return noopReservation{}, nil
	}

	cutoff := time.Now().Add(-quotaWindow)
	count, err := t.mirrors.CountCreatedSince(ctx, source, cutoff)
	if err != nil {
		return nil, fmt.Errorf("quota: count recent mirrors for %s: %w", source, err)
	}

	remaining := limit - count
	if remaining <= 0 {
		return nil, domain.ErrQuotaExceeded
	}

	res, err := t.reserver.Reserve(ctx, source, remaining)
	if err != nil {
		return nil, err
	}

	t.logger.DebugContext(ctx, "quota slot reserved",
		slog.String("source", string(source)),
		slog.Int64("used", count),
		slog.Int64("limit", limit),
	)
	return res, nil
}

// noopReservation is handed out when a source has no quota configured.
type noopReservation struct{}

func (noopReservation) Confirm(context.Context) error { return nil }
func (noopReservation) Release(context.Context) error { return nil }
