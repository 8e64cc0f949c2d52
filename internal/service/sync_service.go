package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

// metaculusLinkRe matches Metaculus question links embedded in market
// descriptions, capturing the question id.
var metaculusLinkRe = regexp.MustCompile(`metaculus\.com/questions/(\d+)`)

// SyncStats summarises one resolution sync pass over a single source.
type SyncStats struct {
	Checked  int
	Resolved int
	Failed   int
}

// SyncService propagates source resolutions onto mirrored markets and keeps
// the registry consistent with the destination platform.
type SyncService struct {
	adapters    map[domain.Source]domain.SourceAdapter
	destination *manifold.Client
	mirrors     domain.MirrorStore
	thirdParty  domain.ThirdPartyMirrorStore
	ownUserID   string
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewSyncService creates a SyncService with all required dependencies.
// ownUserID is the bot's destination account id, used to tell its own markets
// apart from third-party mirrors.
func NewSyncService(
	adapters map[domain.Source]domain.SourceAdapter,
	destination *manifold.Client,
	mirrors domain.MirrorStore,
	thirdParty domain.ThirdPartyMirrorStore,
	ownUserID string,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		adapters:    adapters,
		destination: destination,
		mirrors:     mirrors,
		thirdParty:  thirdParty,
		ownUserID:   ownUserID,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "sync_service")),
	}
}

// SyncResolutions checks every unresolved mirror of the given sources against
// its source platform and resolves the destination market when the source has
// resolved. Sources are synced concurrently and fail independently: one
// platform's pass aborting never cancels a sibling's, but every per-source
// failure is carried in the returned error.
func (s *SyncService) SyncResolutions(ctx context.Context, sources []domain.Source) (map[domain.Source]SyncStats, error) {
	results := make(map[domain.Source]SyncStats, len(sources))
	errs := make([]error, len(sources))
	var mu sync.Mutex

	var g errgroup.Group
	for i, source := range sources {
		g.Go(func() error {
			stats, err := s.syncSource(ctx, source)
			mu.Lock()
			results[source] = stats
			errs[i] = err
			mu.Unlock()
			return nil
		})
	}
	// Per-source errors travel through errs so one failing source cannot
	// short-circuit the group.
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// syncSource runs one resolution pass over a single source platform. A
// platform that turns out to be unreachable aborts the pass with an error;
// any other per-mirror failure is logged, counted, and skipped.
func (s *SyncService) syncSource(ctx context.Context, source domain.Source) (SyncStats, error) {
	adapter, ok := s.adapters[source]
	if !ok {
		return SyncStats{}, fmt.Errorf("sync_service: sync %s: %w", source, domain.ErrUnsupportedSource)
	}

	pending, err := s.mirrors.ListUnresolved(ctx, source)
	if err != nil {
		return SyncStats{}, fmt.Errorf("sync_service: list unresolved for %s: %w", source, err)
	}

	var stats SyncStats
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("sync_service: sync %s: %w", source, err)
		}
		stats.Checked++

		resolved, err := s.syncMirror(ctx, adapter, rec)
		if err != nil {
			if errors.Is(err, domain.ErrSourceUnavailable) {
				return stats, fmt.Errorf("sync_service: sync %s: %w", source, err)
			}
			stats.Failed++
			s.logger.ErrorContext(ctx, "mirror sync failed",
				slog.String("source", string(source)),
				slog.String("question_id", rec.SourceID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if resolved {
			stats.Resolved++
		}
	}

	s.logger.InfoContext(ctx, "resolution sync finished",
		slog.String("source", string(source)),
		slog.Int("checked", stats.Checked),
		slog.Int("resolved", stats.Resolved),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}

// syncMirror checks one mirror against its source and resolves the
// destination market if the source has resolved. It reports whether a
// resolution was propagated.
func (s *SyncService) syncMirror(ctx context.Context, adapter domain.SourceAdapter, rec domain.MirrorRecord) (bool, error) {
	outcome, err := adapter.CheckResolution(ctx, rec.SourceID)
	if err != nil {
		return false, fmt.Errorf("check source resolution: %w", err)
	}
	if outcome == nil {
		return false, nil
	}
	return true, s.resolveMirror(ctx, rec, *outcome)
}

// resolveMirror resolves the destination market and flips the registry flag.
// A registry row already marked resolved is tolerated so a crash between the
// market resolution and the registry update heals on the next pass.
func (s *SyncService) resolveMirror(ctx context.Context, rec domain.MirrorRecord, outcome domain.Outcome) error {
	res, err := manifold.ResolutionFor(outcome)
	if err != nil {
		return fmt.Errorf("map outcome for %s/%s: %w", rec.Source, rec.SourceID, err)
	}

	if err := s.destination.ResolveMarket(ctx, rec.ContractID, res); err != nil {
		return fmt.Errorf("resolve market %s: %w", rec.ContractID, err)
	}

	if err := s.mirrors.MarkResolved(ctx, rec.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			s.logger.WarnContext(ctx, "mirror was already marked resolved",
				slog.Int64("mirror_id", rec.ID),
			)
			return nil
		}
		return fmt.Errorf("mark mirror %d resolved: %w", rec.ID, err)
	}

	s.logger.InfoContext(ctx, "mirror resolved",
		slog.String("source", string(rec.Source)),
		slog.String("question_id", rec.SourceID),
		slog.String("outcome", outcome.String()),
		slog.String("market_url", rec.MarketURL),
	)
	if err := s.notifier.Notify(ctx, notify.EventMirrorResolved,
		"Mirror resolved",
		fmt.Sprintf("%s\nresolved %s\n%s", rec.Question, outcome.String(), rec.MarketURL),
	); err != nil {
		s.logger.WarnContext(ctx, "resolution notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// ResolveByDestinationURL force-checks a single mirror addressed by its
// destination market URL and propagates the source resolution if there is
// one. It reports whether the mirror resolved.
func (s *SyncService) ResolveByDestinationURL(ctx context.Context, rawURL string) (bool, error) {
	rec, err := s.findByDestinationURL(ctx, rawURL)
	if err != nil {
		return false, err
	}
	if rec.Resolved {
		return false, fmt.Errorf("sync_service: mirror %d: %w", rec.ID, domain.ErrAlreadyResolved)
	}

	adapter, ok := s.adapters[rec.Source]
	if !ok {
		return false, fmt.Errorf("sync_service: resolve %s mirror: %w", rec.Source, domain.ErrUnsupportedSource)
	}
	resolved, err := s.syncMirror(ctx, adapter, *rec)
	if err != nil {
		return false, fmt.Errorf("sync_service: resolve %s: %w", rawURL, err)
	}
	return resolved, nil
}

// findByDestinationURL locates the registry row for a destination market URL,
// first by contract id via the slug, then by the stored URL.
func (s *SyncService) findByDestinationURL(ctx context.Context, rawURL string) (*domain.MirrorRecord, error) {
	slug, err := manifold.SlugFromURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("sync_service: %w", err)
	}

	market, err := s.destination.GetMarketBySlug(ctx, slug)
	if err == nil {
		if rec, err := s.mirrors.GetByContractID(ctx, market.ID); err == nil {
			return rec, nil
		}
	}

	rec, err := s.mirrors.FindByDestinationURL(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("sync_service: no mirror for %s: %w", rawURL, err)
	}
	return rec, nil
}

// SyncDestination backfills registry state from the destination platform:
// mirrors resolved directly on the destination (e.g. by hand) get their
// resolved flag set so later passes skip them. It returns how many rows were
// backfilled.
func (s *SyncService) SyncDestination(ctx context.Context) (int, error) {
	pending, err := s.mirrors.ListUnresolved(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("sync_service: list unresolved: %w", err)
	}

	backfilled := 0
	for _, rec := range pending {
		market, err := s.destination.GetMarket(ctx, rec.ContractID)
		if err != nil {
			s.logger.WarnContext(ctx, "destination market fetch failed",
				slog.String("contract_id", rec.ContractID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !market.IsResolved {
			continue
		}
		if err := s.mirrors.MarkResolved(ctx, rec.ID, time.Now().UTC()); err != nil {
			if errors.Is(err, domain.ErrAlreadyResolved) {
				continue
			}
			return backfilled, fmt.Errorf("sync_service: backfill mirror %d: %w", rec.ID, err)
		}
		backfilled++
		s.logger.InfoContext(ctx, "destination resolution backfilled",
			slog.String("contract_id", rec.ContractID),
			slog.String("resolution", market.Resolution),
		)
	}
	return backfilled, nil
}

// DiscoverThirdParty scans the given destination groups for markets created
// by other users that link a Metaculus question, and records them so the
// auto-mirror pass does not duplicate community work. It returns how many
// markets were recorded.
func (s *SyncService) DiscoverThirdParty(ctx context.Context, groupIDs []string) (int, error) {
	found := 0
	for _, groupID := range groupIDs {
		markets, err := s.destination.GetGroupMarkets(ctx, groupID)
		if err != nil {
			return found, fmt.Errorf("sync_service: scan group %s: %w", groupID, err)
		}

		for _, lite := range markets {
			if lite.CreatorID == s.ownUserID {
				continue
			}
			if _, err := s.mirrors.GetByContractID(ctx, lite.ID); err == nil {
				continue
			}

			// The group listing omits descriptions; fetch the full market to
			// see its links.
			market, err := s.destination.GetMarket(ctx, lite.ID)
			if err != nil {
				s.logger.WarnContext(ctx, "market fetch failed during discovery",
					slog.String("contract_id", lite.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			match := metaculusLinkRe.FindStringSubmatch(market.TextDescription)
			if match == nil {
				continue
			}

			err = s.thirdParty.Upsert(ctx, &domain.ThirdPartyMirror{
				Source:     domain.SourceMetaculus,
				SourceID:   match[1],
				ContractID: market.ID,
				MarketURL:  s.destination.MarketURL(market.Slug),
			})
			if err != nil {
				return found, fmt.Errorf("sync_service: record third-party mirror %s: %w", market.ID, err)
			}
			found++
			s.logger.InfoContext(ctx, "third-party mirror recorded",
				slog.String("question_id", match[1]),
				slog.String("contract_id", market.ID),
			)
		}
	}
	return found, nil
}
