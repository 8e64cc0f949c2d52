package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
	"github.com/alanyoungcy/mirrorbot/internal/service"
)

// wire builds the dependency graph once and registers its cleanup.
func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// AutoMirror runs one auto-mirror discovery pass over the named source.
func (a *App) AutoMirror(ctx context.Context, sourceArg string, dryRun bool) error {
	source, err := domain.ParseSource(sourceArg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	stats, err := deps.Mirrors.AutoMirror(ctx, source, dryRun)
	if err != nil {
		return fmt.Errorf("app: auto-mirror: %w", err)
	}
	fmt.Printf("candidates: %d  mirrored: %d  rejected: %d  duplicates: %d  failed: %d\n",
		stats.Candidates, stats.Mirrored, stats.Rejected, stats.Duplicates, stats.Failed)
	if stats.QuotaHit {
		fmt.Println("pass ended early: clone budget spent")
	}
	return nil
}

// Mirror mirrors a single question by source and external id.
func (a *App) Mirror(ctx context.Context, sourceArg, id string, dryRun bool) error {
	source, err := domain.ParseSource(sourceArg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	result, err := deps.Mirrors.MirrorQuestion(ctx, source, id, dryRun)
	if err != nil {
		return fmt.Errorf("app: mirror %s/%s: %w", source, id, err)
	}
	printMirrorResult(result)
	return nil
}

// MirrorURL mirrors a single question addressed by its source URL.
func (a *App) MirrorURL(ctx context.Context, rawURL string, dryRun bool) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	result, err := deps.Mirrors.MirrorByURL(ctx, rawURL, dryRun)
	if err != nil {
		return fmt.Errorf("app: mirror %s: %w", rawURL, err)
	}
	printMirrorResult(result)
	return nil
}

func printMirrorResult(result service.MirrorResult) {
	switch result.Status {
	case service.StatusMirrored:
		fmt.Printf("mirrored: %s\n", result.Record.MarketURL)
	default:
		fmt.Printf("%s: %s\n", result.Status, result.Reason)
	}
}

// SyncOptions selects which sync passes to run.
type SyncOptions struct {
	Metaculus   bool
	Kalshi      bool
	Managrams   bool
	Destination bool
	ThirdParty  bool
}

func (o SyncOptions) enabled() bool {
	return o.Metaculus || o.Kalshi || o.Managrams || o.Destination || o.ThirdParty
}

// Sync runs the selected sync passes. Each pass runs to completion even when
// another fails; the command fails if any pass failed entirely.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	if !opts.enabled() {
		opts = SyncOptions{Metaculus: true, Kalshi: true, Managrams: true, Destination: true, ThirdParty: true}
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	var failures []error

	var sources []domain.Source
	if opts.Metaculus {
		sources = append(sources, domain.SourceMetaculus)
	}
	if opts.Kalshi {
		sources = append(sources, domain.SourceKalshi)
	}
	if len(sources) > 0 {
		results, err := deps.Sync.SyncResolutions(ctx, sources)
		if err != nil {
			failures = append(failures, fmt.Errorf("resolution sync: %w", err))
		}
		for source, stats := range results {
			fmt.Printf("%s: checked %d, resolved %d, failed %d\n",
				source, stats.Checked, stats.Resolved, stats.Failed)
		}
	}

	if opts.Destination {
		backfilled, err := deps.Sync.SyncDestination(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("destination sync: %w", err))
		} else {
			fmt.Printf("destination: backfilled %d\n", backfilled)
		}
	}

	if opts.ThirdParty {
		found, err := deps.Sync.DiscoverThirdParty(ctx, a.cfg.Metaculus.AddGroupIDs)
		if err != nil {
			failures = append(failures, fmt.Errorf("third-party discovery: %w", err))
		} else {
			fmt.Printf("third-party: recorded %d\n", found)
		}
	}

	if opts.Managrams {
		stored, err := deps.Managrams.Sync(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("managram sync: %w", err))
		} else {
			fmt.Printf("managrams: stored %d\n", stored)
			if err := deps.Managrams.ProcessPending(ctx); err != nil {
				failures = append(failures, fmt.Errorf("managram processing: %w", err))
			}
		}
	}

	if len(failures) > 0 {
		err := errors.Join(failures...)
		if notifyErr := deps.Notifier.Notify(ctx, notify.EventError, "Sync failures", err.Error()); notifyErr != nil {
			a.logger.Warn("failure notification failed", slog.String("error", notifyErr.Error()))
		}
		return fmt.Errorf("app: sync: %w", err)
	}
	return nil
}

// Resolve force-checks one mirror addressed by its destination market URL.
func (a *App) Resolve(ctx context.Context, rawURL string) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	resolved, err := deps.Sync.ResolveByDestinationURL(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("app: resolve: %w", err)
	}
	if resolved {
		fmt.Println("resolved")
	} else {
		fmt.Println("the source question has not resolved yet")
	}
	return nil
}

// ProcessManagrams fetches new managrams and processes every pending command.
func (a *App) ProcessManagrams(ctx context.Context) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	stored, err := deps.Managrams.Sync(ctx)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	fmt.Printf("managrams: stored %d\n", stored)

	if err := deps.Managrams.ProcessPending(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// ListMirrors prints the mirror registry. kind selects "mirrors" (default) or
// "third-party".
func (a *App) ListMirrors(ctx context.Context, kind string, resolvedOnly bool) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch kind {
	case "", "mirrors":
		records, err := deps.MirrorStore.ListAll(ctx, resolvedOnly)
		if err != nil {
			return fmt.Errorf("app: list mirrors: %w", err)
		}
		for _, rec := range records {
			state := "open"
			if rec.Resolved {
				state = "resolved"
			}
			fmt.Printf("%d\t%s/%s\t%s\t%s\n", rec.ID, rec.Source, rec.SourceID, state, rec.MarketURL)
		}
	case "third-party":
		mirrors, err := deps.ThirdPartyStore.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("app: list third-party mirrors: %w", err)
		}
		for _, m := range mirrors {
			fmt.Printf("%d\t%s/%s\t%s\n", m.ID, m.Source, m.SourceID, m.MarketURL)
		}
	default:
		return fmt.Errorf("app: unknown list kind %q (valid: mirrors, third-party)", kind)
	}
	return nil
}

// SendManagram sends mana to a user from the bot's account.
func (a *App) SendManagram(ctx context.Context, toID string, amount float64, message string) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	err = deps.Destination.SendManagram(ctx, manifold.SendManagramRequest{
		Amount:  amount,
		ToIDs:   []string{toID},
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	fmt.Printf("sent %g to %s\n", amount, toID)
	return nil
}

// Archive moves resolved mirrors and processed managrams older than the
// cutoff into cold storage. A zero cutoff uses the configured retention.
func (a *App) Archive(ctx context.Context, before time.Time) error {
	if !a.cfg.Archive.Enabled {
		return fmt.Errorf("app: archive is disabled in the configuration")
	}
	if before.IsZero() {
		before = time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	mirrors, err := deps.Archiver.ArchiveResolvedMirrors(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive mirrors: %w", err)
	}
	managrams, err := deps.Archiver.ArchiveManagrams(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive managrams: %w", err)
	}
	fmt.Printf("archived %d mirrors and %d managrams (before %s)\n",
		mirrors, managrams, before.Format("2006-01-02"))
	return nil
}
