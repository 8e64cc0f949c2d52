package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/admission"
	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

// MirrorStatus classifies the outcome of one mirror attempt.
type MirrorStatus string

const (
	StatusMirrored          MirrorStatus = "mirrored"
	StatusDryRun            MirrorStatus = "dry_run"
	StatusRejected          MirrorStatus = "rejected"
	StatusAlreadyMirrored   MirrorStatus = "already_mirrored"
	StatusQuotaExceeded     MirrorStatus = "quota_exceeded"
	StatusNotFound          MirrorStatus = "not_found"
	StatusSourceUnavailable MirrorStatus = "source_unavailable"
)

// MirrorResult reports what happened to one candidate question.
type MirrorResult struct {
	Status MirrorStatus
	// Reason explains rejections and failures in operator-readable form.
	Reason string
	// Record is set when Status is StatusMirrored.
	Record *domain.MirrorRecord
}

// AutoMirrorStats summarises one auto-mirror pass.
type AutoMirrorStats struct {
	Candidates int
	Mirrored   int
	Rejected   int
	Duplicates int
	Failed     int
	// QuotaHit is true when the pass stopped early on a spent clone budget.
	QuotaHit bool
}

// SourcePolicy carries the per-source mirroring knobs.
type SourcePolicy struct {
	// AutoFilter gates candidates discovered by the auto-mirror pass.
	AutoFilter admission.FilterConfig
	// RequestFilter gates questions explicitly requested by id, url, or
	// managram. It is typically looser than AutoFilter.
	RequestFilter admission.FilterConfig
	// GroupIDs are attached to every market mirrored from this source.
	GroupIDs []string
	// FetchCriteria refetches the full question when the list snapshot has no
	// resolution criteria text.
	FetchCriteria bool
}

// MirrorService creates destination markets for admitted source questions.
// It owns admission, dedup, quota, and the creation lock; the platform
// adapters own fetching.
type MirrorService struct {
	adapters    map[domain.Source]domain.SourceAdapter
	policies    map[domain.Source]SourcePolicy
	template    manifold.Template
	destination *manifold.Client
	mirrors     domain.MirrorStore
	thirdParty  domain.ThirdPartyMirrorStore
	quota       *QuotaTracker
	locks       domain.LockManager
	lockTTL     time.Duration
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewMirrorService creates a MirrorService with all required dependencies.
func NewMirrorService(
	adapters map[domain.Source]domain.SourceAdapter,
	policies map[domain.Source]SourcePolicy,
	template manifold.Template,
	destination *manifold.Client,
	mirrors domain.MirrorStore,
	thirdParty domain.ThirdPartyMirrorStore,
	quota *QuotaTracker,
	locks domain.LockManager,
	lockTTL time.Duration,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MirrorService {
	return &MirrorService{
		adapters:    adapters,
		policies:    policies,
		template:    template,
		destination: destination,
		mirrors:     mirrors,
		thirdParty:  thirdParty,
		quota:       quota,
		locks:       locks,
		lockTTL:     lockTTL,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "mirror_service")),
	}
}

// AutoMirror runs one discovery pass over a source platform: fetch the
// candidate list, admit each question against the source's auto filter, and
// mirror the survivors. A spent clone budget ends the pass early without
// error; an unreachable source fails the whole pass.
func (s *MirrorService) AutoMirror(ctx context.Context, source domain.Source, dryRun bool) (AutoMirrorStats, error) {
	adapter, ok := s.adapters[source]
	if !ok {
		return AutoMirrorStats{}, fmt.Errorf("mirror_service: auto-mirror %s: %w", source, domain.ErrUnsupportedSource)
	}
	policy := s.policies[source]

	candidates, err := adapter.ListCandidates(ctx)
	if err != nil {
		return AutoMirrorStats{}, fmt.Errorf("mirror_service: list candidates on %s: %w", source, err)
	}

	stats := AutoMirrorStats{Candidates: len(candidates)}
	s.logger.InfoContext(ctx, "auto-mirror pass started",
		slog.String("source", string(source)),
		slog.Int("candidates", len(candidates)),
		slog.Bool("dry_run", dryRun),
	)

	for _, q := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("mirror_service: auto-mirror %s: %w", source, err)
		}

		result, err := s.mirrorOne(ctx, adapter, q, policy, policy.AutoFilter, dryRun)
		if err != nil {
			stats.Failed++
			s.logger.ErrorContext(ctx, "mirror attempt failed",
				slog.String("source", string(source)),
				slog.String("question_id", q.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch result.Status {
		case StatusMirrored, StatusDryRun:
			stats.Mirrored++
		case StatusRejected:
			stats.Rejected++
			s.logger.DebugContext(ctx, "candidate rejected",
				slog.String("source", string(source)),
				slog.String("question_id", q.ID),
				slog.String("reason", result.Reason),
			)
		case StatusAlreadyMirrored:
			stats.Duplicates++
		case StatusQuotaExceeded:
			stats.QuotaHit = true
			s.logger.InfoContext(ctx, "clone budget spent, ending pass",
				slog.String("source", string(source)),
			)
			return stats, nil
		}
	}

	s.logger.InfoContext(ctx, "auto-mirror pass finished",
		slog.String("source", string(source)),
		slog.Int("mirrored", stats.Mirrored),
		slog.Int("rejected", stats.Rejected),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}

// MirrorQuestion mirrors one question by source and external id, gated by the
// source's request filter.
func (s *MirrorService) MirrorQuestion(ctx context.Context, source domain.Source, id string, dryRun bool) (MirrorResult, error) {
	adapter, ok := s.adapters[source]
	if !ok {
		return MirrorResult{}, fmt.Errorf("mirror_service: mirror %s/%s: %w", source, id, domain.ErrUnsupportedSource)
	}
	policy := s.policies[source]

	q, err := adapter.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return MirrorResult{Status: StatusNotFound, Reason: fmt.Sprintf("no question %s on %s", id, source)}, nil
		}
		return MirrorResult{}, fmt.Errorf("mirror_service: fetch %s/%s: %w", source, id, err)
	}

	return s.mirrorOne(ctx, adapter, q, policy, policy.RequestFilter, dryRun)
}

// MirrorByURL mirrors one question addressed by its canonical source URL. The
// owning platform is identified by whichever adapter recognises the URL.
func (s *MirrorService) MirrorByURL(ctx context.Context, rawURL string, dryRun bool) (MirrorResult, error) {
	for _, adapter := range s.adapters {
		q, err := adapter.ResolveByURL(ctx, rawURL)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return MirrorResult{}, fmt.Errorf("mirror_service: resolve url %s: %w", rawURL, err)
		}
		policy := s.policies[adapter.Source()]
		return s.mirrorOne(ctx, adapter, q, policy, policy.RequestFilter, dryRun)
	}
	return MirrorResult{}, fmt.Errorf("mirror_service: resolve url %s: %w", rawURL, domain.ErrUnsupportedSource)
}

// mirrorOne takes one question through the full admission pipeline:
// filter, dedup against own and third-party mirrors, quota reservation,
// creation lock, market creation, and registry insert.
func (s *MirrorService) mirrorOne(
	ctx context.Context,
	adapter domain.SourceAdapter,
	q domain.SourceQuestion,
	policy SourcePolicy,
	filter admission.FilterConfig,
	dryRun bool,
) (MirrorResult, error) {
	if verdict := admission.Evaluate(q, filter, time.Now()); !verdict.Accepted {
		return MirrorResult{Status: StatusRejected, Reason: verdict.Reason}, nil
	}

	if existing, err := s.mirrors.GetBySource(ctx, q.Source, q.ID); err == nil {
		return MirrorResult{
			Status: StatusAlreadyMirrored,
			Reason: fmt.Sprintf("a mirror already exists at %s", existing.MarketURL),
		}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return MirrorResult{}, fmt.Errorf("mirror_service: dedup lookup: %w", err)
	}

	if existing, err := s.thirdParty.GetBySource(ctx, q.Source, q.ID); err == nil {
		return MirrorResult{
			Status: StatusAlreadyMirrored,
			Reason: fmt.Sprintf("a mirror already exists at %s", existing.MarketURL),
		}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return MirrorResult{}, fmt.Errorf("mirror_service: third-party dedup lookup: %w", err)
	}

	if dryRun {
		return MirrorResult{Status: StatusDryRun, Reason: "dry run, no market created"}, nil
	}

	reservation, err := s.quota.Reserve(ctx, q.Source)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			return MirrorResult{Status: StatusQuotaExceeded, Reason: "clone budget spent for " + string(q.Source)}, nil
		}
		return MirrorResult{}, fmt.Errorf("mirror_service: reserve quota: %w", err)
	}

	lock, err := s.locks.Acquire(ctx, fmt.Sprintf("mirror:%s:%s", q.Source, q.ID), s.lockTTL)
	if err != nil {
		s.releaseQuietly(ctx, reservation)
		if errors.Is(err, domain.ErrLockHeld) {
			return MirrorResult{
				Status: StatusAlreadyMirrored,
				Reason: "a mirror of this question is being created right now",
			}, nil
		}
		return MirrorResult{}, fmt.Errorf("mirror_service: acquire creation lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			s.logger.WarnContext(ctx, "creation lock release failed",
				slog.String("question_id", q.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	// The list snapshot may omit criteria text; refetch the full question
	// before building the description.
	if q.Criteria == "" && policy.FetchCriteria {
		full, err := adapter.GetQuestion(ctx, q.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "criteria refetch failed",
				slog.String("source", string(q.Source)),
				slog.String("question_id", q.ID),
				slog.String("error", err.Error()),
			)
		} else {
			q = full
		}
	}

	record, err := s.createMirror(ctx, q, policy)
	if err != nil {
		s.releaseQuietly(ctx, reservation)
		if errors.Is(err, domain.ErrDuplicateMirror) {
			return MirrorResult{
				Status: StatusAlreadyMirrored,
				Reason: "a mirror of this question already exists",
			}, nil
		}
		return MirrorResult{}, err
	}

	if err := reservation.Confirm(ctx); err != nil {
		s.logger.WarnContext(ctx, "quota confirm failed",
			slog.String("question_id", q.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "question mirrored",
		slog.String("source", string(q.Source)),
		slog.String("question_id", q.ID),
		slog.String("market_url", record.MarketURL),
	)
	if err := s.notifier.Notify(ctx, notify.EventMirrorCreated,
		"Mirror created",
		fmt.Sprintf("%s\n%s", record.Question, record.MarketURL),
	); err != nil {
		s.logger.WarnContext(ctx, "mirror notification failed", slog.String("error", err.Error()))
	}

	return MirrorResult{Status: StatusMirrored, Record: record}, nil
}

// createMirror creates the destination market and records it in the registry.
func (s *MirrorService) createMirror(ctx context.Context, q domain.SourceQuestion, policy SourcePolicy) (*domain.MirrorRecord, error) {
	req := manifold.NewCreateMarketRequest(q, s.template, policy.GroupIDs, time.Now())

	market, err := s.destination.CreateMarket(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mirror_service: create market for %s/%s: %w", q.Source, q.ID, err)
	}

	record := &domain.MirrorRecord{
		Source:     q.Source,
		SourceID:   q.ID,
		SourceURL:  q.URL,
		Question:   market.Question,
		ContractID: market.ID,
		MarketURL:  s.destination.MarketURL(market.Slug),
	}
	if err := s.mirrors.Insert(ctx, record); err != nil {
		// The market exists but the registry row does not. Surface loudly so
		// an operator can reconcile by hand.
		s.logger.ErrorContext(ctx, "market created but registry insert failed",
			slog.String("source", string(q.Source)),
			slog.String("question_id", q.ID),
			slog.String("contract_id", market.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("mirror_service: record mirror %s/%s: %w", q.Source, q.ID, err)
	}
	return record, nil
}

func (s *MirrorService) releaseQuietly(ctx context.Context, r domain.Reservation) {
	if err := r.Release(ctx); err != nil {
		s.logger.WarnContext(ctx, "quota release failed", slog.String("error", err.Error()))
	}
}
