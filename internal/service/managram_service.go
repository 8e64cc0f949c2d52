package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
	"github.com/alanyoungcy/mirrorbot/internal/notify"
	"github.com/alanyoungcy/mirrorbot/internal/platform/manifold"
)

// ManagramService ingests paid messages addressed to the bot and executes the
// commands they carry: "mirror <url>", "resolve <url>", and "ping".
type ManagramService struct {
	destination *manifold.Client
	store       domain.ManagramStore
	mirrorSvc   *MirrorService
	syncSvc     *SyncService
	ownUserID   string
	minAmount   float64
	mirrorCost  float64
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewManagramService creates a ManagramService. minAmount is the platform's
// minimum transferable amount (also the success reply amount); mirrorCost is
// what a mirror request costs on top of it.
func NewManagramService(
	destination *manifold.Client,
	store domain.ManagramStore,
	mirrorSvc *MirrorService,
	syncSvc *SyncService,
	ownUserID string,
	minAmount, mirrorCost float64,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *ManagramService {
	return &ManagramService{
		destination: destination,
		store:       store,
		mirrorSvc:   mirrorSvc,
		syncSvc:     syncSvc,
		ownUserID:   ownUserID,
		minAmount:   minAmount,
		mirrorCost:  mirrorCost,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "managram_service")),
	}
}

// Sync fetches managrams addressed to the bot that arrived after the newest
// stored one and appends them to the log. It returns how many were stored.
func (s *ManagramService) Sync(ctx context.Context) (int, error) {
	since, err := s.store.LastTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("managram_service: last timestamp: %w", err)
	}

	incoming, err := s.destination.ListManagramsSince(ctx, s.ownUserID, since)
	if err != nil {
		return 0, fmt.Errorf("managram_service: fetch managrams: %w", err)
	}

	stored := 0
	for _, m := range incoming {
		err := s.store.Insert(ctx, &domain.Managram{
			TxnID:     m.TxnID,
			GroupID:   m.GroupID,
			FromID:    m.FromID,
			ToID:      m.ToID,
			CreatedAt: m.CreatedTime,
			Token:     m.Token,
			Amount:    m.Amount,
			Message:   m.Message,
		})
		if err != nil {
			return stored, fmt.Errorf("managram_service: store managram %s: %w", m.TxnID, err)
		}
		stored++
	}

	s.logger.InfoContext(ctx, "managrams synced", slog.Int("stored", stored))
	return stored, nil
}

// ProcessPending runs every stored, unprocessed managram through the command
// handler. A failure on one managram is logged and does not block the rest.
func (s *ManagramService) ProcessPending(ctx context.Context) error {
	pending, err := s.store.ListUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("managram_service: list unprocessed: %w", err)
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("managram_service: process pending: %w", err)
		}
		if err := s.process(ctx, m); err != nil {
			s.logger.ErrorContext(ctx, "managram processing failed",
				slog.String("txn_id", m.TxnID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// process dispatches one managram by its leading command word. Messages that
// carry no known command are marked processed and otherwise ignored.
func (s *ManagramService) process(ctx context.Context, m domain.Managram) error {
	s.logger.DebugContext(ctx, "processing managram",
		slog.String("txn_id", m.TxnID),
		slog.String("from_id", m.FromID),
	)

	command, target, found := strings.Cut(m.Message, " ")
	switch {
	case command == "ping":
		return s.processPing(ctx, m)
	case found && command == "mirror":
		return s.processMirrorRequest(ctx, m, strings.TrimSpace(target))
	case found && command == "resolve":
		return s.processResolveRequest(ctx, m, strings.TrimSpace(target))
	}

	s.logger.DebugContext(ctx, "managram carries no known command",
		slog.String("txn_id", m.TxnID),
	)
	return s.store.MarkProcessed(ctx, m.TxnID)
}

// processPing answers a liveness check by returning the full payment.
func (s *ManagramService) processPing(ctx context.Context, m domain.Managram) error {
	if err := s.store.MarkProcessed(ctx, m.TxnID); err != nil {
		return fmt.Errorf("managram_service: mark processed: %w", err)
	}
	return s.reply(ctx, m, m.Amount, "pong")
}

// processResolveRequest handles a "resolve <url>" command: force-check the
// addressed mirror against its source and resolve it if the source has.
func (s *ManagramService) processResolveRequest(ctx context.Context, m domain.Managram, target string) error {
	resolved, err := s.syncSvc.ResolveByDestinationURL(ctx, target)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyResolved):
			return s.refund(ctx, m, "resolve", "this mirror has already resolved")
		case errors.Is(err, domain.ErrNotFound):
			return s.refund(ctx, m, "resolve", "no mirror found for that url")
		default:
			s.logger.ErrorContext(ctx, "resolve request failed",
				slog.String("txn_id", m.TxnID),
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			return s.refund(ctx, m, "resolve", "unexpected error")
		}
	}
	if !resolved {
		return s.refund(ctx, m, "resolve", "the source question has not resolved yet")
	}
	if err := s.store.MarkProcessed(ctx, m.TxnID); err != nil {
		return fmt.Errorf("managram_service: mark processed: %w", err)
	}
	return s.reply(ctx, m, s.minAmount, fmt.Sprintf("Success! resolved %s", target))
}

// processMirrorRequest handles a paid "mirror <url>" command. On success the
// sender gets the minimum transferable amount back with the new market's URL;
// on any failure the full payment is refunded with the reason.
func (s *ManagramService) processMirrorRequest(ctx context.Context, m domain.Managram, target string) error {
	required := s.minAmount + s.mirrorCost
	if m.Amount < required {
		return s.refund(ctx, m, "mirror", fmt.Sprintf("please include %g mana in mirror request", required))
	}

	result, err := s.mirrorSvc.MirrorByURL(ctx, target, false)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedSource):
			return s.refund(ctx, m, "mirror", "failed to parse question url")
		case errors.Is(err, domain.ErrSourceUnavailable):
			return s.refund(ctx, m, "mirror", "failed to fetch question from the source platform")
		default:
			s.logger.ErrorContext(ctx, "mirror request failed",
				slog.String("txn_id", m.TxnID),
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			return s.refund(ctx, m, "mirror", "unexpected error")
		}
	}

	switch result.Status {
	case StatusMirrored:
		if err := s.store.MarkProcessed(ctx, m.TxnID); err != nil {
			return fmt.Errorf("managram_service: mark processed: %w", err)
		}
		if err := s.notifier.Notify(ctx, notify.EventManagramReceived,
			"Mirror request fulfilled",
			fmt.Sprintf("requested by %s\n%s", m.FromID, result.Record.MarketURL),
		); err != nil {
			s.logger.WarnContext(ctx, "managram notification failed", slog.String("error", err.Error()))
		}
		return s.reply(ctx, m, s.minAmount, fmt.Sprintf("Success! %s", result.Record.MarketURL))
	case StatusRejected, StatusAlreadyMirrored:
		return s.refund(ctx, m, "mirror", result.Reason)
	case StatusNotFound:
		return s.refund(ctx, m, "mirror", "failed to fetch question from the source platform")
	case StatusQuotaExceeded:
		return s.refund(ctx, m, "mirror", "the daily mirror budget is spent, try again tomorrow")
	default:
		return s.refund(ctx, m, "mirror", "unexpected error")
	}
}

// refund marks the managram processed and then returns the full payment with
// the failure reason. The ordering matters: marking first means a crash
// between the two steps can never refund the same request twice.
func (s *ManagramService) refund(ctx context.Context, m domain.Managram, command, reason string) error {
	if err := s.store.MarkProcessed(ctx, m.TxnID); err != nil {
		return fmt.Errorf("managram_service: mark processed: %w", err)
	}
	s.logger.InfoContext(ctx, "refunding request",
		slog.String("txn_id", m.TxnID),
		slog.String("command", command),
		slog.String("reason", reason),
	)
	return s.reply(ctx, m, m.Amount, fmt.Sprintf("%s failed: %s", command, reason))
}

// reply sends mana back to the managram's sender.
func (s *ManagramService) reply(ctx context.Context, m domain.Managram, amount float64, message string) error {
	err := s.destination.SendManagram(ctx, manifold.SendManagramRequest{
		Amount:  amount,
		ToIDs:   []string{m.FromID},
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("managram_service: reply to %s: %w", m.FromID, err)
	}
	return nil
}
