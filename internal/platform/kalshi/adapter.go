package kalshi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// AdapterConfig controls candidate selection for the Kalshi adapter.
type AdapterConfig struct {
	RequireOpen bool
	// ExcludeSeries skips events with more than one market; a series does
	// not map onto a single binary question.
	ExcludeSeries bool
}

// Adapter exposes Kalshi markets through the platform-neutral source adapter
// contract. One single-market event maps onto one question, identified by
// its market ticker.
type Adapter struct {
	client *Client
	cfg    AdapterConfig
}

// NewAdapter wraps a Kalshi client in the source adapter contract.
func NewAdapter(client *Client, cfg AdapterConfig) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Source returns the platform tag.
func (a *Adapter) Source() domain.Source {
	return domain.SourceKalshi
}

// ListCandidates fetches events and returns the single-market ones as
// question snapshots.
func (a *Adapter) ListCandidates(ctx context.Context) ([]domain.SourceQuestion, error) {
	status := ""
	if a.cfg.RequireOpen {
		status = "open"
	}
	events, err := a.client.ListEvents(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch candidates: %w: %v", domain.ErrSourceUnavailable, err)
	}

	var candidates []domain.SourceQuestion
	for _, ev := range events {
		if len(ev.Markets) == 0 {
			// The listing sometimes omits nested markets; refetch the event
			// on its own before giving up on it.
			full, err := a.client.GetEvent(ctx, ev.EventTicker)
			if err != nil {
				return nil, fmt.Errorf("kalshi: fetch event %s: %w: %v", ev.EventTicker, domain.ErrSourceUnavailable, err)
			}
			ev = full
		}
		if len(ev.Markets) == 0 {
			continue
		}
		if a.cfg.ExcludeSeries && len(ev.Markets) > 1 {
			continue
		}
		candidates = append(candidates, toSourceQuestion(ev.Markets[0]))
	}
	return candidates, nil
}

// GetQuestion fetches a single market snapshot by its ticker.
func (a *Adapter) GetQuestion(ctx context.Context, id string) (domain.SourceQuestion, error) {
	m, err := a.client.GetMarket(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SourceQuestion{}, err
		}
		return domain.SourceQuestion{}, fmt.Errorf("kalshi: fetch market %s: %w: %v", id, domain.ErrSourceUnavailable, err)
	}
	return toSourceQuestion(m), nil
}

// ResolveByURL parses a kalshi.com market URL and fetches its snapshot.
func (a *Adapter) ResolveByURL(ctx context.Context, rawURL string) (domain.SourceQuestion, error) {
	ticker, err := TickerFromURL(rawURL)
	if err != nil {
		return domain.SourceQuestion{}, err
	}
	return a.GetQuestion(ctx, ticker)
}

// CheckResolution reports the market's settlement outcome, or nil while it
// remains unsettled.
func (a *Adapter) CheckResolution(ctx context.Context, id string) (*domain.Outcome, error) {
	m, err := a.client.GetMarket(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("kalshi: check resolution %s: %w: %v", id, domain.ErrSourceUnavailable, err)
	}
	return decodeResult(m)
}

// decodeResult maps the exchange settlement result onto the neutral outcome
// type. Voided markets cancel the mirror. The result field can lag the
// status flip, so a settled market with no result yet stays unresolved and
// gets rechecked on the next pass.
func decodeResult(m Market) (*domain.Outcome, error) {
	if !m.IsResolved() {
		return nil, nil
	}
	switch m.Result {
	case ResultYes:
		return &domain.Outcome{Kind: domain.OutcomeYes}, nil
	case ResultNo:
		return &domain.Outcome{Kind: domain.OutcomeNo}, nil
	case ResultVoid:
		return &domain.Outcome{Kind: domain.OutcomeCancel}, nil
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("kalshi: market %s settled with result %q: %w", m.Ticker, m.Result, domain.ErrUnsupportedOutcome)
}

// toSourceQuestion converts a market into the platform-neutral snapshot.
func toSourceQuestion(m Market) domain.SourceQuestion {
	sq := domain.SourceQuestion{
		Source:             domain.SourceKalshi,
		ID:                 m.Ticker,
		Title:              m.Title,
		Criteria:           criteriaText(m),
		URL:                marketURL(m.Ticker),
		CreatedAt:          m.OpenTime,
		ClosesAt:           m.ExpirationTime,
		Open:               m.Status == StatusActive,
		Resolved:           m.IsResolved(),
		Liquidity:          m.Liquidity,
		Volume:             m.Volume,
		RecentVolume:       m.Volume24H,
		OpenInterest:       m.OpenInterest,
		DollarVolume:       m.DollarVolume,
		DollarRecentVolume: m.DollarRecentVolume,
		DollarOpenInterest: m.DollarOpenInterest,
	}
	if outcome, err := decodeResult(m); err == nil {
		sq.Resolution = outcome
	}
	// The orderbook doubles as a community estimate: the bid/ask midpoint in
	// cents, when a two-sided book exists.
	if m.YesBid > 0 && m.YesAsk > 0 && m.YesAsk <= 100 {
		mid := float64(m.YesBid+m.YesAsk) / 200
		sq.CommunityPrediction = &mid
	}
	return sq
}

// criteriaText combines the market rulebook paragraphs into the mirror's
// resolution criteria section.
func criteriaText(m Market) string {
	parts := make([]string, 0, 2)
	if m.RulesPrimary != "" {
		parts = append(parts, m.RulesPrimary)
	}
	if m.RulesSecondary != "" {
		parts = append(parts, m.RulesSecondary)
	}
	return strings.Join(parts, "\n\n")
}

func marketURL(ticker string) string {
	return "https://kalshi.com/markets/" + strings.ToUpper(ticker)
}

// TickerFromURL extracts the market ticker from a public kalshi.com market
// URL.
func TickerFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("kalshi: parse market url %q: %w", rawURL, domain.ErrNotFound)
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host != "kalshi.com" {
		return "", fmt.Errorf("kalshi: url %q is not a kalshi market: %w", rawURL, domain.ErrNotFound)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "markets" || segments[1] == "" {
		return "", fmt.Errorf("kalshi: url %q is not a market url: %w", rawURL, domain.ErrNotFound)
	}
	return strings.ToUpper(segments[1]), nil
}
