package metaculus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// AdapterConfig narrows the candidate list the adapter fetches. The values
// mirror the platform's auto filter so the server does most of the pruning
// and the admission filter only sees plausible questions.
type AdapterConfig struct {
	RequireOpen         bool
	ExcludeGrouped      bool
	MaxAgeDays          int64
	MinDaysToResolution int64
	MaxDaysToResolution int64
	ListLimit           int
}

// Adapter exposes Metaculus questions through the platform-neutral source
// adapter contract.
type Adapter struct {
	client *Client
	cfg    AdapterConfig
}

// NewAdapter wraps a Metaculus client in the source adapter contract.
func NewAdapter(client *Client, cfg AdapterConfig) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Source returns the platform tag.
func (a *Adapter) Source() domain.Source {
	return domain.SourceMetaculus
}

// ListCandidates fetches open binary questions inside the configured age and
// resolution windows, most-voted first.
func (a *Adapter) ListCandidates(ctx context.Context) ([]domain.SourceQuestion, error) {
	now := time.Now().UTC()
	params := ListParams{
		ForecastType:  "binary",
		Unconditional: true,
		OrderBy:       "-votes",
		Limit:         a.cfg.ListLimit,
	}
	if a.cfg.RequireOpen {
		params.Status = "open"
	}
	if a.cfg.ExcludeGrouped {
		ungrouped := false
		params.HasGroup = &ungrouped
	}
	if a.cfg.MaxAgeDays > 0 {
		params.PublishTimeGt = now.AddDate(0, 0, -int(a.cfg.MaxAgeDays))
	}
	if a.cfg.MinDaysToResolution > 0 {
		params.ResolveTimeGt = now.AddDate(0, 0, int(a.cfg.MinDaysToResolution))
	}
	if a.cfg.MaxDaysToResolution > 0 {
		params.ResolveTimeLt = now.AddDate(0, 0, int(a.cfg.MaxDaysToResolution))
	}

	questions, err := a.client.ListQuestions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("metaculus: fetch candidates: %w: %v", domain.ErrSourceUnavailable, err)
	}

	candidates := make([]domain.SourceQuestion, 0, len(questions))
	for _, q := range questions {
		candidates = append(candidates, toSourceQuestion(q))
	}
	return candidates, nil
}

// GetQuestion fetches a single question snapshot, including its resolution
// criteria when so configured.
func (a *Adapter) GetQuestion(ctx context.Context, id string) (domain.SourceQuestion, error) {
	q, err := a.client.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SourceQuestion{}, err
		}
		return domain.SourceQuestion{}, fmt.Errorf("metaculus: fetch question %s: %w: %v", id, domain.ErrSourceUnavailable, err)
	}
	return toSourceQuestion(q), nil
}

// ResolveByURL parses a metaculus.com question URL and fetches its snapshot.
func (a *Adapter) ResolveByURL(ctx context.Context, rawURL string) (domain.SourceQuestion, error) {
	id, err := QuestionIDFromURL(rawURL)
	if err != nil {
		return domain.SourceQuestion{}, err
	}
	return a.GetQuestion(ctx, id)
}

// CheckResolution reports the question's resolved outcome, or nil while it
// remains open.
func (a *Adapter) CheckResolution(ctx context.Context, id string) (*domain.Outcome, error) {
	q, err := a.client.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("metaculus: check resolution %s: %w: %v", id, domain.ErrSourceUnavailable, err)
	}
	return decodeResolution(q)
}

// decodeResolution maps the api2 resolution encoding onto the neutral
// outcome type. Annulled (-2) and ambiguous (-1) both cancel the mirror;
// fractional values in (0, 1) resolve to that probability.
func decodeResolution(q Question) (*domain.Outcome, error) {
	if q.ActiveState != StateResolved || q.Resolution == nil {
		return nil, nil
	}
	if !q.IsBinary() {
		return nil, fmt.Errorf("metaculus: question %d resolution: %w", q.ID, domain.ErrUnsupportedOutcome)
	}
	switch r := *q.Resolution; {
	case r == -2 || r == -1:
		return &domain.Outcome{Kind: domain.OutcomeCancel}, nil
	case r == 0:
		return &domain.Outcome{Kind: domain.OutcomeNo}, nil
	case r == 1:
		return &domain.Outcome{Kind: domain.OutcomeYes}, nil
	case r > 0 && r < 1:
		return &domain.Outcome{Kind: domain.OutcomePercent, Value: r}, nil
	default:
		return nil, fmt.Errorf("metaculus: question %d has resolution value %v: %w", q.ID, r, domain.ErrUnsupportedOutcome)
	}
}

// toSourceQuestion converts the api2 shape into the platform-neutral
// snapshot.
func toSourceQuestion(q Question) domain.SourceQuestion {
	sq := domain.SourceQuestion{
		Source:       domain.SourceMetaculus,
		ID:           strconv.FormatInt(q.ID, 10),
		Title:        q.Title,
		URL:          q.FullURL(),
		CreatedAt:    q.PublishTime,
		ClosesAt:     q.ResolveTime,
		Open:         q.ActiveState == StateOpen,
		Resolved:     q.ActiveState == StateResolved,
		Grouped:      q.IsGrouped(),
		Conditional:  q.IsConditional(),
		Votes:        q.Votes,
		LastActiveAt: q.LastActivityTime,
	}
	if q.ResolutionCriteria != nil {
		sq.Criteria = *q.ResolutionCriteria
	}
	if q.NumberOfForecasters != nil {
		sq.Forecasters = *q.NumberOfForecasters
	}
	sq.CommunityPrediction = q.CommunityProb()
	if outcome, err := decodeResolution(q); err == nil {
		sq.Resolution = outcome
	}
	return sq
}

// QuestionIDFromURL extracts the numeric question id from a public
// metaculus.com question URL.
func QuestionIDFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("metaculus: parse question url %q: %w", rawURL, domain.ErrNotFound)
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host != "metaculus.com" {
		return "", fmt.Errorf("metaculus: url %q is not a metaculus question: %w", rawURL, domain.ErrNotFound)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "questions" {
		return "", fmt.Errorf("metaculus: url %q is not a question url: %w", rawURL, domain.ErrNotFound)
	}
	if _, err := strconv.ParseUint(segments[1], 10, 64); err != nil {
		return "", fmt.Errorf("metaculus: question id in %q must be a positive integer: %w", rawURL, domain.ErrNotFound)
	}
	return segments[1], nil
}
