// Package domain defines the core data model for the mirror bot: source
// questions, mirror records, outcomes, and the store/adapter interfaces that
// the concrete postgres, redis, and platform packages implement.
package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source identifies a question's originating platform.
type Source string

const (
	SourceMetaculus Source = "metaculus"
	SourceKalshi    Source = "kalshi"
	// SourcePolymarket is reserved; no adapter exists for it yet.
	SourcePolymarket Source = "polymarket"
	// SourceManual marks markets created by hand, not managed by the bot.
	SourceManual Source = "manual"
)

// ParseSource converts user input (CLI args, stored rows) into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceMetaculus:
		return SourceMetaculus, nil
	case SourceKalshi:
		return SourceKalshi, nil
	case SourcePolymarket:
		return SourcePolymarket, nil
	case SourceManual:
		return SourceManual, nil
	}
	return "", fmt.Errorf("unknown source %q (valid: metaculus, kalshi, polymarket)", s)
}

// DisplayName returns the capitalized platform name used in market titles and
// descriptions ("[Metaculus] Will ...").
func (s Source) DisplayName() string {
	switch s {
	case SourceMetaculus:
		return "Metaculus"
	case SourceKalshi:
		return "Kalshi"
	case SourcePolymarket:
		return "Polymarket"
	case SourceManual:
		return "Manual"
	}
	return string(s)
}

// OutcomeKind enumerates the resolution shapes the bot understands.
type OutcomeKind string

const (
	OutcomeYes     OutcomeKind = "yes"
	OutcomeNo      OutcomeKind = "no"
	OutcomeCancel  OutcomeKind = "cancel"
	OutcomePercent OutcomeKind = "percent"
)

// Outcome is a source question's resolution in platform-neutral form. Value
// is only meaningful for OutcomePercent, where it holds a probability in
// [0, 1].
type Outcome struct {
	Kind  OutcomeKind
	Value float64
}

func (o Outcome) String() string {
	if o.Kind == OutcomePercent {
		return fmt.Sprintf("percent(%.2f)", o.Value)
	}
	return string(o.Kind)
}

// SourceQuestion is an immutable snapshot of a question on a source platform,
// taken at fetch time. A fresh snapshot is fetched on every poll; nothing
// here is ever mutated in place.
//
// Counters that a platform does not report are left at zero and ignored by
// the admission filter, which only applies the thresholds configured for that
// platform.
type SourceQuestion struct {
	Source      Source
	ID          string
	Title       string
	Criteria    string // resolution criteria / rulebook text, may be empty
	URL         string
	CreatedAt   time.Time
	ClosesAt    time.Time
	Open        bool
	Resolved    bool
	Grouped     bool
	Conditional bool
	Resolution  *Outcome

	// Metaculus-style attributes.
	CommunityPrediction *float64
	Forecasters         int64
	Votes               int64
	LastActiveAt        *time.Time

	// Kalshi-style attributes (contract counts and dollar cents).
	Liquidity          int64
	Volume             int64
	RecentVolume       int64
	OpenInterest       int64
	DollarVolume       int64
	DollarRecentVolume int64
	DollarOpenInterest int64
}

// Age returns how long ago the question was published.
func (q SourceQuestion) Age(now time.Time) time.Duration {
	return now.Sub(q.CreatedAt)
}

// TimeToResolution returns the remaining time until the question closes.
// Negative when the close date is already past.
func (q SourceQuestion) TimeToResolution(now time.Time) time.Duration {
	return q.ClosesAt.Sub(now)
}

// Confidence returns max(p, 1-p) for the community prediction, or 0 when no
// prediction is visible.
func (q SourceQuestion) Confidence() float64 {
	if q.CommunityPrediction == nil {
		return 0
	}
	p := *q.CommunityPrediction
	if p > 1-p {
		return p
	}
	return 1 - p
}

// SourceAdapter is the per-platform capability set used by the mirror and
// sync orchestrators. One implementation exists per source platform,
// selected by Source tag.
//
// ListCandidates and GetQuestion wrap transport/auth failures in
// ErrSourceUnavailable so orchestrators can skip the platform for the current
// pass without aborting others. GetQuestion and ResolveByURL return
// ErrNotFound when the id/url does not address a known question.
type SourceAdapter interface {
	// Source returns the platform tag this adapter serves.
	Source() Source

	// ListCandidates fetches open questions plausibly eligible for
	// mirroring. The result is finite and fetched fresh on every call.
	ListCandidates(ctx context.Context) ([]SourceQuestion, error)

	// GetQuestion fetches a single question snapshot by external id.
	GetQuestion(ctx context.Context, id string) (SourceQuestion, error)

	// ResolveByURL parses a canonical question URL and fetches its snapshot.
	ResolveByURL(ctx context.Context, rawURL string) (SourceQuestion, error)

	// CheckResolution reports the resolved outcome of the question, or nil if
	// it has not resolved yet. It has no side effects on the source and is
	// safe to call repeatedly.
	CheckResolution(ctx context.Context, id string) (*Outcome, error)
}
