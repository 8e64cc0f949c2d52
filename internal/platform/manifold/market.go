package manifold

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// Template shapes the title and description of mirrored markets.
type Template struct {
	DescriptionFooter string
	// TitleRetainEndChars trailing characters of the title survive
	// truncation; titles tend to end in the disambiguating detail.
	TitleRetainEndChars  int
	MaxQuestionLength    int
	MaxDescriptionLength int
}

// NewCreateMarketRequest builds the creation payload for a mirror of the
// given source question. Mirrors always start as binary markets at 50%.
func NewCreateMarketRequest(q domain.SourceQuestion, tmpl Template, groupIDs []string, now time.Time) CreateMarketRequest {
	return CreateMarketRequest{
		OutcomeType:         "BINARY",
		Question:            BuildTitle(q, tmpl),
		DescriptionMarkdown: BuildDescription(q, tmpl),
		CloseTime:           toMillis(closeTime(q, now)),
		InitialProb:         50,
		GroupIDs:            groupIDs,
	}
}

// BuildTitle renders "[Source] Title", truncated to the configured maximum.
// Truncation cuts from the middle so the configured number of trailing
// characters is preserved.
func BuildTitle(q domain.SourceQuestion, tmpl Template) string {
	title := fmt.Sprintf("[%s] %s", q.Source.DisplayName(), q.Title)
	if tmpl.MaxQuestionLength <= 0 || len(title) <= tmpl.MaxQuestionLength {
		return title
	}
	head := tmpl.MaxQuestionLength - tmpl.TitleRetainEndChars - 3
	if head < 0 {
		head = 0
	}
	return title[:head] + "..." + title[len(title)-tmpl.TitleRetainEndChars:]
}

// BuildDescription renders the mirror's markdown description: a header, the
// mirroring relationship, an embedded view of the original where the source
// supports one, the resolution criteria, and the configured footer.
func BuildDescription(q domain.SourceQuestion, tmpl Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", q.Title)
	fmt.Fprintf(&b, "Resolves the same as [the original on %s](%s).", q.Source.DisplayName(), q.URL)
	if embed := embedHTML(q); embed != "" {
		b.WriteString("\n\n")
		b.WriteString(embed)
	}
	b.WriteString("\n\n---\n\n")
	if q.Criteria != "" {
		fmt.Fprintf(&b, "**Resolution criteria**\n\n%s\n\n---\n\n", q.Criteria)
	}
	b.WriteString(tmpl.DescriptionFooter)

	description := b.String()
	if tmpl.MaxDescriptionLength > 0 && len(description) > tmpl.MaxDescriptionLength {
		description = description[:tmpl.MaxDescriptionLength-3] + "..."
	}
	return description
}

// embedHTML returns an inline embed of the original question for sources
// that offer one.
func embedHTML(q domain.SourceQuestion) string {
	if q.Source != domain.SourceMetaculus {
		return ""
	}
	return fmt.Sprintf(
		`<iframe src="https://www.metaculus.com/questions/question_embed/%s/?theme=dark" style="height:430px; width:100%%; max-width:550px"></iframe>`,
		q.ID,
	)
}

// closeTime gives the mirror a close date one day after the source closes,
// so late source resolutions still land on an open market. A source already
// past its close date gets a week from now instead.
func closeTime(q domain.SourceQuestion, now time.Time) time.Time {
	if q.ClosesAt.After(now) {
		return q.ClosesAt.Add(24 * time.Hour)
	}
	return now.Add(7 * 24 * time.Hour)
}

// ResolutionFor maps a source outcome onto the Manifold resolution payload.
// Percent outcomes become MKT resolutions at the rounded integer percentage.
// Unknown shapes fail with ErrUnsupportedOutcome rather than guessing.
func ResolutionFor(o domain.Outcome) (Resolution, error) {
	switch o.Kind {
	case domain.OutcomeYes:
		return Resolution{Outcome: "YES"}, nil
	case domain.OutcomeNo:
		return Resolution{Outcome: "NO"}, nil
	case domain.OutcomeCancel:
		return Resolution{Outcome: "CANCEL"}, nil
	case domain.OutcomePercent:
		p := int(math.Round(o.Value * 100))
		return Resolution{Outcome: "MKT", ProbabilityInt: &p}, nil
	}
	return Resolution{}, fmt.Errorf("manifold: map outcome %q: %w", o.Kind, domain.ErrUnsupportedOutcome)
}

// SlugFromURL extracts the market slug from a Manifold market URL
// (https://manifold.markets/<creator>/<slug>).
func SlugFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("manifold: parse market url %q: %w", rawURL, err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[len(segments)-1] == "" {
		return "", fmt.Errorf("manifold: market url %q has no slug: %w", rawURL, domain.ErrNotFound)
	}
	return segments[len(segments)-1], nil
}
