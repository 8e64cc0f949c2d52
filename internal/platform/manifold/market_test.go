package manifold

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testTemplate() Template {
	return Template{
		DescriptionFooter:    "managed by a bot",
		TitleRetainEndChars:  25,
		MaxQuestionLength:    120,
		MaxDescriptionLength: 10000,
	}
}

func TestBuildTitleShortTitlePassesThrough(t *testing.T) {
	q := domain.SourceQuestion{Source: domain.SourceMetaculus, Title: "Will it happen?"}
	assert.Equal(t, "[Metaculus] Will it happen?", BuildTitle(q, testTemplate()))
}

func TestBuildTitleTruncatesFromTheMiddle(t *testing.T) {
	// "[Metaculus] " is 12 characters; 138 more makes a 150-character title.
	raw := strings.Repeat("x", 138-25) + strings.Repeat("e", 25)
	q := domain.SourceQuestion{Source: domain.SourceMetaculus, Title: raw}

	title := BuildTitle(q, testTemplate())
	full := "[Metaculus] " + raw

	require.Len(t, title, 120)
	// The last 25 characters of the original survive.
	assert.Equal(t, full[len(full)-25:], title[len(title)-25:])
	assert.Equal(t, full[:92], title[:92])
	assert.Equal(t, "...", title[92:95])
}

func TestBuildTitleExactLimitNotTruncated(t *testing.T) {
	raw := strings.Repeat("y", 108) // 12 + 108 = 120
	q := domain.SourceQuestion{Source: domain.SourceMetaculus, Title: raw}
	assert.Len(t, BuildTitle(q, testTemplate()), 120)
	assert.NotContains(t, BuildTitle(q, testTemplate()), "...")
}

func TestBuildDescription(t *testing.T) {
	q := domain.SourceQuestion{
		Source:   domain.SourceMetaculus,
		ID:       "12345",
		Title:    "Will it happen?",
		URL:      "https://www.metaculus.com/questions/12345/",
		Criteria: "Resolves YES if the thing happens.",
	}

	desc := BuildDescription(q, testTemplate())
	assert.True(t, strings.HasPrefix(desc, "### Will it happen?\n\n"))
	assert.Contains(t, desc, "Resolves the same as [the original on Metaculus](https://www.metaculus.com/questions/12345/).")
	assert.Contains(t, desc, "question_embed/12345/")
	assert.Contains(t, desc, "**Resolution criteria**\n\nResolves YES if the thing happens.")
	assert.True(t, strings.HasSuffix(desc, "managed by a bot"))
}

func TestBuildDescriptionKalshiHasNoEmbed(t *testing.T) {
	q := domain.SourceQuestion{
		Source: domain.SourceKalshi,
		ID:     "KXTEST-25",
		Title:  "Will it happen?",
		URL:    "https://kalshi.com/markets/KXTEST-25",
	}
	desc := BuildDescription(q, testTemplate())
	assert.NotContains(t, desc, "iframe")
	assert.Contains(t, desc, "the original on Kalshi")
}

func TestBuildDescriptionTruncates(t *testing.T) {
	tmpl := testTemplate()
	tmpl.MaxDescriptionLength = 100

	q := domain.SourceQuestion{
		Source:   domain.SourceKalshi,
		Title:    "Will it happen?",
		URL:      "https://kalshi.com/markets/KXTEST-25",
		Criteria: strings.Repeat("long rules text ", 50),
	}
	desc := BuildDescription(q, tmpl)
	require.Len(t, desc, 100)
	assert.True(t, strings.HasSuffix(desc, "..."))
}

func TestNewCreateMarketRequestCloseTime(t *testing.T) {
	q := domain.SourceQuestion{
		Source:   domain.SourceMetaculus,
		Title:    "Will it happen?",
		ClosesAt: testNow.Add(10 * 24 * time.Hour),
	}
	req := NewCreateMarketRequest(q, testTemplate(), nil, testNow)
	assert.Equal(t, "BINARY", req.OutcomeType)
	assert.Equal(t, 50, req.InitialProb)
	// One day after the source closes.
	assert.Equal(t, q.ClosesAt.Add(24*time.Hour), req.CloseTime.Time())

	// A source already past its close date gets a week from now.
	q.ClosesAt = testNow.Add(-time.Hour)
	req = NewCreateMarketRequest(q, testTemplate(), nil, testNow)
	assert.Equal(t, testNow.Add(7*24*time.Hour), req.CloseTime.Time())
}

func TestResolutionFor(t *testing.T) {
	res, err := ResolutionFor(domain.Outcome{Kind: domain.OutcomeYes})
	require.NoError(t, err)
	assert.Equal(t, "YES", res.Outcome)

	res, err = ResolutionFor(domain.Outcome{Kind: domain.OutcomeNo})
	require.NoError(t, err)
	assert.Equal(t, "NO", res.Outcome)

	res, err = ResolutionFor(domain.Outcome{Kind: domain.OutcomeCancel})
	require.NoError(t, err)
	assert.Equal(t, "CANCEL", res.Outcome)

	res, err = ResolutionFor(domain.Outcome{Kind: domain.OutcomePercent, Value: 0.55})
	require.NoError(t, err)
	assert.Equal(t, "MKT", res.Outcome)
	require.NotNil(t, res.ProbabilityInt)
	assert.Equal(t, 55, *res.ProbabilityInt)

	_, err = ResolutionFor(domain.Outcome{Kind: "ranked"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOutcome)
}

func TestSlugFromURL(t *testing.T) {
	slug, err := SlugFromURL("https://manifold.markets/somebody/will-it-happen")
	require.NoError(t, err)
	assert.Equal(t, "will-it-happen", slug)

	slug, err = SlugFromURL("https://manifold.markets/market/will-it-happen")
	require.NoError(t, err)
	assert.Equal(t, "will-it-happen", slug)

	_, err = SlugFromURL("https://manifold.markets/")
	assert.Error(t, err)
}
