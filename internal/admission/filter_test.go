package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// eligibleQuestion returns a question that passes the full Metaculus-style
// filter used in these tests.
func eligibleQuestion() domain.SourceQuestion {
	p := 0.5
	active := testNow.Add(-24 * time.Hour)
	return domain.SourceQuestion{
		Source:              domain.SourceMetaculus,
		ID:                  "12345",
		Title:               "Will it happen?",
		Open:                true,
		CreatedAt:           testNow.Add(-10 * 24 * time.Hour),
		ClosesAt:            testNow.Add(10 * 24 * time.Hour),
		Forecasters:         40,
		Votes:               50,
		CommunityPrediction: &p,
		LastActiveAt:        &active,
	}
}

func strictFilter() FilterConfig {
	return FilterConfig{
		RequireOpen:                true,
		ExcludeResolved:            true,
		ExcludeGrouped:             true,
		ExcludeConditional:         true,
		RequireCommunityPrediction: true,
		MinForecasters:             25,
		MinVotes:                   10,
		MinDaysToResolution:        4,
		MaxDaysToResolution:        365,
		MaxAgeDays:                 60,
		MaxLastActiveDays:          30,
		MaxConfidence:              0.97,
	}
}

func TestEvaluateAcceptsEligibleQuestion(t *testing.T) {
	res := Evaluate(eligibleQuestion(), strictFilter(), testNow)
	require.True(t, res.Accepted)
	assert.Empty(t, res.Reason)
}

func TestEvaluateStateFlags(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.Open = false
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question is not open", res.Reason)

	q = eligibleQuestion()
	q.Resolved = true
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question has already resolved", res.Reason)

	q = eligibleQuestion()
	q.Grouped = true
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question is part of a group", res.Reason)

	q = eligibleQuestion()
	q.Conditional = true
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "conditional questions are not supported", res.Reason)
}

func TestEvaluateExcludedID(t *testing.T) {
	cfg := strictFilter()
	cfg.ExcludeIDs = []string{"12345"}

	res := Evaluate(eligibleQuestion(), cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question is excluded in config", res.Reason)
}

func TestEvaluateForecasterBoundary(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.Forecasters = 25
	assert.True(t, Evaluate(q, cfg, testNow).Accepted, "at the minimum")

	q.Forecasters = 24
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted, "one below the minimum")
	assert.Equal(t, "question has 24 forecasters, and the minimum is 25", res.Reason)
}

func TestEvaluateVoteBoundary(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.Votes = 10
	assert.True(t, Evaluate(q, cfg, testNow).Accepted)

	q.Votes = 9
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question has 9 votes, and the minimum is 10", res.Reason)
}

func TestEvaluateKalshiCounters(t *testing.T) {
	cfg := FilterConfig{
		MinLiquidity:    10000,
		MinVolume:       2000,
		MinOpenInterest: 1000,
	}
	q := domain.SourceQuestion{
		Source:       domain.SourceKalshi,
		ID:           "KXTEST-25",
		Liquidity:    10000,
		Volume:       2000,
		OpenInterest: 1000,
		ClosesAt:     testNow.Add(30 * 24 * time.Hour),
	}
	assert.True(t, Evaluate(q, cfg, testNow).Accepted)

	q.Liquidity = 9999
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question has 9999 liquidity, and the minimum is 10000", res.Reason)
}

func TestEvaluateResolutionWindow(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.ClosesAt = testNow.Add(3 * 24 * time.Hour)
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question resolves in 3 days, and the minimum is 4", res.Reason)

	q.ClosesAt = testNow.Add(400 * 24 * time.Hour)
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question resolves in 400 days, and the maximum is 365", res.Reason)

	q.ClosesAt = testNow.Add(4 * 24 * time.Hour)
	assert.True(t, Evaluate(q, cfg, testNow).Accepted)
}

func TestEvaluateAge(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.CreatedAt = testNow.Add(-61 * 24 * time.Hour)
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question published 61 days ago, and the maximum is 60", res.Reason)

	q.CreatedAt = testNow.Add(-60 * 24 * time.Hour)
	assert.True(t, Evaluate(q, cfg, testNow).Accepted, "exactly at the limit")
}

func TestEvaluateActivity(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	stale := testNow.Add(-31 * 24 * time.Hour)
	q.LastActiveAt = &stale
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "question was last active 31 days ago, and the maximum is 30", res.Reason)

	q.LastActiveAt = nil
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "no recorded activity")
}

func TestEvaluateConfidence(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	p := 0.99
	q.CommunityPrediction = &p
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "maximum confidence is 0.97")

	// Confidence is symmetric: a near-certain NO is just as settled.
	p = 0.01
	res = Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)

	p = 0.9
	assert.True(t, Evaluate(q, cfg, testNow).Accepted)
}

func TestEvaluateHiddenCommunityPrediction(t *testing.T) {
	cfg := strictFilter()

	q := eligibleQuestion()
	q.CommunityPrediction = nil
	res := Evaluate(q, cfg, testNow)
	require.False(t, res.Accepted)
	assert.Equal(t, "community prediction still hidden", res.Reason)
}

func TestEvaluateZeroThresholdsDisableChecks(t *testing.T) {
	// An empty config admits everything, even a bare question.
	res := Evaluate(domain.SourceQuestion{ID: "1"}, FilterConfig{}, testNow)
	assert.True(t, res.Accepted)
}
