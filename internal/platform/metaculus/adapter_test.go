package metaculus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

func resolvedBinary(r float64) Question {
	return Question{
		ID:          12345,
		ActiveState: StateResolved,
		Type:        "forecast",
		Possibilities: possibilities{
			Type: "binary",
		},
		Resolution: &r,
	}
}

func TestDecodeResolution(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  domain.Outcome
	}{
		{"annulled", -2, domain.Outcome{Kind: domain.OutcomeCancel}},
		{"ambiguous", -1, domain.Outcome{Kind: domain.OutcomeCancel}},
		{"no", 0, domain.Outcome{Kind: domain.OutcomeNo}},
		{"yes", 1, domain.Outcome{Kind: domain.OutcomeYes}},
		{"fractional", 0.37, domain.Outcome{Kind: domain.OutcomePercent, Value: 0.37}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := decodeResolution(resolvedBinary(tt.value))
			require.NoError(t, err)
			require.NotNil(t, outcome)
			assert.Equal(t, tt.want, *outcome)
		})
	}
}

func TestDecodeResolutionUnresolved(t *testing.T) {
	q := resolvedBinary(1)
	q.ActiveState = StateOpen
	outcome, err := decodeResolution(q)
	require.NoError(t, err)
	assert.Nil(t, outcome)

	q = resolvedBinary(1)
	q.Resolution = nil
	outcome, err = decodeResolution(q)
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestDecodeResolutionOutOfRange(t *testing.T) {
	_, err := decodeResolution(resolvedBinary(3))
	assert.ErrorIs(t, err, domain.ErrUnsupportedOutcome)
}

func TestQuestionIDFromURL(t *testing.T) {
	for _, raw := range []string{
		"https://www.metaculus.com/questions/12345/will-it-happen/",
		"https://metaculus.com/questions/12345",
	} {
		id, err := QuestionIDFromURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "12345", id)
	}

	for _, raw := range []string{
		"https://example.com/questions/12345",
		"https://www.metaculus.com/tournaments/12345",
		"https://www.metaculus.com/questions/abc",
		"https://www.metaculus.com/",
	} {
		_, err := QuestionIDFromURL(raw)
		assert.ErrorIs(t, err, domain.ErrNotFound, raw)
	}
}
