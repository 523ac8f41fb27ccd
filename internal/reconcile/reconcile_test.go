package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint/backend/internal/domain"
)

func TestComputeShortfallSuggestsBreakdown(t *testing.T) {
	session := domain.TillSession{OpeningFloatCents: 10000, NetCashCents: 25000, NetCashChangeCents: 500}
	counts := []domain.DenominationCount{{FaceCents: 5000, Count: 4}, {FaceCents: 2000, Count: 5}}

	report, err := Compute(counts, 2000, session)
	require.NoError(t, err)
	assert.Equal(t, int64(32500), report.ExpectedCents)
	assert.Equal(t, int64(30000), report.CountedCents)
	assert.Equal(t, int64(-2500), report.VarianceCents)
	assert.False(t, report.Passed)
	assert.Equal(t, []domain.DenominationCount{{FaceCents: 2000, Count: 1}, {FaceCents: 500, Count: 1}}, report.SuggestedBreak)
}

func TestComputeExactPasses(t *testing.T) {
	session := domain.TillSession{OpeningFloatCents: 5000, NetCashCents: 1234}
	counts := []domain.DenominationCount{
		{FaceCents: 5000, Count: 1},
		{FaceCents: 1000, Count: 1},
		{FaceCents: 200, Count: 1},
		{FaceCents: 20, Count: 1},
		{FaceCents: 10, Count: 1},
		{FaceCents: 2, Count: 2},
	}
	report, err := Compute(counts, 0, session)
	require.NoError(t, err)
	assert.Equal(t, int64(6234), report.CountedCents)
	assert.True(t, report.Passed)
	assert.Empty(t, report.SuggestedBreak)
}

func TestComputeOneP(t *testing.T) {
	report, err := Compute([]domain.DenominationCount{{FaceCents: 1, Count: 1}}, 0, domain.TillSession{})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, int64(1), report.VarianceCents)
}

func TestComputeRejectsBadInput(t *testing.T) {
	_, err := Compute([]domain.DenominationCount{{FaceCents: 300, Count: 1}}, 0, domain.TillSession{})
	assert.ErrorIs(t, err, ErrUnknownDenomination)

	_, err = Compute([]domain.DenominationCount{{FaceCents: 100, Count: -1}}, 0, domain.TillSession{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Compute(nil, -1, domain.TillSession{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBreakdownGreedy(t *testing.T) {
	assert.Equal(t, []domain.DenominationCount{
		{FaceCents: 5000, Count: 1},
		{FaceCents: 2000, Count: 1},
		{FaceCents: 1000, Count: 1},
		{FaceCents: 500, Count: 1},
		{FaceCents: 200, Count: 2},
		{FaceCents: 50, Count: 1},
		{FaceCents: 20, Count: 2},
		{FaceCents: 5, Count: 1},
		{FaceCents: 2, Count: 1},
		{FaceCents: 1, Count: 1},
	}, Breakdown(8998))
	assert.Nil(t, Breakdown(0))
}
