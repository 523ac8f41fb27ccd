// Package reconcile compares a physical cash count with the till's expected cash.
package reconcile

import (
	"errors"
	"fmt"
	"sort"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
)

var (
	ErrUnknownDenomination = errors.New("unknown denomination")
	ErrInvalidInput        = errors.New("invalid reconciliation input")
)

// Denominations are sterling notes and coins in pence, largest first.
var Denominations = []int64{5000, 2000, 1000, 500, 200, 100, 50, 20, 10, 5, 2, 1}

func isDenomination(face int64) bool {
	for _, d := range Denominations {
		if d == face {
			return true
		}
	}
	return false
}

// Compute totals the counted cash and compares it with
// opening float + net cash - payouts - change given.
func Compute(counts []domain.DenominationCount, payoutsCents int64, session domain.TillSession) (domain.ReconciliationReport, error) {
	if payoutsCents < 0 {
		return domain.ReconciliationReport{}, fmt.Errorf("%w: payouts must not be negative", ErrInvalidInput)
	}

	merged := make(map[int64]int, len(counts))
	for _, c := range counts {
		if !isDenomination(c.FaceCents) {
			return domain.ReconciliationReport{}, fmt.Errorf("%w: %s", ErrUnknownDenomination, money.Format(c.FaceCents))
		}
		if c.Count < 0 {
			return domain.ReconciliationReport{}, fmt.Errorf("%w: count for %s must not be negative", ErrInvalidInput, money.Format(c.FaceCents))
		}
		merged[c.FaceCents] += c.Count
	}

	report := domain.ReconciliationReport{
		Counts:       make([]domain.DenominationCount, 0, len(merged)),
		PayoutsCents: payoutsCents,
	}
	for face, count := range merged {
		report.Counts = append(report.Counts, domain.DenominationCount{FaceCents: face, Count: count})
		report.CountedCents += face * int64(count)
	}
	sort.Slice(report.Counts, func(i, j int) bool { return report.Counts[i].FaceCents > report.Counts[j].FaceCents })

	report.ExpectedCents = session.OpeningFloatCents + session.NetCashCents - payoutsCents - session.NetCashChangeCents
	report.VarianceCents = report.CountedCents - report.ExpectedCents
	report.Passed = report.VarianceCents == 0
	if !report.Passed {
		report.SuggestedBreak = Breakdown(money.Abs(report.VarianceCents))
	}
	return report, nil
}

// Breakdown splits an amount greedily over the denominations.
func Breakdown(amountCents int64) []domain.DenominationCount {
	var out []domain.DenominationCount
	for _, face := range Denominations {
		if amountCents < face {
			continue
		}
		n := amountCents / face
		amountCents -= n * face
		out = append(out, domain.DenominationCount{FaceCents: face, Count: int(n)})
	}
	return out
}
