package fx

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
	"tillpoint/backend/internal/tender"
)

// Euro targets round to whole five-euro notes.
const roundingStepCents = 500

var (
	ErrNotStarted       = errors.New("euro conversion not started")
	ErrNothingDue       = errors.New("nothing due for euro payment")
	ErrInvalidMode      = errors.New("unknown rounding mode")
	ErrNoModeSelected   = errors.New("no rounding mode selected")
	ErrInvalidEURAmount = errors.New("euro amount must be positive")
)

type Mode string

const (
	ModeExact Mode = "exact"
	ModeUp    Mode = "up"
	ModeDown  Mode = "down"
)

// Suggester asks the remote ledger for rounded euro targets.
type Suggester interface {
	EURSuggestions(ctx context.Context, gbpTotalCents int64, rate decimal.Decimal) (domain.EURSuggestions, error)
}

// Suggest prefers the remote suggestions and computes them locally when the call fails.
func Suggest(ctx context.Context, suggester Suggester, gbpTotalCents int64, rate decimal.Decimal) domain.EURSuggestions {
	if suggester != nil {
		remote, err := suggester.EURSuggestions(ctx, gbpTotalCents, rate)
		if err == nil && remote.ExactCents > 0 {
			return remote
		}
		if err != nil {
			log.Printf("[fx] WARN: remote suggestions failed, computing locally: %v", err)
		}
	}
	return LocalSuggestions(gbpTotalCents, rate)
}

func LocalSuggestions(gbpTotalCents int64, rate decimal.Decimal) domain.EURSuggestions {
	exact := money.FromDecimal(money.ToDecimal(gbpTotalCents).Mul(rate))
	up := (exact/roundingStepCents + 1) * roundingStepCents
	down := exact - exact%roundingStepCents
	if exact%roundingStepCents == 0 {
		down = exact - roundingStepCents
	}
	if down <= 0 {
		down = exact
	}
	return domain.EURSuggestions{ExactCents: exact, RoundUpCents: up, RoundDownCents: down}
}

// Conversion is the euro tender state of one transaction.
type Conversion struct {
	GBPTotalCents      int64                 `json:"gbp_total_cents"`
	StoreRate          decimal.Decimal       `json:"store_rate"`
	RateSource         Source                `json:"rate_source"`
	Suggestions        domain.EURSuggestions `json:"suggestions"`
	Mode               Mode                  `json:"mode,omitempty"`
	TargetEURCents     int64                 `json:"target_eur_cents"`
	EffectiveRate      decimal.Decimal       `json:"effective_rate"`
	EURReceivedCents   int64                 `json:"eur_received_cents"`
	GBPEquivalentCents int64                 `json:"gbp_equivalent_cents"`
	EURDifferenceCents int64                 `json:"eur_difference_cents"`
	GBPDifferenceCents int64                 `json:"gbp_difference_cents"`
	Applied            bool                  `json:"applied"`
}

func (c *Conversion) Active() bool {
	return c.GBPTotalCents > 0
}

// Start resets the conversion for a new sterling amount.
func (c *Conversion) Start(gbpTotalCents int64, rate decimal.Decimal, source Source, suggestions domain.EURSuggestions) error {
	c.Reset()
	if gbpTotalCents <= 0 {
		return ErrNothingDue
	}
	c.GBPTotalCents = gbpTotalCents
	c.StoreRate = rate
	c.RateSource = source
	c.Suggestions = suggestions
	return nil
}

// Select picks the rounded euro target and derives the effective rate from it.
func (c *Conversion) Select(mode Mode) error {
	if !c.Active() {
		return ErrNotStarted
	}
	var target int64
	switch mode {
	case ModeExact:
		target = c.Suggestions.ExactCents
	case ModeUp:
		target = c.Suggestions.RoundUpCents
	case ModeDown:
		target = c.Suggestions.RoundDownCents
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if target <= 0 {
		return fmt.Errorf("%w: %q has no target", ErrInvalidMode, mode)
	}
	c.Mode = mode
	c.TargetEURCents = target
	c.EffectiveRate = money.ToDecimal(target).DivRound(money.ToDecimal(c.GBPTotalCents), 6)
	return nil
}

// Apply converts the euros received at the effective rate and appends a sterling cash payment.
func (c *Conversion) Apply(engine *tender.Engine, eurReceivedCents int64) (domain.Payment, error) {
	if !c.Active() {
		return domain.Payment{}, ErrNotStarted
	}
	if c.Mode == "" || !c.EffectiveRate.IsPositive() {
		return domain.Payment{}, ErrNoModeSelected
	}
	if eurReceivedCents <= 0 {
		return domain.Payment{}, ErrInvalidEURAmount
	}

	gbpEquivalent := money.FromDecimal(money.ToDecimal(eurReceivedCents).Div(c.EffectiveRate))
	payment, err := engine.Apply(domain.PaymentCash, gbpEquivalent, tender.ApplyOptions{
		FX: &domain.PaymentFX{
			Currency:       "EUR",
			AmountEURCents: eurReceivedCents,
			EURRate:        c.EffectiveRate,
		},
	})
	if err != nil {
		return domain.Payment{}, err
	}

	c.EURReceivedCents = eurReceivedCents
	c.GBPEquivalentCents = gbpEquivalent
	c.EURDifferenceCents = eurReceivedCents - c.TargetEURCents
	c.GBPDifferenceCents = gbpEquivalent - c.GBPTotalCents
	c.Applied = true
	return payment, nil
}

// Slip returns the exchange terms for the receipt, or nil when no euros were taken.
func (c *Conversion) Slip() *domain.FXSlip {
	if !c.Applied {
		return nil
	}
	return &domain.FXSlip{
		GBPTotalCents:      c.GBPTotalCents,
		TargetEURCents:     c.TargetEURCents,
		EURReceivedCents:   c.EURReceivedCents,
		GBPEquivalentCents: c.GBPEquivalentCents,
		EURDifferenceCents: c.EURDifferenceCents,
		GBPDifferenceCents: c.GBPDifferenceCents,
		EffectiveRate:      c.EffectiveRate,
		Mode:               string(c.Mode),
	}
}

func (c *Conversion) Reset() {
	*c = Conversion{}
}
