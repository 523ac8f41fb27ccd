// Package till keeps the per-terminal session counters and daily aggregates behind X and Z reads.
package till

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
	"tillpoint/backend/internal/printing"
	"tillpoint/backend/internal/store"
)

const (
	dayLayout      = "2006-01-02"
	ungroupedLabel = "Ungrouped"

	ReportX = "X"
	ReportZ = "Z"
)

var (
	ErrTillClosed   = errors.New("till is not open")
	ErrAlreadyOpen  = errors.New("till already open today")
	ErrInvalidFloat = errors.New("opening float must not be negative")
)

type Config struct {
	DefaultVATRate float64
	StoreName      string
	TillNumber     string
	// Location decides which calendar day a moment belongs to. Defaults to time.Local.
	Location *time.Location
}

type Ledger struct {
	repo store.TillRepository
	cfg  Config
	loc  *time.Location
}

func NewLedger(repo store.TillRepository, cfg Config) *Ledger {
	if cfg.DefaultVATRate < 0 {
		cfg.DefaultVATRate = 0
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{repo: repo, cfg: cfg, loc: loc}
}

// Day is the business-day key used for aggregate buckets. Every key is taken in the ledger's
// location, whatever zone t carries.
func (l *Ledger) Day(t time.Time) string {
	return t.In(l.loc).Format(dayLayout)
}

// DayWindow returns the [from, to) instants of a business day. An empty date means today.
func (l *Ledger) DayWindow(date string, now time.Time) (time.Time, time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		date = l.Day(now)
	}
	from, err := time.ParseInLocation(dayLayout, date, l.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return from, from.AddDate(0, 0, 1), nil
}

func (l *Ledger) Open(ctx context.Context, terminalID string, floatCents int64, cashier string, now time.Time) (domain.TillStatus, error) {
	if floatCents < 0 {
		return domain.TillStatus{}, ErrInvalidFloat
	}
	today := l.Day(now)
	var stale domain.TillSession
	var staleAgg *domain.DailyAggregate
	state, err := l.repo.UpdateTill(ctx, terminalID, func(state *domain.TillState) error {
		if state.Session.IsOpen(today) {
			return ErrAlreadyOpen
		}
		l.applyDefaults(state)
		stale, staleAgg = state.Session, state.ZAgg[state.Session.OpeningDate].Clone()
		state.Session = domain.TillSession{
			OpeningFloatCents: floatCents,
			OpeningDate:       today,
			OpenedBy:          cashier,
		}
		return nil
	})
	if err != nil {
		return domain.TillStatus{}, err
	}
	if stale.OpeningDate != "" {
		// The day bucket is kept so an X/Z read for that date can still be taken.
		log.Printf("[till] WARN: terminal=%s opened without a z-read for %s: sales=%d net=%s cash=%s card=%s voucher=%s",
			terminalID, stale.OpeningDate, staleAgg.Totals.SaleCount+staleAgg.Totals.ReturnCount, money.Format(staleAgg.Totals.NetCents),
			money.Format(stale.NetCashCents), money.Format(stale.NetCardCents), money.Format(stale.NetVoucherCents))
	}
	log.Printf("[till] opened terminal=%s float=%s by=%s", terminalID, money.Format(floatCents), cashier)
	status := statusOf(state, today)
	status.UnclosedDate = stale.OpeningDate
	return status, nil
}

func (l *Ledger) Status(ctx context.Context, terminalID string, now time.Time) (domain.TillStatus, error) {
	state, err := l.repo.LoadTill(ctx, terminalID)
	if err != nil {
		return domain.TillStatus{}, err
	}
	l.applyDefaults(state)
	return statusOf(state, l.Day(now)), nil
}

// RequireOpen returns the running session, or ErrTillClosed when no float was taken today.
func (l *Ledger) RequireOpen(ctx context.Context, terminalID string, now time.Time) (domain.TillSession, error) {
	status, err := l.Status(ctx, terminalID, now)
	if err != nil {
		return domain.TillSession{}, err
	}
	if !status.Open {
		return domain.TillSession{}, ErrTillClosed
	}
	return status.Session, nil
}

// RecordSale folds a completed sale or refund into the session counters and its day bucket.
func (l *Ledger) RecordSale(ctx context.Context, terminalID string, sale domain.SaleRecord) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}
	day := l.Day(sale.CreatedAt)
	_, err := l.repo.UpdateTill(ctx, terminalID, func(state *domain.TillState) error {
		l.applyDefaults(state)
		agg := state.ZAgg[day]
		if agg == nil {
			agg = domain.NewDailyAggregate()
			state.ZAgg[day] = agg
		}
		l.fold(state, agg, sale)
		return nil
	})
	return err
}

func (l *Ledger) fold(state *domain.TillState, agg *domain.DailyAggregate, sale domain.SaleRecord) {
	defaultVAT := state.Settings.DefaultVATRate
	for _, line := range sale.Lines {
		amount := money.Abs(line.AmountCents())
		vat := vatPortion(amount, line.VATRate, defaultVAT)
		discount := money.Abs(line.DiscountCents())
		if line.Refund {
			agg.Totals.ReturnsCents += amount
			agg.Totals.VATReturnsCents += vat
			agg.Discounts.ReturnsCents += discount
		} else {
			agg.Totals.GrossCents += amount
			agg.Totals.VATSalesCents += vat
			agg.Totals.ItemsQty += int64(line.Qty)
			agg.Discounts.SalesCents += discount
		}

		group := strings.TrimSpace(line.ItemGroup)
		if group == "" {
			group = ungroupedLabel
		}
		total := agg.PerGroup[group]
		if total == nil {
			total = &domain.GroupTotal{}
			agg.PerGroup[group] = total
		}
		qty := int64(line.Qty)
		if line.Refund {
			qty = -qty
		}
		total.Qty += qty
		total.AmountCents += line.AmountCents()
	}

	agg.Totals.NetCents += sale.TotalCents
	if sale.TotalCents < 0 {
		agg.Totals.ReturnCount++
	} else {
		agg.Totals.SaleCount++
	}

	sign := int64(1)
	if sale.TotalCents < 0 {
		sign = -1
	}
	for _, payment := range sale.Payments {
		signed := sign * payment.AmountCents
		agg.Tenders[payment.Mode] += signed
		switch payment.Mode {
		case domain.PaymentCash:
			state.Session.NetCashCents += signed
		case domain.PaymentCard:
			state.Session.NetCardCents += signed
		case domain.PaymentVoucher:
			state.Session.NetVoucherCents += signed
		}
	}
	if sale.ChangeCents > 0 {
		agg.Tenders[domain.PaymentCash] -= sale.ChangeCents
		state.Session.NetCashChangeCents += sale.ChangeCents
	}

	cashier := strings.TrimSpace(sale.Cashier)
	if cashier == "" {
		cashier = "Unknown"
	}
	agg.PerCashier[cashier] += sale.TotalCents
}

// vatPortion extracts the VAT contained in a VAT-inclusive amount.
func vatPortion(amountCents int64, lineRate *float64, defaultRate float64) int64 {
	rate := defaultRate
	if lineRate != nil {
		rate = *lineRate
	}
	if rate <= 0 || amountCents == 0 {
		return 0
	}
	r := decimal.NewFromFloat(rate)
	portion := money.ToDecimal(amountCents).Mul(r).Div(r.Add(decimal.NewFromInt(100)))
	return money.FromDecimal(portion)
}

// XRead reports today's figures without touching them.
func (l *Ledger) XRead(ctx context.Context, terminalID string, now time.Time) (domain.TillReport, error) {
	state, err := l.repo.LoadTill(ctx, terminalID)
	if err != nil {
		return domain.TillReport{}, err
	}
	l.applyDefaults(state)
	return reportOf(state, ReportX, l.Day(now), now), nil
}

// ZRead prints the end-of-day report and only then resets the session and today's bucket.
// A failed print leaves everything in place.
func (l *Ledger) ZRead(ctx context.Context, terminalID string, now time.Time, deliver func(domain.TillReport) error) (domain.TillReport, error) {
	state, err := l.repo.LoadTill(ctx, terminalID)
	if err != nil {
		return domain.TillReport{}, err
	}
	l.applyDefaults(state)
	today := l.Day(now)
	report := reportOf(state, ReportZ, today, now)

	if deliver != nil {
		if err := deliver(report); err != nil {
			if !errors.Is(err, printing.ErrDeliveryFailed) {
				err = fmt.Errorf("%w: %v", printing.ErrDeliveryFailed, err)
			}
			return domain.TillReport{}, err
		}
	}

	_, err = l.repo.UpdateTill(ctx, terminalID, func(state *domain.TillState) error {
		delete(state.ZAgg, today)
		state.Session = domain.TillSession{}
		return nil
	})
	if err != nil {
		return domain.TillReport{}, err
	}
	log.Printf("[till] z-read terminal=%s day=%s net=%s", terminalID, today, money.Format(report.Aggregate.Totals.NetCents))
	return report, nil
}

// LastEURRate and SaveEURRate keep the last good exchange rate in the till settings.
func (l *Ledger) LastEURRate(ctx context.Context, terminalID string) (decimal.Decimal, time.Time, bool, error) {
	state, err := l.repo.LoadTill(ctx, terminalID)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, false, err
	}
	if state.Settings.LastEURRate == "" {
		return decimal.Decimal{}, time.Time{}, false, nil
	}
	rate, err := decimal.NewFromString(state.Settings.LastEURRate)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, false, nil
	}
	var at time.Time
	if state.Settings.LastEURRateAt != nil {
		at = *state.Settings.LastEURRateAt
	}
	return rate, at, true, nil
}

func (l *Ledger) SaveEURRate(ctx context.Context, terminalID string, rate decimal.Decimal, at time.Time) error {
	_, err := l.repo.UpdateTill(ctx, terminalID, func(state *domain.TillState) error {
		state.Settings.LastEURRate = rate.String()
		stamp := at.UTC()
		state.Settings.LastEURRateAt = &stamp
		return nil
	})
	return err
}

func (l *Ledger) applyDefaults(state *domain.TillState) {
	if state.ZAgg == nil {
		state.ZAgg = make(map[string]*domain.DailyAggregate)
	}
	if state.Settings.DefaultVATRate <= 0 {
		state.Settings.DefaultVATRate = l.cfg.DefaultVATRate
	}
	if state.Settings.StoreName == "" {
		state.Settings.StoreName = l.cfg.StoreName
	}
	if state.Settings.TillNumber == "" {
		state.Settings.TillNumber = l.cfg.TillNumber
		if state.Settings.TillNumber == "" {
			state.Settings.TillNumber = state.TerminalID
		}
	}
}

func statusOf(state *domain.TillState, today string) domain.TillStatus {
	return domain.TillStatus{
		TerminalID: state.TerminalID,
		Today:      today,
		Open:       state.Session.IsOpen(today),
		Settings:   state.Settings,
		Session:    state.Session,
	}
}

func reportOf(state *domain.TillState, kind string, day string, now time.Time) domain.TillReport {
	return domain.TillReport{
		Kind:       kind,
		TerminalID: state.TerminalID,
		TillNumber: state.Settings.TillNumber,
		StoreName:  state.Settings.StoreName,
		Date:       day,
		Session:    state.Session,
		Aggregate:  state.ZAgg[day].Clone(),
		PrintedAt:  now,
	}
}
