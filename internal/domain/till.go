package domain

import "time"

// TillState is the whole persisted object for one terminal: settings, the running
// session counters and the per-day aggregate buckets keyed by ISO date.
type TillState struct {
	TerminalID string                     `json:"terminal_id"`
	Settings   TillSettings               `json:"settings"`
	Session    TillSession                `json:"session"`
	ZAgg       map[string]*DailyAggregate `json:"z_agg"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

type TillSettings struct {
	TillNumber     string     `json:"till_number,omitempty"`
	StoreName      string     `json:"store_name,omitempty"`
	DefaultVATRate float64    `json:"default_vat_rate"`
	LastEURRate    string     `json:"last_eur_rate,omitempty"`
	LastEURRateAt  *time.Time `json:"last_eur_rate_at,omitempty"`
}

type TillSession struct {
	OpeningFloatCents  int64  `json:"opening_float_cents"`
	OpeningDate        string `json:"opening_date,omitempty"`
	OpenedBy           string `json:"opened_by,omitempty"`
	NetCashCents       int64  `json:"net_cash_cents"`
	NetCardCents       int64  `json:"net_card_cents"`
	NetVoucherCents    int64  `json:"net_voucher_cents"`
	NetCashChangeCents int64  `json:"net_cash_change_cents"`
}

// IsOpen reports whether the session was opened on the given calendar day.
func (s TillSession) IsOpen(day string) bool {
	return s.OpeningDate != "" && s.OpeningDate == day
}

type AggregateTotals struct {
	GrossCents      int64 `json:"gross_cents"`
	NetCents        int64 `json:"net_cents"`
	VATSalesCents   int64 `json:"vat_sales_cents"`
	VATReturnsCents int64 `json:"vat_returns_cents"`
	ReturnsCents    int64 `json:"returns_amount_cents"`
	SaleCount       int64 `json:"sale_count"`
	ReturnCount     int64 `json:"return_count"`
	ItemsQty        int64 `json:"items_qty"`
}

type AggregateDiscounts struct {
	SalesCents   int64 `json:"sales_cents"`
	ReturnsCents int64 `json:"returns_cents"`
}

type GroupTotal struct {
	Qty         int64 `json:"qty"`
	AmountCents int64 `json:"amount_cents"`
}

type DailyAggregate struct {
	Totals     AggregateTotals        `json:"totals"`
	Discounts  AggregateDiscounts     `json:"discounts"`
	Tenders    map[PaymentMode]int64  `json:"tenders"`
	PerCashier map[string]int64       `json:"per_cashier"`
	PerGroup   map[string]*GroupTotal `json:"per_group"`
}

func NewDailyAggregate() *DailyAggregate {
	return &DailyAggregate{
		Tenders:    make(map[PaymentMode]int64, len(PaymentModes)),
		PerCashier: make(map[string]int64),
		PerGroup:   make(map[string]*GroupTotal),
	}
}

// Clone returns a deep copy so reports never alias persisted state.
func (a *DailyAggregate) Clone() *DailyAggregate {
	out := NewDailyAggregate()
	if a == nil {
		return out
	}
	out.Totals = a.Totals
	out.Discounts = a.Discounts
	for mode, amount := range a.Tenders {
		out.Tenders[mode] = amount
	}
	for name, amount := range a.PerCashier {
		out.PerCashier[name] = amount
	}
	for group, total := range a.PerGroup {
		if total == nil {
			continue
		}
		copied := *total
		out.PerGroup[group] = &copied
	}
	return out
}

// TillReport is a snapshot of a day bucket and the running counters, used for X/Z reads.
type TillReport struct {
	Kind       string          `json:"kind"`
	TerminalID string          `json:"terminal_id"`
	TillNumber string          `json:"till_number,omitempty"`
	StoreName  string          `json:"store_name,omitempty"`
	Date       string          `json:"date"`
	Session    TillSession     `json:"session"`
	Aggregate  *DailyAggregate `json:"aggregate"`
	PrintedAt  time.Time       `json:"printed_at"`
}

type TillStatus struct {
	TerminalID string       `json:"terminal_id"`
	Today      string       `json:"today"`
	Open       bool         `json:"open"`
	Settings   TillSettings `json:"settings"`
	Session    TillSession  `json:"session"`
	// UnclosedDate names an earlier day that was never Z-read, set only by the open call that replaced it.
	UnclosedDate string `json:"unclosed_date,omitempty"`
}

type DenominationCount struct {
	FaceCents int64 `json:"face_cents"`
	Count     int   `json:"count"`
}

type ReconciliationReport struct {
	TerminalID     string              `json:"terminal_id,omitempty"`
	Date           string              `json:"date,omitempty"`
	Counts         []DenominationCount `json:"counts"`
	PayoutsCents   int64               `json:"payouts_cents"`
	CountedCents   int64               `json:"counted_cents"`
	ExpectedCents  int64               `json:"expected_cents"`
	VarianceCents  int64               `json:"variance_cents"`
	Passed         bool                `json:"passed"`
	SuggestedBreak []DenominationCount `json:"suggested_breakdown,omitempty"`
}
