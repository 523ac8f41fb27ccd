package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMode string

const (
	PaymentCash    PaymentMode = "Cash"
	PaymentCard    PaymentMode = "Card"
	PaymentVoucher PaymentMode = "Voucher"
	PaymentOther   PaymentMode = "Other"
)

// PaymentModes is the fixed tender order used by reports.
var PaymentModes = []PaymentMode{PaymentCash, PaymentCard, PaymentVoucher, PaymentOther}

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentVoucher, PaymentOther:
		return true
	default:
		return false
	}
}

type CartLine struct {
	ItemCode          string   `json:"item_code"`
	Name              string   `json:"name"`
	Qty               int      `json:"qty"`
	RateCents         int64    `json:"rate_cents"`
	OriginalRateCents *int64   `json:"original_rate_cents,omitempty"`
	Refund            bool     `json:"refund"`
	VATRate           *float64 `json:"vat_rate,omitempty"`
	ItemGroup         string   `json:"item_group,omitempty"`
	Barcode           string   `json:"barcode,omitempty"`
}

// AmountCents is the signed contribution of the line to the cart total.
func (l CartLine) AmountCents() int64 {
	amount := int64(l.Qty) * l.RateCents
	if l.Refund {
		return -amount
	}
	return amount
}

// DiscountCents is how far the line was marked down from its first rate, signed like AmountCents.
func (l CartLine) DiscountCents() int64 {
	if l.OriginalRateCents == nil || *l.OriginalRateCents <= l.RateCents {
		return 0
	}
	discount := int64(l.Qty) * (*l.OriginalRateCents - l.RateCents)
	if l.Refund {
		return -discount
	}
	return discount
}

type PaymentFX struct {
	Currency       string          `json:"currency"`
	AmountEURCents int64           `json:"amount_eur_cents"`
	EURRate        decimal.Decimal `json:"eur_rate"`
}

type Payment struct {
	Mode           PaymentMode `json:"mode"`
	AmountCents    int64       `json:"amount_cents"`
	Reference      string      `json:"reference,omitempty"`
	FX             *PaymentFX  `json:"fx,omitempty"`
	CreatedVoucher bool        `json:"created_voucher,omitempty"`
}

type Voucher struct {
	Code         string `json:"code"`
	BalanceCents int64  `json:"balance_cents"`
}

type VoucherCheck struct {
	Code         string `json:"code"`
	BalanceCents int64  `json:"balance_cents"`
	CanRedeem    bool   `json:"can_redeem"`
	Note         string `json:"note,omitempty"`
}

type VoucherIssueRequest struct {
	Code           string `json:"voucher_code,omitempty"`
	AmountCents    int64  `json:"amount_cents"`
	Customer       string `json:"customer,omitempty"`
	TillNumber     string `json:"till_number,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type BalanceSlip struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amount_cents"`
}

type IssuedVoucherSlip struct {
	Code        string    `json:"code"`
	AmountCents int64     `json:"amount_cents"`
	IssuedAt    time.Time `json:"issued_at"`
	Cashier     string    `json:"cashier,omitempty"`
	TillNumber  string    `json:"till_number,omitempty"`
}

// FXSlip carries the exchange terms of a euro cash tender.
type FXSlip struct {
	GBPTotalCents      int64           `json:"gbp_total_cents"`
	TargetEURCents     int64           `json:"target_eur_cents"`
	EURReceivedCents   int64           `json:"eur_received_cents"`
	GBPEquivalentCents int64           `json:"gbp_equivalent_cents"`
	EURDifferenceCents int64           `json:"eur_difference_cents"`
	GBPDifferenceCents int64           `json:"gbp_difference_cents"`
	EffectiveRate      decimal.Decimal `json:"effective_rate"`
	Mode               string          `json:"mode"`
}

type Actor struct {
	Username    string
	Role        string
	DisplayName string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type CashierUser struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	Password    string
	Role        string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaleRecord is a completed settlement as folded into the till and kept for reprints.
type SaleRecord struct {
	InvoiceName         string              `json:"invoice_name"`
	InvoiceBarcodeValue string              `json:"invoice_barcode_value,omitempty"`
	InvoiceBarcodeHex   []string            `json:"invoice_barcode_hex,omitempty"`
	TerminalID          string              `json:"terminal_id"`
	Cashier             string              `json:"cashier"`
	Customer            string              `json:"customer,omitempty"`
	Lines               []CartLine          `json:"lines"`
	Payments            []Payment           `json:"payments"`
	TotalCents          int64               `json:"total_cents"`
	PaidCents           int64               `json:"paid_cents"`
	ChangeCents         int64               `json:"change_cents"`
	IsRefund            bool                `json:"is_refund"`
	BalanceSlips        []BalanceSlip       `json:"balance_slips,omitempty"`
	IssuedVouchers      []IssuedVoucherSlip `json:"issued_vouchers,omitempty"`
	FX                  *FXSlip             `json:"fx,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

type HeldSale struct {
	ID         string     `json:"id"`
	TerminalID string     `json:"terminal_id"`
	Cashier    string     `json:"cashier"`
	Customer   string     `json:"customer,omitempty"`
	Note       string     `json:"note,omitempty"`
	Lines      []CartLine `json:"lines"`
	ItemsCount int        `json:"items_count"`
	TotalCents int64      `json:"total_cents"`
	HeldAt     time.Time  `json:"held_at"`
}

// CatalogItem is what a barcode lookup resolves to.
type CatalogItem struct {
	ItemCode  string   `json:"item_code"`
	Name      string   `json:"name"`
	RateCents int64    `json:"rate_cents"`
	ItemGroup string   `json:"item_group,omitempty"`
	VATRate   *float64 `json:"vat_rate,omitempty"`
}

// PrintJob is the payload understood by the receipt print agent.
type PrintJob struct {
	Kind      string   `json:"-"`
	Text      string   `json:"text"`
	Hex       []string `json:"hex,omitempty"`
	LineFeeds int      `json:"line_feeds"`
	Cut       bool     `json:"cut"`
}

const (
	PrintKindSaleReceipt    = "sale_receipt"
	PrintKindGiftReceipt    = "gift_receipt"
	PrintKindFXSlip         = "fx_slip"
	PrintKindVoucherSlip    = "voucher_slip"
	PrintKindBalanceSlip    = "balance_slip"
	PrintKindFloatOpen      = "float_open"
	PrintKindXRead          = "x_read"
	PrintKindZRead          = "z_read"
	PrintKindReconciliation = "reconciliation"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)
