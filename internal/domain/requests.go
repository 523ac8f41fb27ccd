package domain

import "github.com/shopspring/decimal"

type ScanRequest struct {
	Barcode string `json:"barcode"`
	Qty     int    `json:"qty"`
	Refund  bool   `json:"refund"`
}

type LineQtyRequest struct {
	Index int `json:"index"`
	Qty   int `json:"qty"`
}

type IndexRequest struct {
	Index int `json:"index"`
}

type DiscountRequest struct {
	ItemCodes []string        `json:"item_codes"`
	Mode      string          `json:"mode"`
	Value     decimal.Decimal `json:"value"`
	Reset     bool            `json:"reset"`
}

type PaymentRequest struct {
	Mode        PaymentMode `json:"mode"`
	AmountCents int64       `json:"amount_cents"`
	Reference   string      `json:"reference,omitempty"`
}

type CompleteSaleRequest struct {
	Customer string `json:"customer,omitempty"`
}

// CompletedSale is returned once the ERP accepted the sale. Print failures do not undo it.
type CompletedSale struct {
	Sale        SaleRecord `json:"sale"`
	PrintErrors []string   `json:"print_errors,omitempty"`
}

type VoucherQuoteRequest struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amount_cents"`
}

type FXSelectRequest struct {
	Mode string `json:"mode"`
}

type FXPayRequest struct {
	EURCents int64 `json:"eur_cents"`
}

type TillOpenRequest struct {
	FloatCents int64 `json:"float_cents"`
}

type ReconcileRequest struct {
	Counts       []DenominationCount `json:"counts"`
	PayoutsCents int64               `json:"payouts_cents"`
	Print        bool                `json:"print"`
}

type ReprintRequest struct {
	InvoiceName string `json:"invoice_name,omitempty"`
}

type HoldSaleRequest struct {
	Customer string `json:"customer,omitempty"`
	Note     string `json:"note,omitempty"`
}
