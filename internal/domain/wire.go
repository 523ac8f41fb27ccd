package domain

// Wire formats exchanged with the remote ERP. Amounts are pounds as JSON numbers
// on the wire; the erp client converts to and from pence at the boundary.

type SaleLineWire struct {
	ItemCode     string   `json:"item_code"`
	ItemName     string   `json:"item_name"`
	Qty          int      `json:"qty"`
	Rate         float64  `json:"rate"`
	OriginalRate *float64 `json:"original_rate,omitempty"`
	Amount       float64  `json:"amount"`
	Refund       bool     `json:"refund,omitempty"`
	VATRate      *float64 `json:"vat_rate,omitempty"`
	ItemGroup    string   `json:"item_group,omitempty"`
}

type SalePaymentWire struct {
	ModeOfPayment string   `json:"mode_of_payment"`
	Amount        float64  `json:"amount"`
	Ref           string   `json:"ref,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	AmountEUR     *float64 `json:"amount_eur,omitempty"`
	EURRate       *float64 `json:"eur_rate,omitempty"`
}

type SaleVoucherWire struct {
	Code    string  `json:"code"`
	Amount  float64 `json:"amount"`
	Created bool    `json:"created,omitempty"`
}

type SaleCashierWire struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SaleFXWire struct {
	Currency      string  `json:"currency"`
	EURReceived   float64 `json:"eur_received"`
	EffectiveRate float64 `json:"effective_rate"`
	EURDifference float64 `json:"eur_difference"`
	GBPDifference float64 `json:"gbp_difference"`
}

type CreateSaleRequest struct {
	Customer   string            `json:"customer"`
	Items      []SaleLineWire    `json:"items"`
	Payments   []SalePaymentWire `json:"payments"`
	Tender     string            `json:"tender"`
	CashGiven  float64           `json:"cash_given"`
	Change     float64           `json:"change"`
	Total      float64           `json:"total"`
	Vouchers   []SaleVoucherWire `json:"vouchers,omitempty"`
	Cashier    SaleCashierWire   `json:"cashier"`
	TillNumber string            `json:"till_number,omitempty"`
	FX         *SaleFXWire       `json:"fx,omitempty"`
}

type CreateSaleResponse struct {
	Status              string   `json:"status"`
	Message             string   `json:"message,omitempty"`
	InvoiceName         string   `json:"invoice_name"`
	InvoiceBarcodeValue string   `json:"invoice_barcode_value,omitempty"`
	InvoiceBarcodeHex   []string `json:"invoice_barcode_hex,omitempty"`
}

type EURSuggestions struct {
	ExactCents     int64 `json:"eur_exact_cents"`
	RoundUpCents   int64 `json:"eur_round_up_cents"`
	RoundDownCents int64 `json:"eur_round_down_cents"`
}
