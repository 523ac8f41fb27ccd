// Package tender settles a cart against an ordered list of payments and submits the
// balanced sale to the remote ledger.
package tender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
)

var (
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrInvalidMode        = errors.New("unknown payment mode")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentLocked      = errors.New("payment created a voucher and cannot be removed")
	ErrIncompletePayment  = errors.New("incomplete payment")
	ErrSettlementInFlight = errors.New("settlement already in flight")
	ErrAlreadyCompleted   = errors.New("sale already completed")
	ErrEmptyCart          = errors.New("cart is empty")
)

// Submitter persists a balanced sale. The erp client implements it.
type Submitter interface {
	CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error)
}

type ApplyOptions struct {
	Reference      string
	FX             *domain.PaymentFX
	CreatedVoucher bool
}

// SaleContext is the non-cart information attached to a submitted sale.
type SaleContext struct {
	Customer    string
	CashierCode string
	CashierName string
	TillNumber  string
	FX          *domain.FXSlip
}

type Status struct {
	TotalCents        int64            `json:"total_cents"`
	PaidCents         int64            `json:"paid_cents"`
	RemainingDueCents int64            `json:"remaining_due_cents"`
	ChangeCents       int64            `json:"change_cents"`
	IsRefund          bool             `json:"is_refund"`
	CanComplete       bool             `json:"can_complete"`
	Payments          []domain.Payment `json:"payments"`
}

// Result is what a successful Complete hands back to the caller before the cart is cleared.
type Result struct {
	Response    domain.CreateSaleResponse
	Request     domain.CreateSaleRequest
	Lines       []domain.CartLine
	Payments    []domain.Payment
	TotalCents  int64
	PaidCents   int64
	ChangeCents int64
	IsRefund    bool
}

type Engine struct {
	mu        sync.Mutex
	cart      *cart.Cart
	payments  []domain.Payment
	inFlight  bool
	completed bool
}

func NewEngine(c *cart.Cart) *Engine {
	return &Engine{cart: c}
}

func (e *Engine) Cart() *cart.Cart {
	return e.cart
}

// Apply appends a payment. Amounts are not validated against the due amount here.
func (e *Engine) Apply(mode domain.PaymentMode, amountCents int64, opts ApplyOptions) (domain.Payment, error) {
	if !mode.Valid() {
		return domain.Payment{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if amountCents <= 0 {
		return domain.Payment{}, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mutableLocked(); err != nil {
		return domain.Payment{}, err
	}

	payment := domain.Payment{
		Mode:           mode,
		AmountCents:    amountCents,
		Reference:      opts.Reference,
		CreatedVoucher: opts.CreatedVoucher,
	}
	if opts.FX != nil {
		fx := *opts.FX
		payment.FX = &fx
	}
	e.payments = append(e.payments, payment)
	return payment, nil
}

func (e *Engine) Remove(index int) (domain.Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mutableLocked(); err != nil {
		return domain.Payment{}, err
	}
	if index < 0 || index >= len(e.payments) {
		return domain.Payment{}, ErrPaymentNotFound
	}
	removed := e.payments[index]
	if removed.CreatedVoucher {
		return domain.Payment{}, ErrPaymentLocked
	}
	e.payments = append(e.payments[:index], e.payments[index+1:]...)
	return removed, nil
}

func (e *Engine) Payments() []domain.Payment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Payment(nil), e.payments...)
}

func (e *Engine) Paid() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paidLocked()
}

// RemainingDue is how much of the absolute cart total is still unpaid.
func (e *Engine) RemainingDue() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return money.Max(0, money.Abs(e.cart.Total())-e.paidLocked())
}

// CanComplete: a sale may be overpaid, a refund must be paid out exactly.
func (e *Engine) CanComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canCompleteLocked()
}

// Change is only ever given on sales.
func (e *Engine) Change() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeLocked()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.cart.Total()
	paid := e.paidLocked()
	return Status{
		TotalCents:        total,
		PaidCents:         paid,
		RemainingDueCents: money.Max(0, money.Abs(total)-paid),
		ChangeCents:       e.changeLocked(),
		IsRefund:          total < 0,
		CanComplete:       e.canCompleteLocked(),
		Payments:          append([]domain.Payment(nil), e.payments...),
	}
}

func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Reset drops all payments and the completed flag, ready for the next transaction.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return ErrSettlementInFlight
	}
	e.payments = nil
	e.completed = false
	return nil
}

// Complete submits the sale. The payment list is frozen while the call is outstanding;
// on failure nothing changes and the caller may retry.
func (e *Engine) Complete(ctx context.Context, submitter Submitter, sale SaleContext) (Result, error) {
	e.mu.Lock()
	if err := e.mutableLocked(); err != nil {
		e.mu.Unlock()
		return Result{}, err
	}
	if e.cart.Len() == 0 {
		e.mu.Unlock()
		return Result{}, ErrEmptyCart
	}
	if !e.canCompleteLocked() {
		due := money.Max(0, money.Abs(e.cart.Total())-e.paidLocked())
		e.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s still due", ErrIncompletePayment, money.Label(due, "GBP"))
	}

	result := Result{
		Lines:       e.cart.Lines(),
		Payments:    append([]domain.Payment(nil), e.payments...),
		TotalCents:  e.cart.Total(),
		PaidCents:   e.paidLocked(),
		ChangeCents: e.changeLocked(),
	}
	result.IsRefund = result.TotalCents < 0
	result.Request = BuildRequest(result.Lines, result.Payments, result.TotalCents, result.ChangeCents, sale)
	e.inFlight = true
	e.mu.Unlock()

	resp, err := submitter.CreateSale(ctx, result.Request)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	if err != nil {
		return Result{}, err
	}
	e.completed = true
	result.Response = resp
	return result, nil
}

// BuildRequest renders the wire request. Line and payment amounts carry the sign of the
// transaction so refunds submit negative values.
func BuildRequest(lines []domain.CartLine, payments []domain.Payment, totalCents int64, changeCents int64, sale SaleContext) domain.CreateSaleRequest {
	sign := int64(1)
	if totalCents < 0 {
		sign = -1
	}

	req := domain.CreateSaleRequest{
		Customer:   sale.Customer,
		Items:      make([]domain.SaleLineWire, 0, len(lines)),
		Payments:   make([]domain.SalePaymentWire, 0, len(payments)),
		Total:      money.ToFloat(totalCents),
		Change:     money.ToFloat(changeCents),
		Cashier:    domain.SaleCashierWire{Code: sale.CashierCode, Name: sale.CashierName},
		TillNumber: sale.TillNumber,
	}
	if req.Customer == "" {
		req.Customer = "Walk-in Customer"
	}

	for _, line := range lines {
		item := domain.SaleLineWire{
			ItemCode:  line.ItemCode,
			ItemName:  line.Name,
			Qty:       line.Qty,
			Rate:      money.ToFloat(line.RateCents),
			Amount:    money.ToFloat(line.AmountCents()),
			Refund:    line.Refund,
			VATRate:   line.VATRate,
			ItemGroup: line.ItemGroup,
		}
		if line.OriginalRateCents != nil {
			original := money.ToFloat(*line.OriginalRateCents)
			item.OriginalRate = &original
		}
		req.Items = append(req.Items, item)
	}

	modes := make(map[domain.PaymentMode]struct{})
	var cashGiven int64
	for _, payment := range payments {
		wire := domain.SalePaymentWire{
			ModeOfPayment: string(payment.Mode),
			Amount:        money.ToFloat(sign * payment.AmountCents),
			Ref:           payment.Reference,
		}
		if payment.FX != nil {
			eur := money.ToFloat(sign * payment.FX.AmountEURCents)
			rate := payment.FX.EURRate.InexactFloat64()
			wire.Currency = payment.FX.Currency
			wire.AmountEUR = &eur
			wire.EURRate = &rate
		}
		req.Payments = append(req.Payments, wire)
		modes[payment.Mode] = struct{}{}
		if payment.Mode == domain.PaymentCash {
			cashGiven += payment.AmountCents
		}
		if payment.Mode == domain.PaymentVoucher && payment.Reference != "" {
			req.Vouchers = append(req.Vouchers, domain.SaleVoucherWire{
				Code:    payment.Reference,
				Amount:  money.ToFloat(payment.AmountCents),
				Created: payment.CreatedVoucher,
			})
		}
	}
	req.CashGiven = money.ToFloat(cashGiven)

	switch len(modes) {
	case 0:
	case 1:
		req.Tender = string(payments[0].Mode)
	default:
		req.Tender = "Split"
	}

	if sale.FX != nil {
		req.FX = &domain.SaleFXWire{
			Currency:      "EUR",
			EURReceived:   money.ToFloat(sale.FX.EURReceivedCents),
			EffectiveRate: sale.FX.EffectiveRate.InexactFloat64(),
			EURDifference: money.ToFloat(sale.FX.EURDifferenceCents),
			GBPDifference: money.ToFloat(sale.FX.GBPDifferenceCents),
		}
	}
	return req
}

func (e *Engine) mutableLocked() error {
	if e.inFlight {
		return ErrSettlementInFlight
	}
	if e.completed {
		return ErrAlreadyCompleted
	}
	return nil
}

func (e *Engine) paidLocked() int64 {
	var paid int64
	for _, payment := range e.payments {
		paid += payment.AmountCents
	}
	return paid
}

func (e *Engine) canCompleteLocked() bool {
	total := e.cart.Total()
	paid := e.paidLocked()
	if total < 0 {
		return paid == -total
	}
	return paid >= total
}

func (e *Engine) changeLocked() int64 {
	total := e.cart.Total()
	if total < 0 {
		return 0
	}
	return money.Max(0, e.paidLocked()-total)
}
