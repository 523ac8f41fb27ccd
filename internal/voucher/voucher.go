// Package voucher redeems and issues store-value vouchers against the remote voucher ledger
// and turns the results into tender payments and printable slips.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
	"tillpoint/backend/internal/tender"
)

const (
	GiftVoucherItemCode  = "GIFT-VOUCHER"
	GiftVoucherItemGroup = "Gift Vouchers"

	issueMemoLimit = 256
)

var (
	ErrInvalidCode      = errors.New("voucher code is required")
	ErrNotRedeemable    = errors.New("voucher cannot be redeemed")
	ErrAmountExceedsDue = errors.New("voucher amount exceeds allowed amount")
	ErrNothingDue       = errors.New("nothing left to pay")
)

// AmountExceedsDueError tells the operator the largest amount that can be taken.
type AmountExceedsDueError struct {
	RequestedCents int64
	AllowedCents   int64
}

func (e *AmountExceedsDueError) Error() string {
	return fmt.Sprintf("%s: requested %s, allowed %s", ErrAmountExceedsDue, money.Format(e.RequestedCents), money.Format(e.AllowedCents))
}

func (e *AmountExceedsDueError) Is(target error) bool {
	return target == ErrAmountExceedsDue
}

// Ledger is the remote voucher store.
type Ledger interface {
	CheckVoucher(ctx context.Context, code string, amountCents int64) (domain.VoucherCheck, error)
	IssueVoucher(ctx context.Context, req domain.VoucherIssueRequest) (domain.Voucher, error)
}

type Quote struct {
	Code         string `json:"code"`
	BalanceCents int64  `json:"balance_cents"`
	AllowedCents int64  `json:"allowed_cents"`
	Note         string `json:"note,omitempty"`
}

type Adapter struct {
	ledger Ledger
	now    func() time.Time

	mu        sync.Mutex
	issued    map[string]domain.Voucher
	issuedKey []string
}

func NewAdapter(ledger Ledger) *Adapter {
	return &Adapter{
		ledger: ledger,
		now:    time.Now,
		issued: make(map[string]domain.Voucher),
	}
}

// Quote checks a voucher and caps the redeemable amount at the balance and the remaining due.
// When requested is above the cap the quote is still returned alongside an AmountExceedsDueError.
func (a *Adapter) Quote(ctx context.Context, engine *tender.Engine, code string, requestedCents int64) (Quote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Quote{}, ErrInvalidCode
	}

	check, err := a.ledger.CheckVoucher(ctx, code, requestedCents)
	if err != nil {
		return Quote{}, err
	}
	if !check.CanRedeem {
		note := check.Note
		if note == "" {
			note = "not redeemable"
		}
		return Quote{}, fmt.Errorf("%w: %s", ErrNotRedeemable, note)
	}

	// The ledger's spelling of the code is the one recorded on the payment.
	if canonical := strings.TrimSpace(check.Code); canonical != "" {
		code = canonical
	}
	quote := Quote{
		Code:         code,
		BalanceCents: check.BalanceCents,
		AllowedCents: money.Max(0, money.Min(check.BalanceCents, engine.RemainingDue())),
		Note:         check.Note,
	}
	if quote.AllowedCents == 0 {
		return quote, ErrNothingDue
	}
	if requestedCents > quote.AllowedCents {
		return quote, &AmountExceedsDueError{RequestedCents: requestedCents, AllowedCents: quote.AllowedCents}
	}
	return quote, nil
}

// Confirm applies a quoted voucher. The cap is recomputed against the current due amount since
// payments may have changed after the quote.
func (a *Adapter) Confirm(engine *tender.Engine, queue *SlipQueue, quote Quote, amountCents int64) (domain.Payment, error) {
	if amountCents <= 0 {
		return domain.Payment{}, tender.ErrInvalidAmount
	}
	allowed := money.Max(0, money.Min(quote.BalanceCents, engine.RemainingDue()))
	if amountCents > allowed {
		return domain.Payment{}, &AmountExceedsDueError{RequestedCents: amountCents, AllowedCents: allowed}
	}

	payment, err := engine.Apply(domain.PaymentVoucher, amountCents, tender.ApplyOptions{Reference: quote.Code})
	if err != nil {
		return domain.Payment{}, err
	}
	if leftover := quote.BalanceCents - amountCents; leftover > 0 && queue != nil {
		queue.AddBalance(domain.BalanceSlip{Code: quote.Code, AmountCents: leftover})
	}
	return payment, nil
}

// Issue creates a voucher for a refund payout and appends it as a locked payment.
func (a *Adapter) Issue(ctx context.Context, engine *tender.Engine, req domain.VoucherIssueRequest) (domain.Payment, domain.Voucher, error) {
	if req.AmountCents <= 0 {
		return domain.Payment{}, domain.Voucher{}, tender.ErrInvalidAmount
	}

	issued, err := a.issue(ctx, req)
	if err != nil {
		return domain.Payment{}, domain.Voucher{}, err
	}

	for _, existing := range engine.Payments() {
		if existing.CreatedVoucher && existing.Reference == issued.Code {
			return existing, issued, nil
		}
	}
	payment, err := engine.Apply(domain.PaymentVoucher, req.AmountCents, tender.ApplyOptions{
		Reference:      issued.Code,
		CreatedVoucher: true,
	})
	if err != nil {
		return domain.Payment{}, issued, err
	}
	return payment, issued, nil
}

// Sell issues a gift voucher and replaces the cart with the single line that charges for it.
func (a *Adapter) Sell(ctx context.Context, c *cart.Cart, queue *SlipQueue, req domain.VoucherIssueRequest, cashier string) (domain.Voucher, error) {
	if req.AmountCents <= 0 {
		return domain.Voucher{}, tender.ErrInvalidAmount
	}
	if req.Remarks == "" {
		req.Remarks = "Gift voucher sale"
	}

	issued, err := a.issue(ctx, req)
	if err != nil {
		return domain.Voucher{}, err
	}

	zero := 0.0
	c.Replace([]domain.CartLine{{
		ItemCode:  GiftVoucherItemCode,
		Name:      "Gift Voucher " + issued.Code,
		Qty:       1,
		RateCents: req.AmountCents,
		VATRate:   &zero,
		ItemGroup: GiftVoucherItemGroup,
	}})
	if queue != nil {
		queue.AddIssued(domain.IssuedVoucherSlip{
			Code:        issued.Code,
			AmountCents: req.AmountCents,
			IssuedAt:    a.now(),
			Cashier:     cashier,
			TillNumber:  req.TillNumber,
		})
	}
	return issued, nil
}

func (a *Adapter) issue(ctx context.Context, req domain.VoucherIssueRequest) (domain.Voucher, error) {
	req.Code = strings.TrimSpace(req.Code)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	a.mu.Lock()
	if v, ok := a.issued[req.IdempotencyKey]; ok {
		a.mu.Unlock()
		return v, nil
	}
	a.mu.Unlock()

	v, err := a.ledger.IssueVoucher(ctx, req)
	if err != nil {
		return domain.Voucher{}, err
	}
	if v.BalanceCents == 0 {
		v.BalanceCents = req.AmountCents
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.issued[req.IdempotencyKey]; !ok {
		a.issued[req.IdempotencyKey] = v
		a.issuedKey = append(a.issuedKey, req.IdempotencyKey)
		if len(a.issuedKey) > issueMemoLimit {
			delete(a.issued, a.issuedKey[0])
			a.issuedKey = a.issuedKey[1:]
		}
	}
	return v, nil
}

// SlipQueue collects slips produced during a transaction; they print once the sale completes.
type SlipQueue struct {
	mu       sync.Mutex
	balances []domain.BalanceSlip
	issued   []domain.IssuedVoucherSlip
}

func (q *SlipQueue) AddBalance(slip domain.BalanceSlip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.balances = append(q.balances, slip)
}

func (q *SlipQueue) AddIssued(slip domain.IssuedVoucherSlip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.issued = append(q.issued, slip)
}

// RemoveBalance drops the carry slip for a voucher whose payment was removed.
func (q *SlipQueue) RemoveBalance(code string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.balances[:0]
	for _, slip := range q.balances {
		if slip.Code != code {
			kept = append(kept, slip)
		}
	}
	q.balances = kept
}

func (q *SlipQueue) Pending() ([]domain.BalanceSlip, []domain.IssuedVoucherSlip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.BalanceSlip(nil), q.balances...), append([]domain.IssuedVoucherSlip(nil), q.issued...)
}

// Drain returns all pending slips and empties the queue.
func (q *SlipQueue) Drain() ([]domain.BalanceSlip, []domain.IssuedVoucherSlip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	balances, issued := q.balances, q.issued
	q.balances, q.issued = nil, nil
	return balances, issued
}
