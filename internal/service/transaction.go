package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/fx"
	"tillpoint/backend/internal/money"
	"tillpoint/backend/internal/tender"
	"tillpoint/backend/internal/voucher"
)

// TransactionView is the terminal's current transaction as the UI renders it.
type TransactionView struct {
	TerminalID          string                     `json:"terminal_id"`
	Lines               []domain.CartLine          `json:"lines"`
	ItemsQty            int                        `json:"items_qty"`
	Tender              tender.Status              `json:"tender"`
	FX                  *fx.Conversion             `json:"fx,omitempty"`
	PendingBalanceSlips []domain.BalanceSlip       `json:"pending_balance_slips,omitempty"`
	PendingVoucherSlips []domain.IssuedVoucherSlip `json:"pending_voucher_slips,omitempty"`
}

type VoucherIssueResult struct {
	Voucher     domain.Voucher  `json:"voucher"`
	Transaction TransactionView `json:"transaction"`
}

func (sess *session) view() TransactionView {
	out := TransactionView{
		TerminalID: sess.terminalID,
		Lines:      sess.cart.Lines(),
		ItemsQty:   sess.cart.ItemsQty(),
		Tender:     sess.engine.Status(),
	}
	if sess.conversion.Active() {
		conversion := sess.conversion
		out.FX = &conversion
	}
	out.PendingBalanceSlips, out.PendingVoucherSlips = sess.slips.Pending()
	return out
}

// editable rejects basket edits once tendering has started.
func (sess *session) editable() error {
	if len(sess.engine.Payments()) > 0 {
		return fmt.Errorf("%w: remove payments before editing the basket", ErrTransactionInProgress)
	}
	return nil
}

func (s *Service) Transaction(_ context.Context, terminalID string) TransactionView {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view()
}

// ScanBarcode resolves a barcode through the ERP and adds the item. A scan that arrives while
// another lookup for the same terminal is outstanding is rejected, never queued.
func (s *Service) ScanBarcode(ctx context.Context, terminalID string, req domain.ScanRequest) (TransactionView, error) {
	sess := s.session(terminalID)
	if !sess.scanGate.TryLock() {
		return TransactionView{}, ErrScanInProgress
	}
	defer sess.scanGate.Unlock()

	barcode := strings.TrimSpace(req.Barcode)
	if barcode == "" {
		return TransactionView{}, fmt.Errorf("%w: barcode is required", cart.ErrInvalidLine)
	}
	item, err := s.erp.LookupBarcode(ctx, barcode)
	if err != nil {
		return TransactionView{}, err
	}

	qty := req.Qty
	if qty < 1 {
		qty = 1
	}
	return s.AddLine(ctx, terminalID, domain.CartLine{
		ItemCode:  item.ItemCode,
		Name:      item.Name,
		Qty:       qty,
		RateCents: item.RateCents,
		Refund:    req.Refund,
		VATRate:   item.VATRate,
		ItemGroup: item.ItemGroup,
		Barcode:   barcode,
	})
}

func (s *Service) AddLine(_ context.Context, terminalID string, line domain.CartLine) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return TransactionView{}, err
	}
	if strings.TrimSpace(line.Name) == "" {
		line.Name = line.ItemCode
	}
	line.OriginalRateCents = nil
	if err := sess.cart.AddLine(line); err != nil {
		return TransactionView{}, err
	}
	sess.discount = nil
	return sess.view(), nil
}

func (s *Service) SetLineQty(_ context.Context, terminalID string, index int, qty int) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return TransactionView{}, err
	}
	if err := sess.cart.SetQty(index, qty); err != nil {
		return TransactionView{}, err
	}
	sess.discount = nil
	return sess.view(), nil
}

func (s *Service) RemoveLine(_ context.Context, terminalID string, index int) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return TransactionView{}, err
	}
	if err := sess.cart.RemoveLine(index); err != nil {
		return TransactionView{}, err
	}
	sess.discount = nil
	return sess.view(), nil
}

// ClearTransaction abandons the transaction. It refuses while a voucher created for it is
// among the payments, since that voucher already exists in the ledger.
func (s *Service) ClearTransaction(ctx context.Context, terminalID string) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.hasLockedPayment() {
		return TransactionView{}, tender.ErrPaymentLocked
	}
	if n := sess.cart.Len(); n > 0 {
		s.logAudit(ctx, sess.terminalID, "sale_abandon", "cart", sess.terminalID, fmt.Sprintf("lines=%d,total=%s", n, money.Format(sess.cart.Total())))
	}
	sess.reset()
	return sess.view(), nil
}

// PreviewDiscount applies one batch to the terminal's discount working copy. The copy survives
// between previews so batches stack until Commit or a basket edit.
func (s *Service) PreviewDiscount(_ context.Context, terminalID string, req domain.DiscountRequest) (cart.DiscountPreview, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return cart.DiscountPreview{}, err
	}
	if sess.cart.Len() == 0 {
		return cart.DiscountPreview{}, tender.ErrEmptyCart
	}
	if sess.discount == nil || req.Reset {
		sess.discount = cart.NewDiscount(sess.cart)
	}
	if req.Mode != "" {
		if err := sess.discount.ApplyBatch(req.ItemCodes, cart.DiscountMode(req.Mode), req.Value); err != nil {
			return cart.DiscountPreview{}, err
		}
	}
	return sess.discount.Preview(), nil
}

func (s *Service) CommitDiscount(ctx context.Context, terminalID string) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return TransactionView{}, err
	}
	if sess.discount == nil {
		return TransactionView{}, fmt.Errorf("%w: nothing to commit", cart.ErrInvalidDiscount)
	}
	preview := sess.discount.Preview()
	if err := sess.discount.Commit(); err != nil {
		sess.discount = nil
		return TransactionView{}, err
	}
	sess.discount = nil
	if preview.SavedCents != 0 {
		s.logAudit(ctx, sess.terminalID, "discount_commit", "cart", sess.terminalID, "saved="+money.Format(preview.SavedCents))
	}
	return sess.view(), nil
}

// AddPayment takes a plain tender. Vouchers go through RedeemVoucher so their balance is checked.
func (s *Service) AddPayment(_ context.Context, terminalID string, req domain.PaymentRequest) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		return TransactionView{}, tender.ErrEmptyCart
	}
	if req.Mode == domain.PaymentVoucher {
		return TransactionView{}, fmt.Errorf("%w: vouchers must be redeemed by code", tender.ErrInvalidMode)
	}
	if _, err := sess.engine.Apply(req.Mode, req.AmountCents, tender.ApplyOptions{Reference: strings.TrimSpace(req.Reference)}); err != nil {
		return TransactionView{}, err
	}
	return sess.view(), nil
}

func (s *Service) RemovePayment(ctx context.Context, terminalID string, index int) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	removed, err := sess.engine.Remove(index)
	if err != nil {
		return TransactionView{}, err
	}
	if removed.Mode == domain.PaymentVoucher && removed.Reference != "" {
		sess.slips.RemoveBalance(removed.Reference)
	}
	if removed.FX != nil {
		sess.conversion.Reset()
	}
	s.logAudit(ctx, sess.terminalID, "payment_remove", "payment", removed.Reference, fmt.Sprintf("mode=%s,amount=%s", removed.Mode, money.Format(removed.AmountCents)))
	return sess.view(), nil
}

// CompleteSale submits the balanced transaction. Once the ERP accepts it the sale is folded into
// the till, stored for reprints, printed and the terminal starts a fresh transaction; print
// failures are reported, not raised.
func (s *Service) CompleteSale(ctx context.Context, terminalID string, req domain.CompleteSaleRequest) (domain.CompletedSale, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := s.now()
	if _, err := s.ledger.RequireOpen(ctx, sess.terminalID, now); err != nil {
		return domain.CompletedSale{}, err
	}
	cashier := cashierOf(ctx)
	tillNumber := s.tillNumber(ctx, sess.terminalID)
	fxSlip := sess.conversion.Slip()

	result, err := sess.engine.Complete(ctx, s.erp, tender.SaleContext{
		Customer:    strings.TrimSpace(req.Customer),
		CashierCode: cashier.Username,
		CashierName: cashier.DisplayName,
		TillNumber:  tillNumber,
		FX:          fxSlip,
	})
	if err != nil {
		return domain.CompletedSale{}, err
	}

	balances, issued := sess.slips.Drain()
	sale := domain.SaleRecord{
		InvoiceName:         result.Response.InvoiceName,
		InvoiceBarcodeValue: result.Response.InvoiceBarcodeValue,
		InvoiceBarcodeHex:   result.Response.InvoiceBarcodeHex,
		TerminalID:          sess.terminalID,
		Cashier:             cashier.DisplayName,
		Customer:            result.Request.Customer,
		Lines:               result.Lines,
		Payments:            result.Payments,
		TotalCents:          result.TotalCents,
		PaidCents:           result.PaidCents,
		ChangeCents:         result.ChangeCents,
		IsRefund:            result.IsRefund,
		BalanceSlips:        balances,
		IssuedVouchers:      issued,
		FX:                  fxSlip,
		CreatedAt:           now.UTC(),
	}

	if err := s.ledger.RecordSale(ctx, sess.terminalID, sale); err != nil {
		log.Printf("[service] WARN: failed to fold invoice=%s into till %s: %v", sale.InvoiceName, sess.terminalID, err)
	}
	if err := s.repo.SaveSale(ctx, sale); err != nil {
		log.Printf("[service] WARN: failed to store invoice=%s for reprint: %v", sale.InvoiceName, err)
	}
	s.logAudit(ctx, sess.terminalID, "sale_complete", "sale", sale.InvoiceName, fmt.Sprintf("total=%s,paid=%s,change=%s,refund=%t", money.Format(sale.TotalCents), money.Format(sale.PaidCents), money.Format(sale.ChangeCents), sale.IsRefund))

	completed := domain.CompletedSale{Sale: sale}
	for _, job := range s.saleJobs(sale, tillNumber) {
		if err := s.print(ctx, job); err != nil {
			completed.PrintErrors = append(completed.PrintErrors, err.Error())
		}
	}
	sess.reset()
	return completed, nil
}

func (s *Service) saleJobs(sale domain.SaleRecord, tillNumber string) []domain.PrintJob {
	jobs := []domain.PrintJob{s.receipts.SaleReceipt(sale, tillNumber)}
	if sale.FX != nil {
		jobs = append(jobs, s.receipts.FXSlip(sale.InvoiceName, *sale.FX, tillNumber))
	}
	for _, slip := range sale.IssuedVouchers {
		jobs = append(jobs, s.receipts.VoucherSlip(slip))
	}
	for _, slip := range sale.BalanceSlips {
		jobs = append(jobs, s.receipts.BalanceSlip(slip))
	}
	return jobs
}

// QuoteVoucher checks a voucher against the ledger and the amount still due. A quote whose
// requested amount was too high is kept so the follow-up redeem can use the allowed amount.
func (s *Service) QuoteVoucher(ctx context.Context, terminalID string, req domain.VoucherQuoteRequest) (voucher.Quote, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		return voucher.Quote{}, tender.ErrEmptyCart
	}
	if sess.cart.IsRefund() {
		return voucher.Quote{}, fmt.Errorf("%w: vouchers cannot settle a refund", voucher.ErrNotRedeemable)
	}
	if err := sess.voucherUnused(req.Code); err != nil {
		return voucher.Quote{}, err
	}

	quote, err := s.vouchers.Quote(ctx, sess.engine, req.Code, req.AmountCents)
	if err == nil || errors.Is(err, voucher.ErrAmountExceedsDue) {
		if err := sess.voucherUnused(quote.Code); err != nil {
			return voucher.Quote{}, err
		}
		sess.quotes[quoteKey(quote.Code)] = quote
	}
	return quote, err
}

// RedeemVoucher applies a voucher payment. A zero amount redeems as much as is allowed.
func (s *Service) RedeemVoucher(ctx context.Context, terminalID string, req domain.VoucherQuoteRequest) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return TransactionView{}, voucher.ErrInvalidCode
	}
	if sess.cart.IsRefund() {
		return TransactionView{}, fmt.Errorf("%w: vouchers cannot settle a refund", voucher.ErrNotRedeemable)
	}
	if err := sess.voucherUnused(code); err != nil {
		return TransactionView{}, err
	}

	quote, ok := sess.quotes[quoteKey(code)]
	if !ok {
		fresh, err := s.vouchers.Quote(ctx, sess.engine, code, req.AmountCents)
		if err != nil {
			if errors.Is(err, voucher.ErrAmountExceedsDue) {
				sess.quotes[quoteKey(fresh.Code)] = fresh
			}
			return TransactionView{}, err
		}
		if err := sess.voucherUnused(fresh.Code); err != nil {
			return TransactionView{}, err
		}
		quote = fresh
	}

	amount := req.AmountCents
	if amount <= 0 {
		amount = money.Min(quote.BalanceCents, sess.engine.RemainingDue())
	}
	if _, err := s.vouchers.Confirm(sess.engine, &sess.slips, quote, amount); err != nil {
		return TransactionView{}, err
	}
	delete(sess.quotes, quoteKey(code))
	delete(sess.quotes, quoteKey(quote.Code))
	return sess.view(), nil
}

// Voucher codes compare case-insensitively.
func quoteKey(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (sess *session) voucherUnused(code string) error {
	code = strings.TrimSpace(code)
	for _, payment := range sess.engine.Payments() {
		if payment.Mode == domain.PaymentVoucher && strings.EqualFold(payment.Reference, code) {
			return fmt.Errorf("%w: voucher %s already applied", voucher.ErrNotRedeemable, code)
		}
	}
	return nil
}

// IssueRefundVoucher pays a refund out as a new voucher. The payment is locked: the voucher
// exists in the ledger from this point on.
func (s *Service) IssueRefundVoucher(ctx context.Context, terminalID string, req domain.VoucherIssueRequest) (VoucherIssueResult, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		return VoucherIssueResult{}, tender.ErrEmptyCart
	}
	if !sess.cart.IsRefund() {
		return VoucherIssueResult{}, ErrNotRefund
	}
	due := sess.engine.RemainingDue()
	if due == 0 {
		return VoucherIssueResult{}, voucher.ErrNothingDue
	}
	if req.AmountCents <= 0 {
		req.AmountCents = due
	}
	if req.AmountCents > due {
		return VoucherIssueResult{}, &voucher.AmountExceedsDueError{RequestedCents: req.AmountCents, AllowedCents: due}
	}

	cashier := cashierOf(ctx)
	req.TillNumber = s.tillNumber(ctx, sess.terminalID)
	req.Remarks = defaultString(req.Remarks, "Refund voucher")
	before := len(sess.engine.Payments())
	_, issued, err := s.vouchers.Issue(ctx, sess.engine, req)
	if err != nil {
		return VoucherIssueResult{}, err
	}
	if len(sess.engine.Payments()) > before {
		sess.slips.AddIssued(domain.IssuedVoucherSlip{
			Code:        issued.Code,
			AmountCents: req.AmountCents,
			IssuedAt:    s.now().UTC(),
			Cashier:     cashier.DisplayName,
			TillNumber:  req.TillNumber,
		})
		s.logAudit(ctx, sess.terminalID, "voucher_issue", "voucher", issued.Code, "amount="+money.Format(req.AmountCents))
	}
	return VoucherIssueResult{Voucher: issued, Transaction: sess.view()}, nil
}

// SellVoucher turns the transaction into the sale of a new gift voucher.
func (s *Service) SellVoucher(ctx context.Context, terminalID string, req domain.VoucherIssueRequest) (VoucherIssueResult, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return VoucherIssueResult{}, err
	}
	cashier := cashierOf(ctx)
	req.TillNumber = s.tillNumber(ctx, sess.terminalID)
	issued, err := s.vouchers.Sell(ctx, sess.cart, &sess.slips, req, cashier.DisplayName)
	if err != nil {
		return VoucherIssueResult{}, err
	}
	sess.discount = nil
	s.logAudit(ctx, sess.terminalID, "voucher_sell", "voucher", issued.Code, "amount="+money.Format(req.AmountCents))
	return VoucherIssueResult{Voucher: issued, Transaction: sess.view()}, nil
}

// StartFX prices what is still due in euros at the current store rate.
func (s *Service) StartFX(ctx context.Context, terminalID string) (fx.Conversion, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		return fx.Conversion{}, tender.ErrEmptyCart
	}
	if sess.cart.IsRefund() {
		return fx.Conversion{}, fmt.Errorf("%w: refunds are settled in sterling", fx.ErrNothingDue)
	}
	due := sess.engine.RemainingDue()
	if due <= 0 {
		return fx.Conversion{}, fx.ErrNothingDue
	}

	rate, source := s.rates.StoreRate(ctx, sess.terminalID)
	suggestions := fx.Suggest(ctx, s.erp, due, rate)
	if err := sess.conversion.Start(due, rate, source, suggestions); err != nil {
		return fx.Conversion{}, err
	}
	return sess.conversion, nil
}

func (s *Service) SelectFX(_ context.Context, terminalID string, mode string) (fx.Conversion, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.conversion.Applied {
		return fx.Conversion{}, fmt.Errorf("%w: euros already taken", ErrTransactionInProgress)
	}
	if err := sess.conversion.Select(fx.Mode(strings.ToLower(strings.TrimSpace(mode)))); err != nil {
		return fx.Conversion{}, err
	}
	return sess.conversion, nil
}

func (s *Service) PayFX(_ context.Context, terminalID string, eurCents int64) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.conversion.Applied {
		return TransactionView{}, fmt.Errorf("%w: euros already taken", ErrTransactionInProgress)
	}
	if _, err := sess.conversion.Apply(sess.engine, eurCents); err != nil {
		return TransactionView{}, err
	}
	return sess.view(), nil
}

// AbandonFX drops the conversion. A euro payment already taken stays until removed.
func (s *Service) AbandonFX(_ context.Context, terminalID string) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.conversion.Applied {
		return TransactionView{}, fmt.Errorf("%w: remove the euro payment first", ErrTransactionInProgress)
	}
	sess.conversion.Reset()
	return sess.view(), nil
}
