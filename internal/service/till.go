package service

import (
	"context"
	"fmt"
	"strings"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
	"tillpoint/backend/internal/reconcile"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/tender"
)

// OpenTill takes the opening float and prints the float receipt. The till is open even if the
// receipt does not print.
func (s *Service) OpenTill(ctx context.Context, terminalID string, req domain.TillOpenRequest) (domain.TillStatus, error) {
	terminalID = s.TerminalID(terminalID)
	cashier := cashierOf(ctx)
	now := s.now()

	status, err := s.ledger.Open(ctx, terminalID, req.FloatCents, cashier.DisplayName, now)
	if err != nil {
		return domain.TillStatus{}, err
	}
	detail := "float=" + money.Format(req.FloatCents)
	if status.UnclosedDate != "" {
		detail += ",unclosed=" + status.UnclosedDate
	}
	s.logAudit(ctx, terminalID, "till_open", "till", terminalID, detail)
	_ = s.print(ctx, s.receipts.FloatOpen(status, now))
	return status, nil
}

func (s *Service) TillStatus(ctx context.Context, terminalID string) (domain.TillStatus, error) {
	return s.ledger.Status(ctx, s.TerminalID(terminalID), s.now())
}

// XRead reports the day so far. Printing is optional and a failed print is returned.
func (s *Service) XRead(ctx context.Context, terminalID string, printReport bool) (domain.TillReport, error) {
	report, err := s.ledger.XRead(ctx, s.TerminalID(terminalID), s.now())
	if err != nil {
		return domain.TillReport{}, err
	}
	if printReport {
		if err := s.print(ctx, s.receipts.TillReport(report)); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ZRead prints the end-of-day report and closes the day. It waits for any in-flight
// settlement on the terminal and refuses while a transaction has payments.
func (s *Service) ZRead(ctx context.Context, terminalID string) (domain.TillReport, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.engine.Payments()) > 0 {
		return domain.TillReport{}, fmt.Errorf("%w: finish or clear the open transaction first", ErrTransactionInProgress)
	}
	report, err := s.ledger.ZRead(ctx, sess.terminalID, s.now(), func(report domain.TillReport) error {
		return s.print(ctx, s.receipts.TillReport(report))
	})
	if err != nil {
		return domain.TillReport{}, err
	}
	s.logAudit(ctx, sess.terminalID, "till_zread", "till", sess.terminalID, fmt.Sprintf("date=%s,net=%s,sales=%d,returns=%d", report.Date, money.Format(report.Aggregate.Totals.NetCents), report.Aggregate.Totals.SaleCount, report.Aggregate.Totals.ReturnCount))
	return report, nil
}

// Reconcile compares a drawer count against the running session.
func (s *Service) Reconcile(ctx context.Context, terminalID string, req domain.ReconcileRequest) (domain.ReconciliationReport, error) {
	terminalID = s.TerminalID(terminalID)
	status, err := s.ledger.Status(ctx, terminalID, s.now())
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	report, err := reconcile.Compute(req.Counts, req.PayoutsCents, status.Session)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	report.TerminalID = terminalID
	report.Date = status.Today

	s.logAudit(ctx, terminalID, "till_reconcile", "till", terminalID, fmt.Sprintf("counted=%s,expected=%s,variance=%s", money.Format(report.CountedCents), money.Format(report.ExpectedCents), money.Format(report.VarianceCents)))
	if req.Print {
		if err := s.print(ctx, s.receipts.Reconciliation(report, defaultString(status.Settings.TillNumber, terminalID))); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Service) findSale(ctx context.Context, terminalID string, invoiceName string) (*domain.SaleRecord, error) {
	invoiceName = strings.TrimSpace(invoiceName)
	if invoiceName == "" {
		return s.repo.LastSale(ctx, terminalID)
	}
	return s.repo.GetSale(ctx, invoiceName)
}

// ListSales lists the terminal's invoices for a business day, newest first. An empty date is today.
func (s *Service) ListSales(ctx context.Context, terminalID string, date string, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 100
	}
	from, to, err := s.ledger.DayWindow(date, s.now())
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, s.TerminalID(terminalID), from, to, limit)
}

// Reprint prints a stored receipt again; with no invoice it reprints the terminal's last sale.
func (s *Service) Reprint(ctx context.Context, terminalID string, req domain.ReprintRequest) (domain.SaleRecord, error) {
	terminalID = s.TerminalID(terminalID)
	sale, err := s.findSale(ctx, terminalID, req.InvoiceName)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	tillNumber := s.tillNumber(ctx, sale.TerminalID)
	if err := s.print(ctx, s.receipts.SaleReceipt(*sale, tillNumber)); err != nil {
		return *sale, err
	}
	if sale.FX != nil {
		if err := s.print(ctx, s.receipts.FXSlip(sale.InvoiceName, *sale.FX, tillNumber)); err != nil {
			return *sale, err
		}
	}
	s.logAudit(ctx, terminalID, "sale_reprint", "sale", sale.InvoiceName, "receipt")
	return *sale, nil
}

func (s *Service) GiftReceipt(ctx context.Context, terminalID string, req domain.ReprintRequest) (domain.SaleRecord, error) {
	terminalID = s.TerminalID(terminalID)
	sale, err := s.findSale(ctx, terminalID, req.InvoiceName)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	if sale.IsRefund {
		return domain.SaleRecord{}, fmt.Errorf("%w: no gift receipt for a refund", store.ErrInvalidInput)
	}
	if err := s.print(ctx, s.receipts.GiftReceipt(*sale, s.tillNumber(ctx, sale.TerminalID))); err != nil {
		return *sale, err
	}
	return *sale, nil
}

// HoldSale parks the basket and starts a fresh transaction.
func (s *Service) HoldSale(ctx context.Context, terminalID string, req domain.HoldSaleRequest) (domain.HeldSale, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.cart.Len() == 0 {
		return domain.HeldSale{}, tender.ErrEmptyCart
	}
	if err := sess.editable(); err != nil {
		return domain.HeldSale{}, err
	}

	cashier := cashierOf(ctx)
	held, err := s.repo.CreateHeldSale(ctx, domain.HeldSale{
		TerminalID: sess.terminalID,
		Cashier:    cashier.DisplayName,
		Customer:   strings.TrimSpace(req.Customer),
		Note:       strings.TrimSpace(req.Note),
		Lines:      sess.cart.Lines(),
		ItemsCount: sess.cart.ItemsQty(),
		TotalCents: sess.cart.Total(),
		HeldAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.HeldSale{}, err
	}
	sess.reset()
	s.logAudit(ctx, sess.terminalID, "cart_hold", "held_sale", held.ID, fmt.Sprintf("items=%d,total=%s", held.ItemsCount, money.Format(held.TotalCents)))
	return *held, nil
}

func (s *Service) ListHeldSales(ctx context.Context, terminalID string) ([]domain.HeldSale, error) {
	return s.repo.ListHeldSales(ctx, s.TerminalID(terminalID), 200)
}

// ResumeHeldSale restores a parked basket. The held record is consumed.
func (s *Service) ResumeHeldSale(ctx context.Context, terminalID string, holdID string) (TransactionView, error) {
	sess := s.session(terminalID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return TransactionView{}, store.ErrInvalidInput
	}
	if sess.cart.Len() > 0 || len(sess.engine.Payments()) > 0 {
		return TransactionView{}, fmt.Errorf("%w: finish the current basket before resuming", ErrTransactionInProgress)
	}

	held, err := s.repo.PopHeldSale(ctx, holdID)
	if err != nil {
		return TransactionView{}, err
	}
	sess.reset()
	sess.cart.Replace(held.Lines)
	s.logAudit(ctx, sess.terminalID, "cart_resume", "held_sale", held.ID, fmt.Sprintf("items=%d", held.ItemsCount))
	return sess.view(), nil
}

func (s *Service) DiscardHeldSale(ctx context.Context, terminalID string, holdID string) error {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteHeldSale(ctx, holdID); err != nil {
		return err
	}
	s.logAudit(ctx, s.TerminalID(terminalID), "cart_discard", "held_sale", holdID, "discarded")
	return nil
}
