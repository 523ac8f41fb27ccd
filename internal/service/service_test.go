package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/erp"
	"tillpoint/backend/internal/fx"
	"tillpoint/backend/internal/printing"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
	"tillpoint/backend/internal/tender"
	"tillpoint/backend/internal/till"
	"tillpoint/backend/internal/voucher"
)

const terminal = "T1"

type recordingPrinter struct {
	mu   sync.Mutex
	jobs []domain.PrintJob
	fail bool
}

func (p *recordingPrinter) Print(_ context.Context, job domain.PrintJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("%w: printer offline", printing.ErrDeliveryFailed)
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPrinter) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *recordingPrinter) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, job := range p.jobs {
		if job.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	repo    *memory.Store
	erp     *erp.Mock
	printer *recordingPrinter
	ctx     context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.New()
	mock := erp.NewMock()
	printer := &recordingPrinter{}
	svc := New(repo, mock, nil, printer, Config{
		DefaultTerminalID: terminal,
		StoreName:         "High Street",
		DefaultVATRate:    20,
	})
	ctx := WithActor(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleCashier, DisplayName: "Alice"})
	return fixture{svc: svc, repo: repo, erp: mock, printer: printer, ctx: ctx}
}

func (f fixture) openTill(t *testing.T) {
	t.Helper()
	if _, err := f.svc.OpenTill(f.ctx, terminal, domain.TillOpenRequest{FloatCents: 10000}); err != nil {
		t.Fatalf("open till: %v", err)
	}
}

func (f fixture) addLine(t *testing.T, code string, qty int, rateCents int64, refund bool) {
	t.Helper()
	if _, err := f.svc.AddLine(f.ctx, terminal, domain.CartLine{ItemCode: code, Name: code, Qty: qty, RateCents: rateCents, Refund: refund}); err != nil {
		t.Fatalf("add line %s: %v", code, err)
	}
}

func (f fixture) pay(t *testing.T, mode domain.PaymentMode, amountCents int64) {
	t.Helper()
	if _, err := f.svc.AddPayment(f.ctx, terminal, domain.PaymentRequest{Mode: mode, AmountCents: amountCents}); err != nil {
		t.Fatalf("pay %s %d: %v", mode, amountCents, err)
	}
}

func TestCompleteSaleRequiresOpenTill(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "A", 1, 500, false)
	f.pay(t, domain.PaymentCash, 500)

	_, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if !errors.Is(err, till.ErrTillClosed) {
		t.Fatalf("expected till closed, got %v", err)
	}
	if len(f.erp.Sales()) != 0 {
		t.Fatalf("nothing should be submitted while the till is closed")
	}
}

func TestCashSaleGivesChangeAndFoldsIntoTill(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "SCARF", 1, 3500, false)
	f.pay(t, domain.PaymentCash, 4000)

	view := f.svc.Transaction(f.ctx, terminal)
	if view.Tender.RemainingDueCents != 0 || view.Tender.ChangeCents != 500 || !view.Tender.CanComplete {
		t.Fatalf("unexpected tender status: %+v", view.Tender)
	}

	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Sale.InvoiceName == "" || done.Sale.ChangeCents != 500 || done.Sale.Cashier != "Alice" {
		t.Fatalf("unexpected sale: %+v", done.Sale)
	}
	if len(done.PrintErrors) != 0 || f.printer.count(domain.PrintKindSaleReceipt) != 1 {
		t.Fatalf("expected one printed receipt, errors=%v", done.PrintErrors)
	}
	if f.svc.Transaction(f.ctx, terminal).Tender.TotalCents != 0 {
		t.Fatalf("terminal should start a fresh transaction")
	}

	report, err := f.svc.XRead(f.ctx, terminal, false)
	if err != nil {
		t.Fatalf("x-read: %v", err)
	}
	if report.Aggregate.Totals.NetCents != 3500 || report.Aggregate.Totals.SaleCount != 1 {
		t.Fatalf("unexpected totals: %+v", report.Aggregate.Totals)
	}
	if report.Aggregate.Tenders[domain.PaymentCash] != 3500 {
		t.Fatalf("cash tender should be net of change, got %d", report.Aggregate.Tenders[domain.PaymentCash])
	}
	if report.Aggregate.PerCashier["Alice"] != 3500 {
		t.Fatalf("unexpected per cashier: %+v", report.Aggregate.PerCashier)
	}
	if report.Session.NetCashChangeCents != 500 {
		t.Fatalf("expected change 500 in session, got %d", report.Session.NetCashChangeCents)
	}
}

func TestRefundMustBeExact(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "MUG", 1, 2000, true)
	f.pay(t, domain.PaymentCard, 1999)

	_, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if !errors.Is(err, tender.ErrIncompletePayment) {
		t.Fatalf("expected incomplete payment, got %v", err)
	}

	if _, err := f.svc.RemovePayment(f.ctx, terminal, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	f.pay(t, domain.PaymentCard, 2000)
	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete refund: %v", err)
	}
	if !done.Sale.IsRefund || done.Sale.TotalCents != -2000 {
		t.Fatalf("unexpected refund: %+v", done.Sale)
	}
	sales := f.erp.Sales()
	if got := sales[len(sales)-1].Payments[0].Amount; got != -20 {
		t.Fatalf("refund payment should be submitted negative, got %v", got)
	}
}

func TestVoucherCappedThenRedeemedWithBalanceSlip(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "COAT", 1, 3000, false)

	quote, err := f.svc.QuoteVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "GV-100050", AmountCents: 4000})
	var exceed *voucher.AmountExceedsDueError
	if !errors.As(err, &exceed) || exceed.AllowedCents != 3000 {
		t.Fatalf("expected allowed 3000, got %v", err)
	}
	if quote.BalanceCents != 5000 || quote.AllowedCents != 3000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if len(f.svc.Transaction(f.ctx, terminal).Tender.Payments) != 0 {
		t.Fatalf("an over-limit quote must not apply a payment")
	}

	view, err := f.svc.RedeemVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "GV-100050"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if view.Tender.PaidCents != 3000 || len(view.PendingBalanceSlips) != 1 || view.PendingBalanceSlips[0].AmountCents != 2000 {
		t.Fatalf("unexpected view after redeem: %+v", view)
	}
	if _, err := f.svc.RedeemVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "GV-100050"}); !errors.Is(err, voucher.ErrNotRedeemable) {
		t.Fatalf("expected second redeem of the same voucher to fail, got %v", err)
	}

	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(done.Sale.BalanceSlips) != 1 || f.printer.count(domain.PrintKindBalanceSlip) != 1 {
		t.Fatalf("expected a printed balance slip, sale=%+v", done.Sale)
	}
}

func TestVoucherCodeCaseDoesNotRedeemTwice(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "COAT", 1, 8000, false)

	if _, err := f.svc.RedeemVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "GV-100050", AmountCents: 5000}); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := f.svc.QuoteVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "gv-100050", AmountCents: 3000}); !errors.Is(err, voucher.ErrNotRedeemable) {
		t.Fatalf("expected quote of the lower-case code to be refused, got %v", err)
	}
	_, err := f.svc.RedeemVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "gv-100050", AmountCents: 3000})
	if !errors.Is(err, voucher.ErrNotRedeemable) {
		t.Fatalf("expected lower-case code to be refused, got %v", err)
	}

	view := f.svc.Transaction(f.ctx, terminal)
	if len(view.Tender.Payments) != 1 || view.Tender.PaidCents != 5000 {
		t.Fatalf("expected one voucher payment of 5000, got %+v", view.Tender)
	}
	if view.Tender.Payments[0].Reference != "GV-100050" || len(view.PendingBalanceSlips) != 0 {
		t.Fatalf("unexpected voucher state: %+v", view)
	}
}

func TestVoucherReferenceUsesLedgerCode(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "COAT", 1, 2000, false)

	view, err := f.svc.RedeemVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: " gv-100050 "})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := view.Tender.Payments[0].Reference; got != "GV-100050" {
		t.Fatalf("expected ledger spelling on the payment, got %q", got)
	}
	if len(view.PendingBalanceSlips) != 1 || view.PendingBalanceSlips[0].Code != "GV-100050" {
		t.Fatalf("expected balance slip for GV-100050, got %+v", view.PendingBalanceSlips)
	}
}

func TestVoucherNotRedeemable(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "COAT", 1, 3000, false)
	if _, err := f.svc.QuoteVoucher(f.ctx, terminal, domain.VoucherQuoteRequest{Code: "GV-EXPIRED", AmountCents: 500}); !errors.Is(err, voucher.ErrNotRedeemable) {
		t.Fatalf("expected not redeemable, got %v", err)
	}
}

func TestEuroTenderRoundUp(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.erp.SetRate(decimal.RequireFromString("1.30"))
	f.addLine(t, "SEAT", 1, 10000, false)

	conversion, err := f.svc.StartFX(f.ctx, terminal)
	if err != nil {
		t.Fatalf("start fx: %v", err)
	}
	if conversion.RateSource != fx.SourceLive || conversion.Suggestions.ExactCents != 13000 || conversion.Suggestions.RoundUpCents != 13500 {
		t.Fatalf("unexpected conversion: %+v", conversion)
	}
	conversion, err = f.svc.SelectFX(f.ctx, terminal, "up")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !conversion.EffectiveRate.Equal(decimal.RequireFromString("1.35")) {
		t.Fatalf("expected effective 1.35, got %s", conversion.EffectiveRate)
	}

	view, err := f.svc.PayFX(f.ctx, terminal, 14000)
	if err != nil {
		t.Fatalf("pay fx: %v", err)
	}
	if view.Tender.PaidCents != 10370 || view.Tender.ChangeCents != 370 {
		t.Fatalf("unexpected tender: %+v", view.Tender)
	}
	if view.FX == nil || view.FX.EURDifferenceCents != 500 || view.FX.GBPDifferenceCents != 370 {
		t.Fatalf("unexpected fx state: %+v", view.FX)
	}

	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Sale.FX == nil || f.printer.count(domain.PrintKindFXSlip) != 1 {
		t.Fatalf("expected fx slip on the sale")
	}
	if f.svc.Transaction(f.ctx, terminal).FX != nil {
		t.Fatalf("conversion should reset after completion")
	}

	status, _ := f.svc.TillStatus(f.ctx, terminal)
	if status.Settings.LastEURRate != "1.3" {
		t.Fatalf("live rate should be persisted, got %q", status.Settings.LastEURRate)
	}
}

func TestEuroTenderRejectsRefund(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "SEAT", 1, 10000, true)
	if _, err := f.svc.StartFX(f.ctx, terminal); !errors.Is(err, fx.ErrNothingDue) {
		t.Fatalf("expected nothing due for refund, got %v", err)
	}
}

func TestScanUsesCatalogAndGuardsReentry(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.ScanBarcode(f.ctx, terminal, domain.ScanRequest{Barcode: "5010029000016"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].ItemCode != "MUG-WHT" || view.Lines[0].RateCents != 699 {
		t.Fatalf("unexpected lines: %+v", view.Lines)
	}

	sess := f.svc.session(terminal)
	sess.scanGate.Lock()
	_, err = f.svc.ScanBarcode(f.ctx, terminal, domain.ScanRequest{Barcode: "5010029000016"})
	sess.scanGate.Unlock()
	if !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected scan in progress, got %v", err)
	}
	if got := f.svc.Transaction(f.ctx, terminal).ItemsQty; got != 1 {
		t.Fatalf("rejected scan must not add a line, qty=%d", got)
	}

	if _, err := f.svc.ScanBarcode(f.ctx, terminal, domain.ScanRequest{Barcode: "0000"}); !errors.Is(err, erp.ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestBasketLockedOnceTenderingStarts(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "A", 1, 500, false)
	f.pay(t, domain.PaymentCard, 200)

	if _, err := f.svc.SetLineQty(f.ctx, terminal, 0, 3); !errors.Is(err, ErrTransactionInProgress) {
		t.Fatalf("expected transaction in progress, got %v", err)
	}
	if _, err := f.svc.AddPayment(f.ctx, terminal, domain.PaymentRequest{Mode: domain.PaymentVoucher, AmountCents: 100}); !errors.Is(err, tender.ErrInvalidMode) {
		t.Fatalf("vouchers must not be taken as plain payments, got %v", err)
	}
}

func TestDiscountPreviewThenCommit(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "A", 2, 1000, false)
	f.addLine(t, "B", 1, 500, false)

	preview, err := f.svc.PreviewDiscount(f.ctx, terminal, domain.DiscountRequest{ItemCodes: []string{"A"}, Mode: "percent", Value: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.TotalCents != 2300 || preview.SavedCents != 200 {
		t.Fatalf("unexpected preview: %+v", preview)
	}
	if f.svc.Transaction(f.ctx, terminal).Tender.TotalCents != 2500 {
		t.Fatalf("preview must not touch the basket")
	}

	view, err := f.svc.CommitDiscount(f.ctx, terminal)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if view.Tender.TotalCents != 2300 || view.Lines[0].OriginalRateCents == nil || *view.Lines[0].OriginalRateCents != 1000 {
		t.Fatalf("unexpected committed basket: %+v", view)
	}
}

func TestPrintFailureDoesNotUndoSale(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "A", 1, 500, false)
	f.pay(t, domain.PaymentCard, 500)
	f.printer.setFail(true)

	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(done.PrintErrors) == 0 {
		t.Fatalf("expected print error to be reported")
	}
	if _, err := f.repo.GetSale(f.ctx, done.Sale.InvoiceName); err != nil {
		t.Fatalf("sale should be stored for reprint: %v", err)
	}

	f.printer.setFail(false)
	sale, err := f.svc.Reprint(f.ctx, terminal, domain.ReprintRequest{})
	if err != nil || sale.InvoiceName != done.Sale.InvoiceName {
		t.Fatalf("reprint last: %+v %v", sale, err)
	}
	if _, err := f.svc.GiftReceipt(f.ctx, terminal, domain.ReprintRequest{InvoiceName: sale.InvoiceName}); err != nil {
		t.Fatalf("gift receipt: %v", err)
	}
	if f.printer.count(domain.PrintKindGiftReceipt) != 1 {
		t.Fatalf("expected gift receipt job")
	}
}

func TestRemoteFailureLeavesTransactionIntact(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "A", 1, 500, false)
	f.pay(t, domain.PaymentCash, 500)
	f.erp.Down = true

	if _, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{}); !errors.Is(err, erp.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	view := f.svc.Transaction(f.ctx, terminal)
	if len(view.Lines) != 1 || len(view.Tender.Payments) != 1 {
		t.Fatalf("failed completion must not touch the transaction: %+v", view)
	}

	f.erp.Down = false
	if _, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRefundVoucherIsLockedAndPrinted(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "MUG", 1, 1500, true)

	result, err := f.svc.IssueRefundVoucher(f.ctx, terminal, domain.VoucherIssueRequest{IdempotencyKey: "refund-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if result.Voucher.Code == "" || !result.Transaction.Tender.CanComplete {
		t.Fatalf("unexpected issue result: %+v", result)
	}
	if _, err := f.svc.RemovePayment(f.ctx, terminal, 0); !errors.Is(err, tender.ErrPaymentLocked) {
		t.Fatalf("expected locked payment, got %v", err)
	}
	if _, err := f.svc.ClearTransaction(f.ctx, terminal); !errors.Is(err, tender.ErrPaymentLocked) {
		t.Fatalf("expected clear to be refused, got %v", err)
	}

	done, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(done.Sale.IssuedVouchers) != 1 || f.printer.count(domain.PrintKindVoucherSlip) != 1 {
		t.Fatalf("expected a printed voucher slip: %+v", done.Sale)
	}
}

func TestRefundVoucherRequiresRefund(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "MUG", 1, 1500, false)
	if _, err := f.svc.IssueRefundVoucher(f.ctx, terminal, domain.VoucherIssueRequest{}); !errors.Is(err, ErrNotRefund) {
		t.Fatalf("expected not refund, got %v", err)
	}
}

func TestSellGiftVoucher(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)

	result, err := f.svc.SellVoucher(f.ctx, terminal, domain.VoucherIssueRequest{AmountCents: 2500})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	lines := result.Transaction.Lines
	if len(lines) != 1 || lines[0].ItemCode != voucher.GiftVoucherItemCode || lines[0].RateCents != 2500 {
		t.Fatalf("unexpected basket: %+v", lines)
	}
	f.pay(t, domain.PaymentCard, 2500)
	if _, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if f.printer.count(domain.PrintKindVoucherSlip) != 1 {
		t.Fatalf("expected voucher slip")
	}
}

func TestZReadPrintFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "A", 1, 500, false)
	f.pay(t, domain.PaymentCash, 500)
	if _, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	f.printer.setFail(true)
	if _, err := f.svc.ZRead(f.ctx, terminal); !errors.Is(err, printing.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	status, _ := f.svc.TillStatus(f.ctx, terminal)
	if !status.Open || status.Session.NetCashCents != 500 {
		t.Fatalf("failed z-read must keep the session: %+v", status)
	}

	f.printer.setFail(false)
	report, err := f.svc.ZRead(f.ctx, terminal)
	if err != nil {
		t.Fatalf("z-read: %v", err)
	}
	if report.Aggregate.Totals.NetCents != 500 {
		t.Fatalf("unexpected z report: %+v", report.Aggregate.Totals)
	}
	status, _ = f.svc.TillStatus(f.ctx, terminal)
	if status.Open || status.Session.NetCashCents != 0 {
		t.Fatalf("z-read should close the day: %+v", status)
	}
}

func TestBusinessDayFollowsStoreTimezone(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	repo := memory.New()
	printer := &recordingPrinter{}
	svc := New(repo, erp.NewMock(), nil, printer, Config{DefaultTerminalID: terminal, DefaultVATRate: 20, Location: london})
	// 00:30 BST is 23:30 UTC on the previous day.
	svc.now = func() time.Time { return time.Date(2026, 6, 10, 0, 30, 0, 0, london) }
	ctx := WithActor(context.Background(), domain.Actor{Username: "alice", Role: domain.RoleCashier, DisplayName: "Alice"})

	if _, err := svc.OpenTill(ctx, terminal, domain.TillOpenRequest{FloatCents: 5000}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.AddLine(ctx, terminal, domain.CartLine{ItemCode: "A", Name: "A", Qty: 1, RateCents: 1000}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := svc.AddPayment(ctx, terminal, domain.PaymentRequest{Mode: domain.PaymentCash, AmountCents: 1000}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := svc.CompleteSale(ctx, terminal, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	x, err := svc.XRead(ctx, terminal, false)
	if err != nil {
		t.Fatalf("x-read: %v", err)
	}
	if x.Date != "2026-06-10" || x.Aggregate.Totals.SaleCount != 1 || x.Aggregate.Totals.NetCents != 1000 {
		t.Fatalf("x-read missed the sale: date=%s totals=%+v", x.Date, x.Aggregate.Totals)
	}

	sales, err := svc.ListSales(ctx, terminal, "2026-06-10", 0)
	if err != nil || len(sales) != 1 {
		t.Fatalf("expected the sale listed under 2026-06-10, got %d %v", len(sales), err)
	}

	if _, err := svc.ZRead(ctx, terminal); err != nil {
		t.Fatalf("z-read: %v", err)
	}
	state, err := repo.LoadTill(context.Background(), terminal)
	if err != nil {
		t.Fatalf("load till: %v", err)
	}
	if len(state.ZAgg) != 0 {
		t.Fatalf("z-read left day buckets behind: %v", state.ZAgg)
	}
}

func TestReconcileAgainstSession(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)
	f.addLine(t, "A", 1, 1500, false)
	f.pay(t, domain.PaymentCash, 2000)
	if _, err := f.svc.CompleteSale(f.ctx, terminal, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	report, err := f.svc.Reconcile(f.ctx, terminal, domain.ReconcileRequest{
		Counts: []domain.DenominationCount{{FaceCents: 2000, Count: 5}, {FaceCents: 1000, Count: 1}, {FaceCents: 500, Count: 1}},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.ExpectedCents != 11500 || report.CountedCents != 11500 || !report.Passed {
		t.Fatalf("unexpected reconciliation: %+v", report)
	}
}

func TestHoldResumeDiscard(t *testing.T) {
	f := newFixture(t)
	f.addLine(t, "A", 2, 300, false)

	held, err := f.svc.HoldSale(f.ctx, terminal, domain.HoldSaleRequest{Note: "back soon"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if f.svc.Transaction(f.ctx, terminal).ItemsQty != 0 {
		t.Fatalf("hold should clear the basket")
	}
	list, err := f.svc.ListHeldSales(f.ctx, terminal)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}

	view, err := f.svc.ResumeHeldSale(f.ctx, terminal, held.ID)
	if err != nil || view.Tender.TotalCents != 600 {
		t.Fatalf("resume: %+v %v", view, err)
	}
	if _, err := f.svc.ResumeHeldSale(f.ctx, terminal, held.ID); !errors.Is(err, ErrTransactionInProgress) {
		t.Fatalf("resume over a basket should be refused, got %v", err)
	}

	held, err = f.svc.HoldSale(f.ctx, terminal, domain.HoldSaleRequest{})
	if err != nil {
		t.Fatalf("hold again: %v", err)
	}
	if err := f.svc.DiscardHeldSale(f.ctx, terminal, held.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := f.svc.DiscardHeldSale(f.ctx, terminal, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	f.openTill(t)

	if _, err := f.svc.ListAuditLogs(f.ctx, terminal, "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	adminCtx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	logs, err := f.svc.ListAuditLogs(adminCtx, terminal, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "till_open" {
		t.Fatalf("expected till_open entry, got %+v", logs)
	}
}
