package printing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
)

var DefaultVoucherTerms = []string{
	"Valid for 12 months from issue.",
	"Treat like cash; lost vouchers cannot be replaced.",
	"Redeemable in-store for merchandise only.",
}

type Layout struct {
	Width        int
	LineFeeds    int
	Cut          bool
	StoreName    string
	VoucherTerms []string
}

// Builder renders domain records into print-agent jobs.
type Builder struct {
	layout Layout
}

func NewBuilder(layout Layout) *Builder {
	if layout.Width <= 0 {
		layout.Width = 32
	}
	if layout.LineFeeds < 0 {
		layout.LineFeeds = 0
	}
	if len(layout.VoucherTerms) == 0 {
		layout.VoucherTerms = DefaultVoucherTerms
	}
	return &Builder{layout: layout}
}

func (b *Builder) job(kind string, doc *Document, hexChunks []string) domain.PrintJob {
	return domain.PrintJob{
		Kind:      kind,
		Text:      doc.String(),
		Hex:       hexChunks,
		LineFeeds: b.layout.LineFeeds,
		Cut:       b.layout.Cut,
	}
}

func (b *Builder) header(doc *Document, storeName string, tillNumber string) {
	if storeName == "" {
		storeName = b.layout.StoreName
	}
	if storeName != "" {
		doc.Title(storeName)
	}
	if tillNumber != "" {
		doc.Centered("Till " + tillNumber)
	}
}

func gbp(cents int64) string {
	return money.Label(cents, "GBP")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("2006-01-02 15:04")
}

// SaleReceipt is the customer copy of a sale or refund.
func (b *Builder) SaleReceipt(sale domain.SaleRecord, tillNumber string) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", tillNumber)
	if sale.IsRefund {
		doc.Centered("REFUND")
	}
	doc.Separator('-')
	doc.KeyValue("Invoice", sale.InvoiceName)
	doc.KeyValue("Date", stamp(sale.CreatedAt))
	if sale.Cashier != "" {
		doc.KeyValue("Cashier", sale.Cashier)
	}
	doc.Separator('-')

	var saved int64
	for _, line := range sale.Lines {
		name := line.Name
		if line.Refund {
			name = "RTN " + name
		}
		doc.ItemLine(line.Qty, name, money.Format(line.AmountCents()))
		if line.Qty > 1 {
			doc.TextF("   @ %s", money.Format(line.RateCents))
		}
		if d := line.DiscountCents(); d != 0 {
			doc.TextF("   was %s", money.Format(*line.OriginalRateCents))
			saved += money.Abs(d)
		}
	}
	doc.Separator('-')
	doc.SetBold(true).KeyValue("TOTAL", gbp(sale.TotalCents)).SetBold(false)
	if saved > 0 {
		doc.KeyValue("You saved", gbp(saved))
	}
	for _, payment := range sale.Payments {
		label := string(payment.Mode)
		if payment.FX != nil {
			label = fmt.Sprintf("Cash %s", money.Label(payment.FX.AmountEURCents, payment.FX.Currency))
		} else if payment.Reference != "" {
			label += " " + payment.Reference
		}
		doc.KeyValue(label, money.Format(payment.AmountCents))
	}
	if sale.ChangeCents > 0 {
		doc.KeyValue("Change", gbp(sale.ChangeCents))
	}
	doc.FeedLines(1)
	doc.Centered("Thank you for shopping with us")

	return b.job(domain.PrintKindSaleReceipt, doc, b.invoiceBarcode(sale))
}

// GiftReceipt lists the items without any prices.
func (b *Builder) GiftReceipt(sale domain.SaleRecord, tillNumber string) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", tillNumber)
	doc.Centered("GIFT RECEIPT")
	doc.Separator('-')
	doc.KeyValue("Invoice", sale.InvoiceName)
	doc.KeyValue("Date", stamp(sale.CreatedAt))
	doc.Separator('-')
	for _, line := range sale.Lines {
		if line.Refund {
			continue
		}
		doc.ItemLine(line.Qty, line.Name, "")
	}
	doc.FeedLines(1)
	doc.Centered("Exchange with this receipt")

	return b.job(domain.PrintKindGiftReceipt, doc, b.invoiceBarcode(sale))
}

func (b *Builder) invoiceBarcode(sale domain.SaleRecord) []string {
	if len(sale.InvoiceBarcodeHex) > 0 {
		return sale.InvoiceBarcodeHex
	}
	value := sale.InvoiceBarcodeValue
	if value == "" {
		value = sale.InvoiceName
	}
	return Code39Hex(value)
}

// FXSlip records the exchange terms of a euro cash tender.
func (b *Builder) FXSlip(invoiceName string, slip domain.FXSlip, tillNumber string) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", tillNumber)
	doc.Centered("EURO EXCHANGE")
	doc.Separator('-')
	if invoiceName != "" {
		doc.KeyValue("Invoice", invoiceName)
	}
	doc.KeyValue("Total due", gbp(slip.GBPTotalCents))
	doc.KeyValue("Rate", slip.EffectiveRate.StringFixed(4))
	doc.KeyValue("Target ("+slip.Mode+")", money.Label(slip.TargetEURCents, "EUR"))
	doc.KeyValue("Received", money.Label(slip.EURReceivedCents, "EUR"))
	doc.KeyValue("Sterling value", gbp(slip.GBPEquivalentCents))
	doc.KeyValue("EUR difference", money.Label(slip.EURDifferenceCents, "EUR"))
	doc.KeyValue("GBP difference", gbp(slip.GBPDifferenceCents))

	return b.job(domain.PrintKindFXSlip, doc, nil)
}

// VoucherSlip is the printed gift voucher with its redeemable barcode.
func (b *Builder) VoucherSlip(slip domain.IssuedVoucherSlip) domain.PrintJob {
	code := SanitizeCode39(slip.Code)
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", "")
	doc.Title("GIFT VOUCHER")
	doc.Separator('-')
	doc.Text("Voucher: " + code)
	if slip.TillNumber != "" {
		doc.Text("Location: " + slip.TillNumber)
	}
	if slip.Cashier != "" {
		doc.Text("Cashier: " + slip.Cashier)
	}
	issued := slip.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	doc.Text("Issued: " + issued.Format("2006-01-02"))
	doc.FeedLines(1)
	doc.SetAlign(AlignCenter).SetFontSize(FontDouble).Text(gbp(slip.AmountCents)).SetFontSize(FontNormal).SetAlign(AlignLeft)
	doc.FeedLines(1)
	doc.Text("Scan barcode to redeem")
	doc.FeedLines(1)
	doc.Text("T&C's:")
	for _, term := range b.layout.VoucherTerms {
		doc.Text("- " + term)
	}

	return b.job(domain.PrintKindVoucherSlip, doc, Code39Hex(code))
}

// BalanceSlip tells the customer what is left on a partly redeemed voucher.
func (b *Builder) BalanceSlip(slip domain.BalanceSlip) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", "")
	doc.Centered("VOUCHER BALANCE")
	doc.Separator('-')
	doc.KeyValue("Voucher", slip.Code)
	doc.KeyValue("Remaining", gbp(slip.AmountCents))
	doc.FeedLines(1)
	doc.Centered("Keep your voucher for next time")

	return b.job(domain.PrintKindBalanceSlip, doc, Code39Hex(slip.Code))
}

func (b *Builder) FloatOpen(status domain.TillStatus, at time.Time) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, status.Settings.StoreName, status.Settings.TillNumber)
	doc.Centered("TILL OPEN")
	doc.Separator('-')
	doc.KeyValue("Date", status.Session.OpeningDate)
	doc.KeyValue("Opened", stamp(at))
	doc.KeyValue("Opened by", status.Session.OpenedBy)
	doc.SetBold(true).KeyValue("Float", gbp(status.Session.OpeningFloatCents)).SetBold(false)

	return b.job(domain.PrintKindFloatOpen, doc, nil)
}

// TillReport renders an X or Z read.
func (b *Builder) TillReport(report domain.TillReport) domain.PrintJob {
	kind := domain.PrintKindXRead
	if report.Kind == "Z" {
		kind = domain.PrintKindZRead
	}
	agg := report.Aggregate
	if agg == nil {
		agg = domain.NewDailyAggregate()
	}

	doc := NewDocument(b.layout.Width)
	b.header(doc, report.StoreName, report.TillNumber)
	doc.Banner(FontTall, report.Kind+" READ")
	doc.KeyValue("Date", report.Date)
	doc.Separator('=')

	t := agg.Totals
	doc.KeyValue("Gross sales", gbp(t.GrossCents))
	doc.KeyValue("Returns", gbp(t.ReturnsCents))
	doc.Banner(FontWide, "NET "+gbp(t.NetCents))
	doc.KeyValue("VAT on sales", gbp(t.VATSalesCents))
	doc.KeyValue("VAT on returns", gbp(t.VATReturnsCents))
	doc.KeyValue("Sales", fmt.Sprintf("%d", t.SaleCount))
	doc.KeyValue("Returns count", fmt.Sprintf("%d", t.ReturnCount))
	doc.KeyValue("Items sold", fmt.Sprintf("%d", t.ItemsQty))
	doc.KeyValue("Discounts", gbp(agg.Discounts.SalesCents))
	doc.KeyValue("Return discounts", gbp(agg.Discounts.ReturnsCents))

	doc.Separator('-')
	doc.Text("TENDERS")
	for _, mode := range domain.PaymentModes {
		doc.KeyValue(string(mode), money.Format(agg.Tenders[mode]))
	}

	if len(agg.PerCashier) > 0 {
		doc.Separator('-')
		doc.Text("CASHIERS")
		for _, name := range sortedKeys(agg.PerCashier) {
			doc.KeyValue(name, money.Format(agg.PerCashier[name]))
		}
	}
	if len(agg.PerGroup) > 0 {
		doc.Separator('-')
		doc.Text("GROUPS")
		groups := make([]string, 0, len(agg.PerGroup))
		for group := range agg.PerGroup {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		for _, group := range groups {
			total := agg.PerGroup[group]
			doc.KeyValue(fmt.Sprintf("%s x%d", group, total.Qty), money.Format(total.AmountCents))
		}
	}

	s := report.Session
	doc.Separator('-')
	doc.Text("DRAWER")
	doc.KeyValue("Float", gbp(s.OpeningFloatCents))
	doc.KeyValue("Cash taken", gbp(s.NetCashCents))
	doc.KeyValue("Change given", gbp(s.NetCashChangeCents))
	doc.KeyValue("Expected cash", gbp(s.OpeningFloatCents+s.NetCashCents-s.NetCashChangeCents))
	doc.KeyValue("Card", gbp(s.NetCardCents))
	doc.KeyValue("Voucher", gbp(s.NetVoucherCents))
	if report.Kind == "Z" {
		doc.FeedLines(1)
		doc.Centered("*** END OF DAY ***")
	}
	doc.FeedLines(1)
	doc.RightText("Printed " + stamp(report.PrintedAt))

	return b.job(kind, doc, nil)
}

func (b *Builder) Reconciliation(report domain.ReconciliationReport, tillNumber string) domain.PrintJob {
	doc := NewDocument(b.layout.Width)
	b.header(doc, "", tillNumber)
	doc.Centered("CASH RECONCILIATION")
	if report.Date != "" {
		doc.KeyValue("Date", report.Date)
	}
	doc.Separator('-')
	for _, c := range report.Counts {
		if c.Count == 0 {
			continue
		}
		doc.KeyValue(fmt.Sprintf("%s x%d", money.Format(c.FaceCents), c.Count), money.Format(c.FaceCents*int64(c.Count)))
	}
	doc.Separator('-')
	doc.KeyValue("Counted", gbp(report.CountedCents))
	doc.KeyValue("Payouts", gbp(report.PayoutsCents))
	doc.KeyValue("Expected", gbp(report.ExpectedCents))
	doc.SetBold(true).KeyValue("Variance", gbp(report.VarianceCents)).SetBold(false)
	if report.Passed {
		doc.Centered("BALANCED")
	} else {
		label := "SHORT"
		if report.VarianceCents > 0 {
			label = "OVER"
		}
		doc.Centered(label)
		parts := make([]string, 0, len(report.SuggestedBreak))
		for _, c := range report.SuggestedBreak {
			parts = append(parts, fmt.Sprintf("%dx%s", c.Count, money.Format(c.FaceCents)))
		}
		doc.Text(strings.Join(parts, " "))
	}

	return b.job(domain.PrintKindReconciliation, doc, nil)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
