package erp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/fx"
	"tillpoint/backend/internal/money"
)

// Mock is an in-process ledger used for offline demos and tests. It implements the same
// methods as Client.
type Mock struct {
	mu        sync.Mutex
	now       func() time.Time
	rate      decimal.Decimal
	catalog   map[string]domain.CatalogItem
	vouchers  map[string]*mockVoucher
	byKey     map[string]string
	sales     []domain.CreateSaleRequest
	invoiceNo int
	voucherNo int
	Down      bool
}

type mockVoucher struct {
	balance int64
	blocked string
}

func NewMock() *Mock {
	m := &Mock{
		now:      time.Now,
		rate:     decimal.RequireFromString("1.17"),
		catalog:  make(map[string]domain.CatalogItem),
		vouchers: make(map[string]*mockVoucher),
		byKey:    make(map[string]string),
	}
	standard, reduced, zero := 20.0, 5.0, 0.0
	for barcode, item := range map[string]domain.CatalogItem{
		"5000112637922": {ItemCode: "TEA-80", Name: "Breakfast Tea 80s", RateCents: 349, ItemGroup: "Grocery", VATRate: &zero},
		"5010029000016": {ItemCode: "MUG-WHT", Name: "White Mug", RateCents: 699, ItemGroup: "Homeware", VATRate: &standard},
		"5012345678900": {ItemCode: "SCARF-TAR", Name: "Tartan Scarf", RateCents: 1999, ItemGroup: "Apparel", VATRate: &standard},
		"5099999000011": {ItemCode: "CHILD-CAR", Name: "Child Car Seat", RateCents: 8999, ItemGroup: "Baby", VATRate: &reduced},
	} {
		m.catalog[barcode] = item
	}
	m.vouchers["GV-100050"] = &mockVoucher{balance: 5000}
	m.vouchers["GV-EXPIRED"] = &mockVoucher{balance: 1000, blocked: "voucher expired"}
	return m
}

// SetRate changes the store rate served by FetchEURRate.
func (m *Mock) SetRate(rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

// AddVoucher seeds a redeemable voucher.
func (m *Mock) AddVoucher(code string, balanceCents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[strings.ToUpper(code)] = &mockVoucher{balance: balanceCents}
}

func (m *Mock) Sales() []domain.CreateSaleRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CreateSaleRequest(nil), m.sales...)
}

func (m *Mock) CreateSale(_ context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return domain.CreateSaleResponse{}, ErrUnavailable
	}
	for _, v := range req.Vouchers {
		if v.Created {
			continue
		}
		voucher, ok := m.vouchers[strings.ToUpper(v.Code)]
		if !ok || voucher.blocked != "" {
			return domain.CreateSaleResponse{}, fmt.Errorf("%w: voucher %s cannot be redeemed", ErrRejected, v.Code)
		}
		amount := money.FromFloat(v.Amount)
		if amount > voucher.balance {
			return domain.CreateSaleResponse{}, fmt.Errorf("%w: voucher %s balance too low", ErrRejected, v.Code)
		}
	}
	for _, v := range req.Vouchers {
		if !v.Created {
			m.vouchers[strings.ToUpper(v.Code)].balance -= money.FromFloat(v.Amount)
		}
	}

	m.invoiceNo++
	m.sales = append(m.sales, req)
	name := fmt.Sprintf("SINV-%s-%05d", m.now().Format("2006"), m.invoiceNo)
	return domain.CreateSaleResponse{Status: "success", InvoiceName: name, InvoiceBarcodeValue: name}, nil
}

func (m *Mock) CheckVoucher(_ context.Context, code string, _ int64) (domain.VoucherCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return domain.VoucherCheck{}, ErrUnavailable
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	voucher, ok := m.vouchers[code]
	if !ok {
		return domain.VoucherCheck{Code: code, Note: "voucher not found"}, nil
	}
	if voucher.blocked != "" {
		return domain.VoucherCheck{Code: code, BalanceCents: voucher.balance, Note: voucher.blocked}, nil
	}
	if voucher.balance <= 0 {
		return domain.VoucherCheck{Code: code, Note: "voucher fully redeemed"}, nil
	}
	return domain.VoucherCheck{Code: code, BalanceCents: voucher.balance, CanRedeem: true}, nil
}

func (m *Mock) IssueVoucher(_ context.Context, req domain.VoucherIssueRequest) (domain.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return domain.Voucher{}, ErrUnavailable
	}
	if req.AmountCents <= 0 {
		return domain.Voucher{}, fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	if code, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return domain.Voucher{Code: code, BalanceCents: m.vouchers[code].balance}, nil
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		m.voucherNo++
		code = fmt.Sprintf("GV-%06d", 200000+m.voucherNo)
	}
	if _, exists := m.vouchers[code]; exists {
		return domain.Voucher{}, fmt.Errorf("%w: voucher %s already exists", ErrRejected, code)
	}
	m.vouchers[code] = &mockVoucher{balance: req.AmountCents}
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = code
	}
	return domain.Voucher{Code: code, BalanceCents: req.AmountCents}, nil
}

func (m *Mock) FetchEURRate(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return decimal.Decimal{}, ErrUnavailable
	}
	return m.rate, nil
}

func (m *Mock) EURSuggestions(_ context.Context, gbpTotalCents int64, rate decimal.Decimal) (domain.EURSuggestions, error) {
	m.mu.Lock()
	down := m.Down
	m.mu.Unlock()
	if down {
		return domain.EURSuggestions{}, ErrUnavailable
	}
	return fx.LocalSuggestions(gbpTotalCents, rate), nil
}

// LookupBarcode matches the barcode first, then the item code, then the barcode with leading
// zeros removed.
func (m *Mock) LookupBarcode(_ context.Context, code string) (domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return domain.CatalogItem{}, ErrUnavailable
	}
	code = strings.TrimSpace(code)
	if item, ok := m.catalog[code]; ok {
		return item, nil
	}
	trimmed := strings.TrimLeft(code, "0")
	for barcode, item := range m.catalog {
		if strings.EqualFold(item.ItemCode, code) || (trimmed != "" && strings.TrimLeft(barcode, "0") == trimmed) {
			return item, nil
		}
	}
	return domain.CatalogItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, code)
}
