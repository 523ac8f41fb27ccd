package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint/backend/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second})
}

func TestCreateSaleSendsTokenAndDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/create-sale", r.URL.Path)
		assert.Equal(t, "token key:secret", r.Header.Get("Authorization"))
		var req domain.CreateSaleRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 35.0, req.Total)
		_, _ = w.Write([]byte(`{"status":"success","invoice_name":"SINV-0009","invoice_barcode_hex":["1b 40"]}`))
	})

	resp, err := client.CreateSale(context.Background(), domain.CreateSaleRequest{Total: 35})
	require.NoError(t, err)
	assert.Equal(t, "SINV-0009", resp.InvoiceName)
	assert.Equal(t, []string{"1b 40"}, resp.InvoiceBarcodeHex)
}

func TestCreateSaleMapsFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.CreateSale(context.Background(), domain.CreateSaleRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)

	rejecting := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"customer missing"}`))
	})
	_, err = rejecting.CreateSale(context.Background(), domain.CreateSaleRequest{})
	assert.ErrorIs(t, err, ErrRejected)

	unreachable := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	_, err = unreachable.CreateSale(context.Background(), domain.CreateSaleRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVoucherCheckConvertsPounds(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "GV-1", body["code"])
		assert.Equal(t, 40.0, body["amount"])
		_, _ = w.Write([]byte(`{"status":"success","voucher":{"code":"GV-1","balance":50.1,"can_redeem":true}}`))
	})

	check, err := client.CheckVoucher(context.Background(), "GV-1", 4000)
	require.NoError(t, err)
	assert.Equal(t, int64(5010), check.BalanceCents)
	assert.True(t, check.CanRedeem)
}

func TestIssueVoucherForwardsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body issueWire
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc", body.IdempotencyKey)
		assert.Equal(t, 12.5, body.Amount)
		_, _ = w.Write([]byte(`{"voucher":{"code":"GV-9","balance":12.5}}`))
	})

	v, err := client.IssueVoucher(context.Background(), domain.VoucherIssueRequest{AmountCents: 1250, IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.Equal(t, domain.Voucher{Code: "GV-9", BalanceCents: 1250}, v)
}

func TestRatesAndSuggestions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/currency/rates":
			assert.Equal(t, "GBP", r.URL.Query().Get("base"))
			_, _ = w.Write([]byte(`{"status":"success","rate":1.1725}`))
		case "/api/currency/eur-suggestions":
			_, _ = w.Write([]byte(`{"eur_exact":130,"eur_round_up":135,"eur_round_down":125}`))
		default:
			http.NotFound(w, r)
		}
	})

	rate, err := client.FetchEURRate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.1725")))

	s, err := client.EURSuggestions(context.Background(), 10000, decimal.RequireFromString("1.3"))
	require.NoError(t, err)
	assert.Equal(t, domain.EURSuggestions{ExactCents: 13000, RoundUpCents: 13500, RoundDownCents: 12500}, s)
}

func TestLookupBarcode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"error","message":"Not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","variant":{"item_id":"MUG","name":"Mug","rate":6.99}}`))
	})

	item, err := client.LookupBarcode(context.Background(), "501")
	require.NoError(t, err)
	assert.Equal(t, int64(699), item.RateCents)

	_, err = client.LookupBarcode(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestMockVoucherLifecycle(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	check, err := m.CheckVoucher(ctx, "gv-100050", 0)
	require.NoError(t, err)
	assert.True(t, check.CanRedeem)
	assert.Equal(t, int64(5000), check.BalanceCents)

	_, err = m.CreateSale(ctx, domain.CreateSaleRequest{Vouchers: []domain.SaleVoucherWire{{Code: "GV-100050", Amount: 30}}})
	require.NoError(t, err)
	check, _ = m.CheckVoucher(ctx, "GV-100050", 0)
	assert.Equal(t, int64(2000), check.BalanceCents)

	first, err := m.IssueVoucher(ctx, domain.VoucherIssueRequest{AmountCents: 1500, IdempotencyKey: "k1"})
	require.NoError(t, err)
	second, err := m.IssueVoucher(ctx, domain.VoucherIssueRequest{AmountCents: 1500, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)

	blocked, _ := m.CheckVoucher(ctx, "GV-EXPIRED", 0)
	assert.False(t, blocked.CanRedeem)

	m.Down = true
	_, err = m.CheckVoucher(ctx, "GV-100050", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockLookupFallbacks(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	item, err := m.LookupBarcode(ctx, "mug-wht")
	require.NoError(t, err)
	assert.Equal(t, "MUG-WHT", item.ItemCode)

	item, err = m.LookupBarcode(ctx, "005010029000016")
	require.NoError(t, err)
	assert.Equal(t, "MUG-WHT", item.ItemCode)

	_, err = m.LookupBarcode(ctx, "nope")
	assert.ErrorIs(t, err, ErrItemNotFound)
}
