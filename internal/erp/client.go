// Package erp talks to the remote ledger that persists sales, vouchers and exchange rates.
// Amounts on the wire are decimal pounds; everything crossing this package boundary is pence.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/money"
)

var (
	ErrUnavailable  = errors.New("remote service unavailable")
	ErrRejected     = errors.New("remote service rejected the request")
	ErrItemNotFound = errors.New("item not found")
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type Client struct {
	baseURL string
	auth    string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	auth := ""
	if cfg.APIKey != "" || cfg.APISecret != "" {
		auth = fmt.Sprintf("token %s:%s", cfg.APIKey, cfg.APISecret)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

type statusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e statusEnvelope) failed() bool {
	return e.Status != "" && !strings.EqualFold(e.Status, "success") && !strings.EqualFold(e.Status, "ok")
}

func (c *Client) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	var resp domain.CreateSaleResponse
	if err := c.do(ctx, http.MethodPost, "/api/create-sale", nil, req, &resp); err != nil {
		return domain.CreateSaleResponse{}, err
	}
	if (statusEnvelope{Status: resp.Status}).failed() {
		return domain.CreateSaleResponse{}, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	if resp.InvoiceName == "" {
		return domain.CreateSaleResponse{}, fmt.Errorf("%w: missing invoice name", ErrRejected)
	}
	return resp, nil
}

type voucherWire struct {
	Code      string  `json:"code"`
	Balance   float64 `json:"balance"`
	CanRedeem *bool   `json:"can_redeem,omitempty"`
	Note      string  `json:"note,omitempty"`
}

type voucherEnvelope struct {
	statusEnvelope
	Voucher voucherWire `json:"voucher"`
}

func (c *Client) CheckVoucher(ctx context.Context, code string, amountCents int64) (domain.VoucherCheck, error) {
	body := map[string]any{"code": code, "amount": money.ToFloat(amountCents)}
	var resp voucherEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/vouchers/check", nil, body, &resp); err != nil {
		return domain.VoucherCheck{}, err
	}
	if resp.failed() {
		return domain.VoucherCheck{Code: code, Note: resp.Message}, nil
	}
	check := domain.VoucherCheck{
		Code:         resp.Voucher.Code,
		BalanceCents: money.FromFloat(resp.Voucher.Balance),
		CanRedeem:    resp.Voucher.CanRedeem == nil || *resp.Voucher.CanRedeem,
		Note:         resp.Voucher.Note,
	}
	if check.Code == "" {
		check.Code = code
	}
	return check, nil
}

type issueWire struct {
	VoucherCode    string  `json:"voucher_code,omitempty"`
	Amount         float64 `json:"amount"`
	Customer       string  `json:"customer,omitempty"`
	TillNumber     string  `json:"till_number,omitempty"`
	Remarks        string  `json:"remarks"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (c *Client) IssueVoucher(ctx context.Context, req domain.VoucherIssueRequest) (domain.Voucher, error) {
	body := issueWire{
		VoucherCode:    req.Code,
		Amount:         money.ToFloat(req.AmountCents),
		Customer:       req.Customer,
		TillNumber:     req.TillNumber,
		Remarks:        req.Remarks,
		IdempotencyKey: req.IdempotencyKey,
	}
	var resp voucherEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/vouchers/issue", nil, body, &resp); err != nil {
		return domain.Voucher{}, err
	}
	if resp.failed() {
		return domain.Voucher{}, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	if resp.Voucher.Code == "" {
		return domain.Voucher{}, fmt.Errorf("%w: missing voucher code", ErrRejected)
	}
	return domain.Voucher{Code: resp.Voucher.Code, BalanceCents: money.FromFloat(resp.Voucher.Balance)}, nil
}

func (c *Client) FetchEURRate(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		statusEnvelope
		Rate decimal.Decimal `json:"rate"`
	}
	query := url.Values{"base": {"GBP"}, "target": {"EUR"}}
	if err := c.do(ctx, http.MethodGet, "/api/currency/rates", query, nil, &resp); err != nil {
		return decimal.Decimal{}, err
	}
	if resp.failed() || !resp.Rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: no usable rate", ErrRejected)
	}
	return resp.Rate, nil
}

func (c *Client) EURSuggestions(ctx context.Context, gbpTotalCents int64, rate decimal.Decimal) (domain.EURSuggestions, error) {
	body := map[string]any{"gbp_total": money.ToFloat(gbpTotalCents), "store_rate": rate.InexactFloat64()}
	var resp struct {
		Exact     float64 `json:"eur_exact"`
		RoundUp   float64 `json:"eur_round_up"`
		RoundDown float64 `json:"eur_round_down"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/currency/eur-suggestions", nil, body, &resp); err != nil {
		return domain.EURSuggestions{}, err
	}
	return domain.EURSuggestions{
		ExactCents:     money.FromFloat(resp.Exact),
		RoundUpCents:   money.FromFloat(resp.RoundUp),
		RoundDownCents: money.FromFloat(resp.RoundDown),
	}, nil
}

func (c *Client) LookupBarcode(ctx context.Context, code string) (domain.CatalogItem, error) {
	var resp struct {
		statusEnvelope
		Variant struct {
			ItemID    string   `json:"item_id"`
			Name      string   `json:"name"`
			Rate      float64  `json:"rate"`
			ItemGroup string   `json:"item_group"`
			VATRate   *float64 `json:"vat_rate"`
		} `json:"variant"`
	}
	err := c.do(ctx, http.MethodGet, "/api/lookup-barcode", url.Values{"code": {code}}, nil, &resp)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if resp.failed() || resp.Variant.ItemID == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, code)
	}
	return domain.CatalogItem{
		ItemCode:  resp.Variant.ItemID,
		Name:      resp.Variant.Name,
		RateCents: money.FromFloat(resp.Variant.Rate),
		ItemGroup: resp.Variant.ItemGroup,
		VATRate:   resp.Variant.VATRate,
	}, nil
}

// do sends one request. Transport errors and non-2xx responses map to ErrUnavailable, except a
// 404 from the barcode lookup which is ErrItemNotFound.
func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && path == "/api/lookup-barcode":
		return ErrItemNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var env statusEnvelope
		_ = json.Unmarshal(raw, &env)
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, env.Message)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
