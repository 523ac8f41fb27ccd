package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/erp"
	"tillpoint/backend/internal/fx"
	"tillpoint/backend/internal/printing"
	"tillpoint/backend/internal/reconcile"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/tender"
	"tillpoint/backend/internal/till"
	"tillpoint/backend/internal/voucher"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *clientLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newClientLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// terminalOf reads the terminal a request acts on. The service falls back to its default.
func terminalOf(r *http.Request) string {
	if terminal := strings.TrimSpace(r.Header.Get("X-Terminal-ID")); terminal != "" {
		return terminal
	}
	return r.URL.Query().Get("terminal_id")
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleCashier, domain.RoleAdmin}

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/till/open", a.requireAuth(a.handleTillOpen, staff...))
	mux.HandleFunc("/api/v1/till/status", a.requireAuth(a.handleTillStatus, staff...))
	mux.HandleFunc("/api/v1/till/x-read", a.requireAuth(a.handleXRead, staff...))
	mux.HandleFunc("/api/v1/till/z-read", a.requireAuth(a.handleZRead, staff...))
	mux.HandleFunc("/api/v1/till/reconcile", a.requireAuth(a.handleReconcile, staff...))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleTransaction, staff...))
	mux.HandleFunc("/api/v1/cart/scan", a.requireAuth(a.handleScan, staff...))
	mux.HandleFunc("/api/v1/cart/lines", a.requireAuth(a.handleAddLine, staff...))
	mux.HandleFunc("/api/v1/cart/lines/qty", a.requireAuth(a.handleLineQty, staff...))
	mux.HandleFunc("/api/v1/cart/lines/remove", a.requireAuth(a.handleRemoveLine, staff...))
	mux.HandleFunc("/api/v1/cart/clear", a.requireAuth(a.handleClear, staff...))
	mux.HandleFunc("/api/v1/cart/discount/preview", a.requireAuth(a.handleDiscountPreview, staff...))
	mux.HandleFunc("/api/v1/cart/discount/commit", a.requireAuth(a.handleDiscountCommit, staff...))

	mux.HandleFunc("/api/v1/tender", a.requireAuth(a.handleTransaction, staff...))
	mux.HandleFunc("/api/v1/tender/payments", a.requireAuth(a.handleAddPayment, staff...))
	mux.HandleFunc("/api/v1/tender/payments/remove", a.requireAuth(a.handleRemovePayment, staff...))
	mux.HandleFunc("/api/v1/tender/complete", a.requireAuth(a.handleComplete, staff...))

	mux.HandleFunc("/api/v1/vouchers/quote", a.requireAuth(a.handleVoucherQuote, staff...))
	mux.HandleFunc("/api/v1/vouchers/redeem", a.requireAuth(a.handleVoucherRedeem, staff...))
	mux.HandleFunc("/api/v1/vouchers/issue", a.requireAuth(a.handleVoucherIssue, staff...))
	mux.HandleFunc("/api/v1/vouchers/sell", a.requireAuth(a.handleVoucherSell, staff...))

	mux.HandleFunc("/api/v1/fx/start", a.requireAuth(a.handleFXStart, staff...))
	mux.HandleFunc("/api/v1/fx/select", a.requireAuth(a.handleFXSelect, staff...))
	mux.HandleFunc("/api/v1/fx/pay", a.requireAuth(a.handleFXPay, staff...))
	mux.HandleFunc("/api/v1/fx/abandon", a.requireAuth(a.handleFXAbandon, staff...))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, staff...))
	mux.HandleFunc("/api/v1/sales/reprint", a.requireAuth(a.handleReprint, staff...))
	mux.HandleFunc("/api/v1/sales/gift-receipt", a.requireAuth(a.handleGiftReceipt, staff...))

	mux.HandleFunc("/api/v1/carts/hold", a.requireAuth(a.handleHeldSales, staff...))
	mux.HandleFunc("/api/v1/carts/hold/", a.requireAuth(a.handleHeldSaleActions, staff...))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleTillOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.TillOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := a.service.OpenTill(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"till": status})
}

func (a *API) handleTillStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	status, err := a.service.TillStatus(r.Context(), terminalOf(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"till": status})
}

func (a *API) handleXRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	printReport, _ := strconv.ParseBool(r.URL.Query().Get("print"))
	report, err := a.service.XRead(r.Context(), terminalOf(r), printReport)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleZRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.ZRead(r.Context(), terminalOf(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := a.service.Reconcile(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciliation": report})
}

func (a *API) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": a.service.Transaction(r.Context(), terminalOf(r))})
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.ScanBarcode(r.Context(), terminalOf(r), req))
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var req domain.CartLine
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.AddLine(r.Context(), terminalOf(r), req))
}

func (a *API) handleLineQty(w http.ResponseWriter, r *http.Request) {
	var req domain.LineQtyRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.SetLineQty(r.Context(), terminalOf(r), req.Index, req.Qty))
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	var req domain.IndexRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.RemoveLine(r.Context(), terminalOf(r), req.Index))
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	writeTransaction(w)(a.service.ClearTransaction(r.Context(), terminalOf(r)))
}

func (a *API) handleDiscountPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if !decodePost(w, r, &req) {
		return
	}
	preview, err := a.service.PreviewDiscount(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preview": preview})
}

func (a *API) handleDiscountCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	writeTransaction(w)(a.service.CommitDiscount(r.Context(), terminalOf(r)))
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.AddPayment(r.Context(), terminalOf(r), req))
}

func (a *API) handleRemovePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.IndexRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.RemovePayment(r.Context(), terminalOf(r), req.Index))
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if !decodeOptionalPost(w, r, &req) {
		return
	}
	completed, err := a.service.CompleteSale(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completed)
}

func (a *API) handleVoucherQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherQuoteRequest
	if !decodePost(w, r, &req) {
		return
	}
	quote, err := a.service.QuoteVoucher(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (a *API) handleVoucherRedeem(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherQuoteRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.RedeemVoucher(r.Context(), terminalOf(r), req))
}

func (a *API) handleVoucherIssue(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherIssueRequest
	if !decodePost(w, r, &req) {
		return
	}
	result, err := a.service.IssueRefundVoucher(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVoucherSell(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherIssueRequest
	if !decodePost(w, r, &req) {
		return
	}
	result, err := a.service.SellVoucher(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleFXStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	conversion, err := a.service.StartFX(r.Context(), terminalOf(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fx": conversion})
}

func (a *API) handleFXSelect(w http.ResponseWriter, r *http.Request) {
	var req domain.FXSelectRequest
	if !decodePost(w, r, &req) {
		return
	}
	conversion, err := a.service.SelectFX(r.Context(), terminalOf(r), req.Mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fx": conversion})
}

func (a *API) handleFXPay(w http.ResponseWriter, r *http.Request) {
	var req domain.FXPayRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeTransaction(w)(a.service.PayFX(r.Context(), terminalOf(r), req.EURCents))
}

func (a *API) handleFXAbandon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	writeTransaction(w)(a.service.AbandonFX(r.Context(), terminalOf(r)))
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	sales, err := a.service.ListSales(r.Context(), terminalOf(r), query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleReprint(w http.ResponseWriter, r *http.Request) {
	var req domain.ReprintRequest
	if !decodeOptionalPost(w, r, &req) {
		return
	}
	sale, err := a.service.Reprint(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleGiftReceipt(w http.ResponseWriter, r *http.Request) {
	var req domain.ReprintRequest
	if !decodeOptionalPost(w, r, &req) {
		return
	}
	sale, err := a.service.GiftReceipt(r.Context(), terminalOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleHeldSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		held, err := a.service.ListHeldSales(r.Context(), terminalOf(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"held_sales": held})
	case http.MethodPost:
		var req domain.HoldSaleRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		held, err := a.service.HoldSale(r.Context(), terminalOf(r), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"held_sale": held})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleHeldSaleActions(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/carts/hold/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("held sale id required"))
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(tail, "/resume"):
		holdID := strings.Trim(strings.TrimSuffix(tail, "/resume"), "/")
		writeTransaction(w)(a.service.ResumeHeldSale(r.Context(), terminalOf(r), holdID))
	case r.Method == http.MethodDelete && !strings.Contains(tail, "/"):
		if err := a.service.DiscardHeldSale(r.Context(), terminalOf(r), tail); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case r.Method != http.MethodPost && r.Method != http.MethodDelete:
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown held sale action"))
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("terminal_id"), query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrConflict) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Terminal-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognised is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, erp.ErrItemNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, tender.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, erp.ErrUnavailable),
		errors.Is(err, printing.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, erp.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, cart.ErrInvalidLine),
		errors.Is(err, cart.ErrInvalidDiscount),
		errors.Is(err, tender.ErrInvalidAmount),
		errors.Is(err, tender.ErrInvalidMode),
		errors.Is(err, voucher.ErrInvalidCode),
		errors.Is(err, fx.ErrInvalidMode),
		errors.Is(err, fx.ErrInvalidEURAmount),
		errors.Is(err, reconcile.ErrUnknownDenomination),
		errors.Is(err, reconcile.ErrInvalidInput),
		errors.Is(err, till.ErrInvalidFloat):
		return http.StatusBadRequest
	case errors.Is(err, tender.ErrIncompletePayment),
		errors.Is(err, tender.ErrPaymentLocked),
		errors.Is(err, tender.ErrSettlementInFlight),
		errors.Is(err, tender.ErrAlreadyCompleted),
		errors.Is(err, tender.ErrEmptyCart),
		errors.Is(err, voucher.ErrNotRedeemable),
		errors.Is(err, voucher.ErrAmountExceedsDue),
		errors.Is(err, voucher.ErrNothingDue),
		errors.Is(err, fx.ErrNotStarted),
		errors.Is(err, fx.ErrNothingDue),
		errors.Is(err, fx.ErrNoModeSelected),
		errors.Is(err, till.ErrTillClosed),
		errors.Is(err, till.ErrAlreadyOpen),
		errors.Is(err, service.ErrScanInProgress),
		errors.Is(err, service.ErrTransactionInProgress),
		errors.Is(err, service.ErrNotRefund),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Voucher amounts over the limit carry the
// allowed amount so the operator can be re-prompted; upstream failures name only the failing side.
func writeServiceError(w http.ResponseWriter, err error) {
	var exceed *voucher.AmountExceedsDueError
	if errors.As(err, &exceed) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           err.Error(),
			"allowed_cents":   exceed.AllowedCents,
			"requested_cents": exceed.RequestedCents,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusBadGateway {
		log.Printf("upstream error: %v", err)
		msg := erp.ErrUnavailable.Error()
		if errors.Is(err, printing.ErrDeliveryFailed) {
			msg = printing.ErrDeliveryFailed.Error()
		}
		writeJSON(w, status, map[string]any{"error": msg})
		return
	}
	writeError(w, status, err)
}

// writeTransaction adapts service calls that return the terminal's transaction view.
func writeTransaction(w http.ResponseWriter) func(service.TransactionView, error) {
	return func(view service.TransactionView, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": view})
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return false
	}
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeOptionalPost(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return false
	}
	if err := decodeOptionalJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON treats an empty body as the zero request.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses hide internals; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
