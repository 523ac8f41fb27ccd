package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/cart"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/fx"
	"tillpoint/backend/internal/printing"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/tender"
	"tillpoint/backend/internal/till"
	"tillpoint/backend/internal/voucher"
	"tillpoint/backend/internal/xid"
)

var (
	ErrScanInProgress        = errors.New("barcode lookup already in progress")
	ErrTransactionInProgress = errors.New("transaction has payments in progress")
	ErrNotRefund             = errors.New("refund vouchers can only be issued for a refund")
	ErrForbidden             = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ERP is everything the service needs from the remote ledger. Both erp.Client and erp.Mock
// satisfy it.
type ERP interface {
	tender.Submitter
	voucher.Ledger
	fx.Suggester
	fx.LiveRates
	LookupBarcode(ctx context.Context, code string) (domain.CatalogItem, error)
}

type Config struct {
	DefaultTerminalID string
	StoreName         string
	DefaultVATRate    float64
	RateTTL           time.Duration
	DefaultEURRate    decimal.Decimal
	Layout            printing.Layout
	// Location is the store's time zone for business days.
	Location *time.Location
}

type Service struct {
	repo     store.Repository
	erp      ERP
	ledger   *till.Ledger
	rates    *fx.RateProvider
	vouchers *voucher.Adapter
	printer  printing.Printer
	receipts *printing.Builder
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the in-flight transaction of one terminal. mu serialises every operation on it;
// scanGate only guards the barcode lookup so a second scan fails fast instead of queueing.
type session struct {
	mu       sync.Mutex
	scanGate sync.Mutex

	terminalID string
	cart       *cart.Cart
	engine     *tender.Engine
	discount   *cart.Discount
	conversion fx.Conversion
	slips      voucher.SlipQueue
	quotes     map[string]voucher.Quote
}

func New(repo store.Repository, erp ERP, rateCache cache.RateCache, printer printing.Printer, cfg Config) *Service {
	if cfg.DefaultTerminalID == "" {
		cfg.DefaultTerminalID = "TILL-01"
	}
	if printer == nil {
		printer = printing.LogPrinter{}
	}
	if cfg.Layout.StoreName == "" {
		cfg.Layout.StoreName = cfg.StoreName
	}

	ledger := till.NewLedger(repo, till.Config{
		DefaultVATRate: cfg.DefaultVATRate,
		StoreName:      cfg.StoreName,
		Location:       cfg.Location,
	})
	return &Service{
		repo:   repo,
		erp:    erp,
		ledger: ledger,
		rates: fx.NewRateProvider(erp, rateCache, ledger, fx.ProviderConfig{
			TTL:         cfg.RateTTL,
			DefaultRate: cfg.DefaultEURRate,
		}),
		vouchers: voucher.NewAdapter(erp),
		printer:  printer,
		receipts: printing.NewBuilder(cfg.Layout),
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// TerminalID normalises a caller-supplied terminal, falling back to the configured one.
func (s *Service) TerminalID(raw string) string {
	terminalID := strings.ToUpper(strings.TrimSpace(raw))
	if terminalID == "" {
		return s.cfg.DefaultTerminalID
	}
	return terminalID
}

func (s *Service) session(terminalID string) *session {
	terminalID = s.TerminalID(terminalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminalID]
	if !ok {
		sess = newSession(terminalID)
		s.sessions[terminalID] = sess
	}
	return sess
}

func newSession(terminalID string) *session {
	c := cart.New()
	return &session{
		terminalID: terminalID,
		cart:       c,
		engine:     tender.NewEngine(c),
		quotes:     make(map[string]voucher.Quote),
	}
}

// reset starts a fresh transaction on the terminal. Callers hold sess.mu.
func (sess *session) reset() {
	sess.cart = cart.New()
	sess.engine = tender.NewEngine(sess.cart)
	sess.discount = nil
	sess.conversion.Reset()
	sess.slips.Drain()
	sess.quotes = make(map[string]voucher.Quote)
}

func (sess *session) hasLockedPayment() bool {
	for _, payment := range sess.engine.Payments() {
		if payment.CreatedVoucher {
			return true
		}
	}
	return false
}

func (s *Service) tillNumber(ctx context.Context, terminalID string) string {
	status, err := s.ledger.Status(ctx, terminalID, s.now())
	if err != nil || status.Settings.TillNumber == "" {
		return terminalID
	}
	return status.Settings.TillNumber
}

func (s *Service) print(ctx context.Context, job domain.PrintJob) error {
	if err := s.printer.Print(ctx, job); err != nil {
		log.Printf("[service] WARN: print %s failed: %v", job.Kind, err)
		return err
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func cashierOf(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system", DisplayName: "System"}
	}
	if actor.DisplayName == "" {
		actor.DisplayName = actor.Username
	}
	return actor
}

func (s *Service) ListAuditLogs(ctx context.Context, terminalID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	from, to, err := s.ledger.DayWindow(date, s.now())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(terminalID) != "" {
		terminalID = s.TerminalID(terminalID)
	}
	return s.repo.ListAuditLogs(ctx, terminalID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, terminalID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TerminalID:    terminalID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
