package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	tills           map[string]*domain.TillState
	salesByInvoice  map[string]domain.SaleRecord
	lastSaleByTill  map[string]string
	heldSalesByID   map[string]domain.HeldSale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. The SQL stores never seed.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username    string
		password    string
		role        string
		displayName string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Manager"},
		{"cashier", cashierPwd, domain.RoleCashier, "Cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			Password:    string(hash),
			Role:        u.role,
			DisplayName: u.displayName,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		tills:           make(map[string]*domain.TillState),
		salesByInvoice:  make(map[string]domain.SaleRecord),
		lastSaleByTill:  make(map[string]string),
		heldSalesByID:   make(map[string]domain.HeldSale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) LoadTill(_ context.Context, terminalID string) (*domain.TillState, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.tills[terminalID]
	if !exists {
		return store.NewTillState(terminalID), nil
	}
	return store.CloneTill(state), nil
}

func (s *Store) UpdateTill(_ context.Context, terminalID string, fn store.TillMutator) (*domain.TillState, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := store.NewTillState(terminalID)
	if current, exists := s.tills[terminalID]; exists {
		working = store.CloneTill(current)
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.TerminalID = terminalID
	working.UpdatedAt = time.Now().UTC()
	s.tills[terminalID] = working
	return store.CloneTill(working), nil
}

func (s *Store) SaveSale(_ context.Context, sale domain.SaleRecord) error {
	if sale.InvoiceName == "" || sale.TerminalID == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.salesByInvoice[sale.InvoiceName] = cloneSale(sale)
	s.lastSaleByTill[sale.TerminalID] = sale.InvoiceName
	return nil
}

func (s *Store) GetSale(_ context.Context, invoiceName string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByInvoice[invoiceName]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := cloneSale(sale)
	return &result, nil
}

func (s *Store) LastSale(_ context.Context, terminalID string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.lastSaleByTill[terminalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := cloneSale(s.salesByInvoice[invoice])
	return &result, nil
}

func (s *Store) ListSales(_ context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, 32)
	for _, sale := range s.salesByInvoice {
		if terminalID != "" && sale.TerminalID != terminalID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.SaleRecord) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.InvoiceName, a.InvoiceName)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateHeldSale(_ context.Context, held domain.HeldSale) (*domain.HeldSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	if held.ID == "" {
		held.ID = xid.Dated("PAUSE", held.HeldAt)
	}
	if held.TerminalID == "" || len(held.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.heldSalesByID[held.ID]; exists {
		return nil, store.ErrConflict
	}

	s.heldSalesByID[held.ID] = cloneHeldSale(held)
	saved := cloneHeldSale(held)
	return &saved, nil
}

func (s *Store) ListHeldSales(_ context.Context, terminalID string, limit int) ([]domain.HeldSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HeldSale, 0, len(s.heldSalesByID))
	for _, held := range s.heldSalesByID {
		if terminalID != "" && held.TerminalID != terminalID {
			continue
		}
		result = append(result, cloneHeldSale(held))
	}
	slices.SortFunc(result, func(a, b domain.HeldSale) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopHeldSale(_ context.Context, holdID string) (*domain.HeldSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldSalesByID[holdID]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.heldSalesByID, holdID)
	result := cloneHeldSale(held)
	return &result, nil
}

func (s *Store) DeleteHeldSale(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heldSalesByID[holdID]; !exists {
		return store.ErrNotFound
	}
	delete(s.heldSalesByID, holdID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if terminalID != "" && entry.TerminalID != terminalID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.SaleRecord) domain.SaleRecord {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.Payments = slices.Clone(src.Payments)
	dup.BalanceSlips = slices.Clone(src.BalanceSlips)
	dup.IssuedVouchers = slices.Clone(src.IssuedVouchers)
	dup.InvoiceBarcodeHex = slices.Clone(src.InvoiceBarcodeHex)
	if src.FX != nil {
		fx := *src.FX
		dup.FX = &fx
	}
	return dup
}

func cloneHeldSale(src domain.HeldSale) domain.HeldSale {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}
