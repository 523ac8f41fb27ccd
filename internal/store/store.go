package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tillpoint/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
)

// TillMutator edits a till state in place. Returning an error discards the edit.
type TillMutator func(state *domain.TillState) error

type TillRepository interface {
	// LoadTill returns the persisted state, or a fresh one when the terminal has none yet.
	LoadTill(ctx context.Context, terminalID string) (*domain.TillState, error)
	// UpdateTill is an atomic read-modify-write of the whole till object.
	UpdateTill(ctx context.Context, terminalID string, fn TillMutator) (*domain.TillState, error)
}

type Repository interface {
	TillRepository
	SaveSale(ctx context.Context, sale domain.SaleRecord) error
	GetSale(ctx context.Context, invoiceName string) (*domain.SaleRecord, error)
	LastSale(ctx context.Context, terminalID string) (*domain.SaleRecord, error)
	// ListSales returns sales created in [from, to), newest first. An empty terminal lists every till.
	ListSales(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error)
	CreateHeldSale(ctx context.Context, held domain.HeldSale) (*domain.HeldSale, error)
	ListHeldSales(ctx context.Context, terminalID string, limit int) ([]domain.HeldSale, error)
	PopHeldSale(ctx context.Context, holdID string) (*domain.HeldSale, error)
	DeleteHeldSale(ctx context.Context, holdID string) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// NewTillState is the state of a terminal that has never been opened.
func NewTillState(terminalID string) *domain.TillState {
	return &domain.TillState{
		TerminalID: terminalID,
		ZAgg:       make(map[string]*domain.DailyAggregate),
	}
}

// EncodeTill and DecodeTill are the persisted JSON form shared by the SQL stores.
func EncodeTill(state *domain.TillState) ([]byte, error) {
	return json.Marshal(state)
}

func DecodeTill(terminalID string, payload []byte) (*domain.TillState, error) {
	state := NewTillState(terminalID)
	if len(payload) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(payload, state); err != nil {
		return nil, err
	}
	state.TerminalID = terminalID
	if state.ZAgg == nil {
		state.ZAgg = make(map[string]*domain.DailyAggregate)
	}
	return state, nil
}

// CloneTill deep-copies through the persisted form so callers never alias stored state.
func CloneTill(state *domain.TillState) *domain.TillState {
	payload, err := EncodeTill(state)
	if err != nil {
		return state
	}
	out, err := DecodeTill(state.TerminalID, payload)
	if err != nil {
		return state
	}
	return out
}
