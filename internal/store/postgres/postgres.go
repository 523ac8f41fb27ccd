package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadTill(ctx context.Context, terminalID string) (*domain.TillState, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidInput
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM till_states WHERE terminal_id = $1`, terminalID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewTillState(terminalID), nil
	}
	if err != nil {
		return nil, err
	}
	return store.DecodeTill(terminalID, raw)
}

// UpdateTill locks the terminal row for the duration of fn. The row is created first so
// concurrent writers always have something to lock.
func (s *Store) UpdateTill(ctx context.Context, terminalID string, fn store.TillMutator) (*domain.TillState, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	empty, err := store.EncodeTill(store.NewTillState(terminalID))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO till_states (terminal_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (terminal_id) DO NOTHING
	`, terminalID, empty); err != nil {
		return nil, err
	}

	var raw []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT state FROM till_states WHERE terminal_id = $1 FOR UPDATE
	`, terminalID).Scan(&raw); err != nil {
		return nil, err
	}
	state, err := store.DecodeTill(terminalID, raw)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	state.TerminalID = terminalID
	state.UpdatedAt = time.Now().UTC()

	payload, err := store.EncodeTill(state)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE till_states SET state = $2, updated_at = $3 WHERE terminal_id = $1
	`, terminalID, payload, state.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) SaveSale(ctx context.Context, sale domain.SaleRecord) error {
	if sale.InvoiceName == "" || sale.TerminalID == "" {
		return store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (invoice_name, terminal_id, cashier, total_cents, is_refund, record, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (invoice_name) DO UPDATE SET record = EXCLUDED.record
	`, sale.InvoiceName, sale.TerminalID, sale.Cashier, sale.TotalCents, sale.IsRefund, record, sale.CreatedAt)
	return err
}

func (s *Store) GetSale(ctx context.Context, invoiceName string) (*domain.SaleRecord, error) {
	return s.findSale(ctx, `SELECT record FROM sales WHERE invoice_name = $1`, invoiceName)
}

func (s *Store) LastSale(ctx context.Context, terminalID string) (*domain.SaleRecord, error) {
	return s.findSale(ctx, `
		SELECT record FROM sales WHERE terminal_id = $1 ORDER BY created_at DESC LIMIT 1
	`, terminalID)
}

func (s *Store) ListSales(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record
		FROM sales
		WHERE ($1 = '' OR terminal_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, invoice_name DESC
		LIMIT $4
	`, terminalID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var sale domain.SaleRecord
		if err := json.Unmarshal(raw, &sale); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) findSale(ctx context.Context, query string, arg string) (*domain.SaleRecord, error) {
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var sale domain.SaleRecord
	if err := json.Unmarshal(raw, &sale); err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) CreateHeldSale(ctx context.Context, held domain.HeldSale) (*domain.HeldSale, error) {
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	if held.ID == "" {
		held.ID = xid.Dated("PAUSE", held.HeldAt)
	}
	if held.TerminalID == "" || len(held.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	linesJSON, err := json.Marshal(held.Lines)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_sales (id, terminal_id, cashier, customer, note, lines, items_count, total_cents, held_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, held.ID, held.TerminalID, held.Cashier, held.Customer, held.Note, linesJSON, held.ItemsCount, held.TotalCents, held.HeldAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := held
	return &saved, nil
}

const heldSaleColumns = `id, terminal_id, cashier, customer, note, lines, items_count, total_cents, held_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeldSale(row rowScanner) (domain.HeldSale, error) {
	var held domain.HeldSale
	var linesRaw []byte
	if err := row.Scan(
		&held.ID,
		&held.TerminalID,
		&held.Cashier,
		&held.Customer,
		&held.Note,
		&linesRaw,
		&held.ItemsCount,
		&held.TotalCents,
		&held.HeldAt,
	); err != nil {
		return domain.HeldSale{}, err
	}
	held.HeldAt = held.HeldAt.UTC()
	if len(linesRaw) > 0 {
		if err := json.Unmarshal(linesRaw, &held.Lines); err != nil {
			return domain.HeldSale{}, err
		}
	}
	return held, nil
}

func (s *Store) ListHeldSales(ctx context.Context, terminalID string, limit int) ([]domain.HeldSale, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldSaleColumns+`
		FROM held_sales
		WHERE ($1 = '' OR terminal_id = $1)
		ORDER BY held_at DESC
		LIMIT $2
	`, terminalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	helds := make([]domain.HeldSale, 0, 16)
	for rows.Next() {
		held, err := scanHeldSale(rows)
		if err != nil {
			return nil, err
		}
		helds = append(helds, held)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return helds, nil
}

func (s *Store) PopHeldSale(ctx context.Context, holdID string) (*domain.HeldSale, error) {
	held, err := scanHeldSale(s.db.QueryRowContext(ctx, `
		DELETE FROM held_sales WHERE id = $1 RETURNING `+heldSaleColumns, holdID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &held, nil
}

func (s *Store) DeleteHeldSale(ctx context.Context, holdID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_sales WHERE id = $1`, holdID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TerminalID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR terminal_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, terminalID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TerminalID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, display_name, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Password, user.Role, user.DisplayName, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, display_name, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.DisplayName, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
