package accounts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "autoroll/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Store struct {
	db  *sql.DB
	log logx.Logger
	cfg Config

	now func() time.Time
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("accounts path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts migrate: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log, cfg: cfg, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- reads ----

func (s *Store) Level(ctx context.Context, userID string) (int, error) {
	var lvl int
	err := s.db.QueryRowContext(ctx, `SELECT level FROM accounts WHERE user_id = ?`, userID).Scan(&lvl)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	return lvl, err
}

// Balance returns the user's amount of currency. An account without a row
// for currency has a zero balance.
func (s *Store) Balance(ctx context.Context, userID, currency string) (int64, error) {
	if err := s.mustExist(ctx, userID); err != nil {
		return 0, err
	}
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id = ? AND currency = ?`, userID, currency).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) ItemCount(ctx context.Context, userID, itemID string) (int64, error) {
	if err := s.mustExist(ctx, userID); err != nil {
		return 0, err
	}
	var qty int64
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM inventory WHERE user_id = ? AND item_id = ?`, userID, itemID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

// InventoryUsage returns the units held and the account capacity.
// A capacity of 0 means unlimited.
func (s *Store) InventoryUsage(ctx context.Context, userID string) (used, capacity int64, err error) {
	var cp sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT capacity FROM accounts WHERE user_id = ?`, userID).Scan(&cp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	capacity = s.cfg.DefaultCapacity
	if cp.Valid {
		capacity = cp.Int64
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM inventory WHERE user_id = ?`, userID).Scan(&used)
	return used, capacity, err
}

// ActiveModifiers returns the user's modifiers that have not expired at now.
func (s *Store) ActiveModifiers(ctx context.Context, userID string, now time.Time) ([]Modifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, source, factor, expires_at FROM modifiers
		 WHERE user_id = ? AND (expires_at = 0 OR expires_at > ?) ORDER BY id`,
		userID, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Modifier
	for rows.Next() {
		var (
			m   Modifier
			typ string
			exp int64
		)
		if err := rows.Scan(&typ, &m.Source, &m.Factor, &exp); err != nil {
			return nil, err
		}
		m.Type = ModifierType(typ)
		if exp > 0 {
			m.ExpiresAt = time.UnixMilli(exp)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Inventory returns every non-empty stack the user holds.
func (s *Store) Inventory(ctx context.Context, userID string) (map[string]int64, error) {
	if err := s.mustExist(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, quantity FROM inventory WHERE user_id = ? AND quantity > 0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var id string
		var qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (s *Store) mustExist(ctx context.Context, userID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	return err
}

// ---- writes ----

// Grant adds rolled items to the user's inventory in one transaction.
func (s *Store) Grant(ctx context.Context, userID string, items map[string]int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := txExists(ctx, tx, userID); err != nil {
			return err
		}
		for id, qty := range items {
			if qty <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO inventory(user_id, item_id, quantity) VALUES(?,?,?)
				 ON CONFLICT(user_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
				userID, id, qty); err != nil {
				return fmt.Errorf("grant %s: %w", id, err)
			}
		}
		return nil
	})
}

// Liquidate removes the listed items and credits the proceeds atomically.
// If any stack is short, nothing changes and ErrInsufficientItems is returned.
func (s *Store) Liquidate(ctx context.Context, userID string, l Liquidation) error {
	if l.Empty() {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := txExists(ctx, tx, userID); err != nil {
			return err
		}
		for id, qty := range l.Items {
			if qty <= 0 {
				continue
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE inventory SET quantity = quantity - ? WHERE user_id = ? AND item_id = ? AND quantity >= ?`,
				qty, userID, id, qty)
			if err != nil {
				return fmt.Errorf("liquidate %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("liquidate %s x%d: %w", id, qty, ErrInsufficientItems)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM inventory WHERE user_id = ? AND quantity <= 0`, userID); err != nil {
			return err
		}
		if l.Amount != 0 {
			return credit(ctx, tx, userID, l.Currency, l.Amount)
		}
		return nil
	})
}

// EnsureAccount creates the account if missing. An existing account keeps its level.
func (s *Store) EnsureAccount(ctx context.Context, userID string, level int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(user_id, level, created_at) VALUES(?,?,?) ON CONFLICT(user_id) DO NOTHING`,
		userID, level, s.now().UnixMilli())
	return err
}

func (s *Store) SetLevel(ctx context.Context, userID string, level int) error {
	return s.updateAccount(ctx, `UPDATE accounts SET level = ? WHERE user_id = ?`, level, userID)
}

// SetCapacity overrides the inventory capacity. 0 means unlimited.
func (s *Store) SetCapacity(ctx context.Context, userID string, capacity int64) error {
	return s.updateAccount(ctx, `UPDATE accounts SET capacity = ? WHERE user_id = ?`, capacity, userID)
}

func (s *Store) Credit(ctx context.Context, userID, currency string, amount int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := txExists(ctx, tx, userID); err != nil {
			return err
		}
		return credit(ctx, tx, userID, currency, amount)
	})
}

func (s *Store) AddModifier(ctx context.Context, userID string, m Modifier) error {
	if err := s.mustExist(ctx, userID); err != nil {
		return err
	}
	var exp int64
	if !m.ExpiresAt.IsZero() {
		exp = m.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modifiers(user_id, type, source, factor, expires_at) VALUES(?,?,?,?,?)`,
		userID, string(m.Type), m.Source, m.Factor, exp)
	return err
}

// PruneModifiers deletes modifiers that expired before now.
func (s *Store) PruneModifiers(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM modifiers WHERE expires_at > 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) updateAccount(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func txExists(ctx context.Context, tx *sql.Tx, userID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	return err
}

func credit(ctx context.Context, tx *sql.Tx, userID, currency string, amount int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balances(user_id, currency, amount) VALUES(?,?,?)
		 ON CONFLICT(user_id, currency) DO UPDATE SET amount = amount + excluded.amount`,
		userID, currency, amount)
	return err
}
