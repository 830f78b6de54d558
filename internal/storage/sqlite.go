package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "autoroll/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one row per (user, kind). Merges are per-row upserts in a
// single transaction, so persisted-only users survive without a full rewrite.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu sync.Mutex // single writer
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (map[string]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	out := map[string]Record{}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, kind, payload FROM checkpoints`)
	if err != nil {
		s.log.Warn("checkpoint query failed; treating as empty", logx.Err(err))
		return out, nil
	}
	defer rows.Close()

	for rows.Next() {
		var userID, kind, payload string
		if err := rows.Scan(&userID, &kind, &payload); err != nil {
			s.log.Warn("checkpoint row unreadable", logx.Err(err))
			continue
		}
		k := Kind(kind)
		if !k.Valid() {
			s.log.Warn("checkpoint row has unknown kind", logx.String("user", userID), logx.String("kind", kind))
			continue
		}
		rec, err := decodeRunRecord(json.RawMessage(payload))
		if err != nil || rec == nil {
			s.log.Warn("checkpoint sub-record dropped", logx.String("user", userID), logx.String("kind", kind), logx.Err(err))
			continue
		}
		r := out[userID]
		r.Set(k, rec)
		out[userID] = r
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("checkpoint scan failed", logx.Err(err))
	}
	return out, nil
}

func (s *sqliteStore) MergeAndSave(ctx context.Context, standard, event map[string]RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO checkpoints(user_id, kind, payload, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, kind) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("checkpoint prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, part := range []struct {
		kind Kind
		runs map[string]RunRecord
	}{{KindStandard, standard}, {KindEvent, event}} {
		for userID, run := range part.runs {
			b, err := json.Marshal(run)
			if err != nil {
				return fmt.Errorf("checkpoint encode %s/%s: %w", userID, part.kind, err)
			}
			if _, err := stmt.ExecContext(ctx, userID, string(part.kind), string(b), now); err != nil {
				return fmt.Errorf("checkpoint upsert %s/%s: %w", userID, part.kind, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, kind Kind, userID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if !kind.Valid() {
		return false, fmt.Errorf("unknown kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE user_id = ? AND kind = ?`, userID, string(kind))
	if err != nil {
		return false, fmt.Errorf("checkpoint delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
