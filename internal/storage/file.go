package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "autoroll/pkg/logx"
)

// fileStore keeps every checkpoint in one JSON document.
//
// Each write is read-entire/merge/write-entire: the document is encoded to
// <path>.tmp and renamed over <path>, so a crash mid-write leaves the
// previous document intact.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (map[string]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadLocked()
	if err != nil {
		s.log.Warn("checkpoint read failed; treating as empty", logx.String("path", s.path), logx.Err(err))
		return map[string]Record{}, nil
	}
	return recs, nil
}

// loadLocked reads the document. A missing or corrupt document is empty; any
// other read error is returned so writers never rebuild the file from nothing.
func (s *fileStore) loadLocked() (map[string]Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("checkpoint read: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]Record{}, nil
	}
	recs, err := decodeDocument(b, s.log)
	if err != nil {
		s.log.Warn("checkpoint corrupt; treating as empty", logx.String("path", s.path), logx.Err(err))
		return map[string]Record{}, nil
	}
	return recs, nil
}

func (s *fileStore) MergeAndSave(ctx context.Context, standard, event map[string]RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadLocked()
	if err != nil {
		return err
	}
	return s.writeLocked(mergeRecords(recs, standard, event))
}

func (s *fileStore) Remove(ctx context.Context, kind Kind, userID string) (bool, error) {
	_ = ctx
	if !kind.Valid() {
		return false, fmt.Errorf("unknown kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return false, err
	}
	rec, ok := recs[userID]
	if !ok || rec.Get(kind) == nil {
		return false, nil
	}
	rec.Set(kind, nil)
	if rec.Empty() {
		delete(recs, userID)
	} else {
		recs[userID] = rec
	}
	if err := s.writeLocked(recs); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) writeLocked(recs map[string]Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint encode: %w", err)
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint close: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	return nil
}
