package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a non-persistent Store.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record

	// writes counts successful mutations.
	writes int
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{recs: map[string]Record{}}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Load(ctx context.Context) (map[string]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.recs), nil
}

func (s *MemoryStore) MergeAndSave(ctx context.Context, standard, event map[string]RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = cloneRecords(mergeRecords(s.recs, standard, event))
	s.writes++
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, kind Kind, userID string) (bool, error) {
	_ = ctx
	if !kind.Valid() {
		return false, fmt.Errorf("unknown kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[userID]
	if !ok || rec.Get(kind) == nil {
		return false, nil
	}
	rec.Set(kind, nil)
	if rec.Empty() {
		delete(s.recs, userID)
	} else {
		s.recs[userID] = rec
	}
	s.writes++
	return true, nil
}

// Writes reports how many mutations were applied.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func cloneRecords(in map[string]Record) map[string]Record {
	out := make(map[string]Record, len(in))
	for id, rec := range in {
		var cp Record
		for _, k := range Kinds {
			if sub := rec.Get(k); sub != nil {
				c := sub.Clone()
				cp.Set(k, &c)
			}
		}
		out[id] = cp
	}
	return out
}
