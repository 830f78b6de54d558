package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoroll/internal/roll"
)

var ErrDisabled = errors.New("storage disabled")

// Kind identifies a scheduling track.
type Kind string

const (
	KindStandard Kind = "standard"
	KindEvent    Kind = "event"
)

// Kinds lists every known kind in persistence order.
var Kinds = []Kind{KindStandard, KindEvent}

func (k Kind) Valid() bool { return k == KindStandard || k == KindEvent }

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path (default)
//   - "sqlite": SQLite database file at Path
//   - "memory": not persisted
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the persisted form of one user's run for one kind.
// The in-memory timer is never part of it.
type RunRecord struct {
	RunID     string    `json:"run_id,omitempty"`
	AutoSell  bool      `json:"auto_sell"`
	StartedAt time.Time `json:"started_at"`

	RollCount      int64 `json:"roll_count"`
	UnitsProcessed int64 `json:"units_processed"`
	Proceeds       int64 `json:"proceeds"`

	Best          *roll.Outcome `json:"best,omitempty"`
	BestAt        time.Time     `json:"best_at"`
	BestRollIndex int64         `json:"best_roll_index"`

	NotableCount          int64     `json:"notable_count"`
	NotableFirstAt        time.Time `json:"notable_first_at"`
	NotableFirstRollIndex int64     `json:"notable_first_roll_index"`

	GuaranteedSlotsUsed int64            `json:"guaranteed_slots_used"`
	Counters            map[string]int64 `json:"counters,omitempty"`
}

// Validate rejects records that would corrupt a resumed run.
func (r RunRecord) Validate() error {
	nums := []struct {
		name string
		v    int64
	}{
		{"roll_count", r.RollCount},
		{"units_processed", r.UnitsProcessed},
		{"proceeds", r.Proceeds},
		{"best_roll_index", r.BestRollIndex},
		{"notable_count", r.NotableCount},
		{"notable_first_roll_index", r.NotableFirstRollIndex},
		{"guaranteed_slots_used", r.GuaranteedSlotsUsed},
	}
	for _, n := range nums {
		if n.v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", n.name, n.v)
		}
	}
	for k, v := range r.Counters {
		if v < 0 {
			return fmt.Errorf("counters.%s must be >= 0, got %d", k, v)
		}
	}
	if r.Best != nil && !r.Best.Valid() {
		return errors.New("best outcome is missing item_id or rarity")
	}
	return nil
}

// Clone returns a deep copy.
func (r RunRecord) Clone() RunRecord {
	cp := r
	if r.Best != nil {
		b := *r.Best
		cp.Best = &b
	}
	if r.Counters != nil {
		cp.Counters = make(map[string]int64, len(r.Counters))
		for k, v := range r.Counters {
			cp.Counters[k] = v
		}
	}
	return cp
}

// Record is everything persisted for one user.
type Record struct {
	Standard *RunRecord `json:"standard,omitempty"`
	Event    *RunRecord `json:"event,omitempty"`
}

func (r Record) Empty() bool { return r.Standard == nil && r.Event == nil }

func (r Record) Get(k Kind) *RunRecord {
	switch k {
	case KindStandard:
		return r.Standard
	case KindEvent:
		return r.Event
	}
	return nil
}

func (r *Record) Set(k Kind, rec *RunRecord) {
	switch k {
	case KindStandard:
		r.Standard = rec
	case KindEvent:
		r.Event = rec
	}
}

// Store is the checkpoint persistence API.
//
// Implementations serialize their own writes; callers still need to order
// snapshot-then-write against removals (see autorun.Persister).
type Store interface {
	// Load returns every persisted record. Missing or corrupt data loads as empty.
	Load(ctx context.Context) (map[string]Record, error)
	// MergeAndSave writes the in-memory runs of both kinds. Users that are only
	// persisted are preserved; for a user present in memory, the in-memory
	// sub-record replaces the persisted one.
	MergeAndSave(ctx context.Context, standard, event map[string]RunRecord) error
	// Remove deletes one sub-record and collapses the user if nothing is left.
	// It reports whether anything was removed.
	Remove(ctx context.Context, kind Kind, userID string) (bool, error)
	Close() error
}

func RemoveStandard(ctx context.Context, s Store, userID string) (bool, error) {
	return s.Remove(ctx, KindStandard, userID)
}

func RemoveEvent(ctx context.Context, s Store, userID string) (bool, error) {
	return s.Remove(ctx, KindEvent, userID)
}

// decodeRunRecord parses and validates one sub-record.
func decodeRunRecord(raw json.RawMessage) (*RunRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
