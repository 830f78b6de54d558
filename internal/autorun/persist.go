package autorun

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

// Source is anything whose active runs are checkpointed.
type Source interface {
	Kind() Kind
	Snapshot() map[string]storage.RunRecord
}

// Persister is the only writer of the Checkpoint Store.
//
// Flush takes the snapshot and writes it under one lock, and Remove takes
// the same lock, so a removal is never overwritten by an autosave whose
// snapshot predates the stop.
type Persister struct {
	store storage.Store
	log   logx.Logger

	mu sync.Mutex

	srcMu   sync.Mutex
	sources []Source

	flushes  atomic.Uint64
	failures atomic.Uint64
}

func NewPersister(store storage.Store, log logx.Logger) *Persister {
	return &Persister{store: store, log: log}
}

// Attach registers a source for Flush. Runners attach themselves.
func (p *Persister) Attach(src Source) {
	p.srcMu.Lock()
	p.sources = append(p.sources, src)
	p.srcMu.Unlock()
}

// Flush merges the active runs of every source into the store.
func (p *Persister) Flush(ctx context.Context) error {
	p.srcMu.Lock()
	sources := append([]Source(nil), p.sources...)
	p.srcMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	var standard, event map[string]storage.RunRecord
	n := 0
	for _, src := range sources {
		snap := src.Snapshot()
		n += len(snap)
		switch src.Kind() {
		case KindStandard:
			standard = mergeSnap(standard, snap)
		case KindEvent:
			event = mergeSnap(event, snap)
		}
	}
	if err := p.store.MergeAndSave(ctx, standard, event); err != nil {
		p.failures.Add(1)
		p.log.Warn("checkpoint flush failed", logx.Int("runs", n), logx.Err(err))
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	p.flushes.Add(1)
	p.log.Debug("checkpoint flushed", logx.Int("runs", n))
	return nil
}

func mergeSnap(dst, src map[string]storage.RunRecord) map[string]storage.RunRecord {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Remove deletes one user's checkpoint for kind.
func (p *Persister) Remove(ctx context.Context, kind Kind, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.store.Remove(ctx, kind, userID); err != nil {
		p.failures.Add(1)
		p.log.Warn("checkpoint remove failed",
			logx.String("user", userID), logx.String("kind", string(kind)), logx.Err(err))
		return fmt.Errorf("checkpoint remove: %w", err)
	}
	return nil
}

// Load reads every checkpoint.
func (p *Persister) Load(ctx context.Context) (map[string]storage.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Load(ctx)
}

// PersisterStats are operational counters.
type PersisterStats struct {
	Flushes  uint64
	Failures uint64
}

func (p *Persister) Stats() PersisterStats {
	return PersisterStats{Flushes: p.flushes.Load(), Failures: p.failures.Load()}
}
