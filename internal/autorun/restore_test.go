package autorun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"autoroll/internal/eventbus"
	"autoroll/internal/roll"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

func checkpoint(rolls int64) storage.RunRecord {
	return storage.RunRecord{
		RunID:         "run-prev",
		AutoSell:      true,
		StartedAt:     t0.Add(-time.Hour),
		RollCount:     rolls,
		Proceeds:      400,
		Best:          &roll.Outcome{ItemID: "gem", Rarity: "rare"},
		BestAt:        t0.Add(-30 * time.Minute),
		BestRollIndex: 12,
		NotableCount:  3,
		Counters:      map[string]int64{"sold_units": 90},
	}
}

func (h *harness) restorer() *Restorer {
	rs := NewRestorer(h.persist, h.accounts, nil, h.bus, logx.Nop(), h.standard, h.event)
	rs.now = h.clock.Now
	return rs
}

func TestRestoreResumesCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accounts.add("u1", 1)
	require.NoError(t, h.store.MergeAndSave(ctx, map[string]storage.RunRecord{"u1": checkpoint(50)}, nil))
	writes := h.store.Writes()

	rep, err := h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Restored)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, writes, h.store.Writes(), "restore does not save immediately")

	sum, ok := h.standard.Status("u1")
	require.True(t, ok)
	assert.Equal(t, int64(50), sum.Run.RollCount)
	assert.Equal(t, "run-prev", sum.Run.RunID)
	assert.True(t, sum.Run.AutoSell)

	h.engine.batches = [][]roll.Outcome{outcomes("common")}
	require.True(t, h.clock.fireNext())
	sum, _ = h.standard.Status("u1")
	assert.Equal(t, int64(51), sum.Run.RollCount)
	assert.Equal(t, "gem", sum.Run.Best.ItemID, "a worse batch keeps the restored best")
	assert.Equal(t, int64(401), sum.Run.Proceeds)
}

func TestRestoreClassifiesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	std := baseSettings()
	std.MinLevel = 5
	std.MinCurrency = 100
	std.Currency = "gold"
	h.settings[KindStandard].Store(std)
	ev := baseSettings()
	ev.WindowEnd = t0.Add(-time.Minute)
	h.settings[KindEvent].Store(ev)

	h.accounts.add("lowlevel", 2)
	h.accounts.add("poor", 9)
	h.accounts.balances["poor"] = 10
	h.accounts.add("rich", 9)
	h.accounts.balances["rich"] = 1000
	h.accounts.add("full", 9)
	h.accounts.balances["full"] = 1000
	h.accounts.capacity = 3
	h.accounts.used["full"] = 3

	full := checkpoint(7)
	full.AutoSell = false
	require.NoError(t, h.store.MergeAndSave(ctx,
		map[string]storage.RunRecord{
			"lowlevel": checkpoint(1),
			"poor":     checkpoint(2),
			"rich":     checkpoint(3),
			"ghost":    checkpoint(4),
			"full":     full,
		},
		map[string]storage.RunRecord{"rich": checkpoint(5)},
	))
	events, unsub := h.bus.Subscribe(1, eventbus.TypeRestored)
	defer unsub()

	rep, err := h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Restored)
	assert.Equal(t, 5, rep.Failed)
	assert.Equal(t, 3, rep.Dropped)
	assert.Equal(t, map[string]Code{
		"lowlevel": CodeLevelNotReached,
		"poor":     CodeInsufficientCurrency,
		"ghost":    CodeAccountNotFound,
		"full":     CodeStorageFull,
		"rich":     CodeEventInactive,
	}, rep.Reasons)

	recs := h.load(t)
	assert.NotContains(t, recs, "lowlevel", "permanent failure drops")
	assert.NotContains(t, recs, "ghost")
	assert.Contains(t, recs, "poor", "transient failure keeps")
	assert.Contains(t, recs, "full")
	require.Contains(t, recs, "rich")
	assert.NotNil(t, recs["rich"].Standard)
	assert.Nil(t, recs["rich"].Event, "inactive event dropped")

	assert.True(t, h.standard.Active("rich"))
	assert.False(t, h.event.Active("rich"))

	got := (<-events).Data.(Report)
	assert.Equal(t, rep.Restored, got.Restored)
}

func TestRestoreKeepsRunsOfTemporarilyInactiveKinds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accounts.add("u1", 1)
	require.NoError(t, h.store.MergeAndSave(ctx,
		map[string]storage.RunRecord{"u1": checkpoint(50)},
		map[string]storage.RunRecord{"u1": checkpoint(8)},
	))

	std := baseSettings()
	std.Enabled = false
	h.settings[KindStandard].Store(std)
	ev := baseSettings()
	ev.WindowStart = t0.Add(time.Hour)
	h.settings[KindEvent].Store(ev)

	rep, err := h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Restored)
	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Dropped)
	assert.Equal(t, CodeKindDisabled, rep.Reasons["u1"])
	for _, f := range rep.Failures {
		assert.False(t, f.Dropped, f.Kind)
	}
	require.Contains(t, h.load(t), "u1")
	assert.NotNil(t, h.load(t)["u1"].Standard, "disabled kind keeps its checkpoint")
	assert.NotNil(t, h.load(t)["u1"].Event, "unopened window keeps its checkpoint")

	h.settings[KindStandard].Store(baseSettings())
	h.settings[KindEvent].Store(baseSettings())
	rep, err = h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Restored)
	sum, ok := h.standard.Status("u1")
	require.True(t, ok)
	assert.Equal(t, int64(50), sum.Run.RollCount)
}

func TestRestoreChecksLevelBeforeWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accounts.add("u1", 2)
	ev := baseSettings()
	ev.MinLevel = 5
	ev.WindowEnd = t0.Add(-time.Minute)
	h.settings[KindEvent].Store(ev)
	require.NoError(t, h.store.MergeAndSave(ctx, nil, map[string]storage.RunRecord{"u1": checkpoint(1)}))

	rep, err := h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, CodeLevelNotReached, rep.Reasons["u1"])
	assert.Equal(t, 1, rep.Dropped)
}

// removeFailStore refuses every Remove.
type removeFailStore struct {
	*storage.MemoryStore
}

func (s removeFailStore) Remove(context.Context, storage.Kind, string) (bool, error) {
	return false, errBoom
}

func TestRestoreReportsDropOnlyWhenRemoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := removeFailStore{storage.NewMemory()}
	require.NoError(t, store.MergeAndSave(ctx, map[string]storage.RunRecord{"ghost": checkpoint(1)}, nil))

	rs := NewRestorer(NewPersister(store, logx.Nop()), h.accounts, nil, nil, logx.Nop(), h.standard, h.event)
	rs.now = h.clock.Now
	rep, err := rs.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Dropped)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, CodeAccountNotFound, rep.Failures[0].Code)
	assert.False(t, rep.Failures[0].Dropped)

	recs, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, recs, "ghost")
}

func TestRestoreIsPaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runs := map[string]storage.RunRecord{}
	for _, id := range []string{"a", "b", "c"} {
		h.accounts.add(id, 1)
		runs[id] = checkpoint(1)
	}
	require.NoError(t, h.store.MergeAndSave(ctx, runs, nil))

	rs := NewRestorer(h.persist, h.accounts, rate.NewLimiter(rate.Every(20*time.Millisecond), 1), nil, logx.Nop(), h.standard, h.event)
	rs.now = h.clock.Now
	start := time.Now()
	rep, err := rs.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Restored)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRestoreSkipsAlreadyRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accounts.add("u1", 1)
	require.NoError(t, h.standard.Start(ctx, "u1", StartOptions{}))

	rep, err := h.restorer().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Restored)
	assert.Equal(t, 1, h.standard.Len())
}
