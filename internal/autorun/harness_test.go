package autorun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoroll/internal/accounts"
	"autoroll/internal/eventbus"
	"autoroll/internal/roll"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// ---- manual clock ----

type manualTimer struct {
	clk     *manualClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock { return &manualClock{now: t0} }

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clk: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest pending timer synchronously, advancing the clock
// by its delay.
func (c *manualClock) fireNext() bool {
	c.mu.Lock()
	var next *manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	c.now = c.now.Add(next.d)
	c.mu.Unlock()
	next.f()
	return true
}

// ---- fakes ----

type fakeAccounts struct {
	mu          sync.Mutex
	levels      map[string]int
	balances    map[string]int64
	items       map[string]map[string]int64
	used        map[string]int64
	capacity    int64
	liquidated  []accounts.Liquidation
	liquidateFn func(accounts.Liquidation) error
	lookupErr   error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		levels:   map[string]int{},
		balances: map[string]int64{},
		items:    map[string]map[string]int64{},
		used:     map[string]int64{},
	}
}

func (a *fakeAccounts) add(userID string, level int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.levels[userID] = level
	a.items[userID] = map[string]int64{}
}

func (a *fakeAccounts) known(userID string) error {
	if a.lookupErr != nil {
		return a.lookupErr
	}
	if _, ok := a.levels[userID]; !ok {
		return accounts.ErrAccountNotFound
	}
	return nil
}

func (a *fakeAccounts) Level(_ context.Context, userID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.known(userID); err != nil {
		return 0, err
	}
	return a.levels[userID], nil
}

func (a *fakeAccounts) Balance(_ context.Context, userID, _ string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.known(userID); err != nil {
		return 0, err
	}
	return a.balances[userID], nil
}

func (a *fakeAccounts) ItemCount(_ context.Context, userID, itemID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.known(userID); err != nil {
		return 0, err
	}
	return a.items[userID][itemID], nil
}

func (a *fakeAccounts) InventoryUsage(_ context.Context, userID string) (int64, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.known(userID); err != nil {
		return 0, 0, err
	}
	return a.used[userID], a.capacity, nil
}

func (a *fakeAccounts) Liquidate(_ context.Context, _ string, l accounts.Liquidation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.liquidateFn != nil {
		if err := a.liquidateFn(l); err != nil {
			return err
		}
	}
	a.liquidated = append(a.liquidated, l)
	return nil
}

type fakeModifiers struct {
	mods []accounts.Modifier
	err  error
}

func (m *fakeModifiers) ActiveModifiers(context.Context, string, time.Time) ([]accounts.Modifier, error) {
	return m.mods, m.err
}

// scriptEngine returns scripted batches in order, then repeats the last one.
type scriptEngine struct {
	mu      sync.Mutex
	batches [][]roll.Outcome
	calls   int
	err     error
	panicOn int // 1-based call that panics; 0 never
}

func (e *scriptEngine) PerformBatch(_ context.Context, _ string, _ int) (roll.Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.panicOn > 0 && e.calls == e.panicOn {
		panic("engine exploded")
	}
	if e.err != nil {
		return roll.Batch{}, e.err
	}
	if len(e.batches) == 0 {
		return roll.Batch{Outcomes: []roll.Outcome{{ItemID: "pebble", Rarity: "common"}}}, nil
	}
	i := min(e.calls-1, len(e.batches)-1)
	return roll.Batch{Outcomes: e.batches[i]}, nil
}

func (e *scriptEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ---- harness ----

var testOrder = roll.NewRarityOrder([]string{"common", "rare", "epic", "legendary"})

type harness struct {
	clock    *manualClock
	store    *storage.MemoryStore
	persist  *Persister
	accounts *fakeAccounts
	mods     *fakeModifiers
	engine   *scriptEngine
	bus      *eventbus.MemBus
	settings map[Kind]*Settings
	standard *Runner
	event    *Runner
}

func baseSettings() KindSettings {
	return KindSettings{
		Enabled:   true,
		BatchSize: 10,
		BaseDelay: 10 * time.Second,
		MinDelay:  time.Second,
		Notable:   roll.NewRaritySet([]string{"epic", "legendary"}),
		Protected: roll.NewRaritySet([]string{"legendary"}),
		Prices:    map[string]int64{"common": 1, "rare": 10, "epic": 50},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newManualClock(),
		store:    storage.NewMemory(),
		accounts: newFakeAccounts(),
		mods:     &fakeModifiers{},
		engine:   &scriptEngine{},
		bus:      eventbus.New(),
		settings: map[Kind]*Settings{
			KindStandard: NewSettings(baseSettings()),
			KindEvent:    NewSettings(baseSettings()),
		},
	}
	h.persist = NewPersister(h.store, logx.Nop())
	policy := NewPolicy(h.mods, h.settings, logx.Nop())
	policy.now = h.clock.Now
	exec := NewExecutor(h.engine, h.accounts, testOrder, h.settings, logx.Nop())

	build := func(kind Kind) *Runner {
		r, err := NewRunner(RunnerConfig{
			Kind:      kind,
			Settings:  h.settings[kind],
			Policy:    policy,
			Executor:  exec,
			Accounts:  h.accounts,
			Ranker:    testOrder,
			Persister: h.persist,
			Bus:       h.bus,
			Log:       logx.Nop(),
		}, WithAfterFunc(h.clock.AfterFunc), WithClock(h.clock.Now))
		require.NoError(t, err)
		return r
	}
	h.standard = build(KindStandard)
	h.event = build(KindEvent)
	return h
}

func (h *harness) load(t *testing.T) map[string]storage.Record {
	t.Helper()
	recs, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return recs
}

func outcomes(rarities ...string) []roll.Outcome {
	out := make([]roll.Outcome, 0, len(rarities))
	for _, r := range rarities {
		out = append(out, roll.Outcome{ItemID: r + "-item", Rarity: r})
	}
	return out
}

var errBoom = errors.New("boom")
