package autorun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"autoroll/internal/accounts"
	"autoroll/internal/eventbus"
	"autoroll/internal/roll"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

// StartOptions tune a start.
type StartOptions struct {
	AutoSell bool

	// SkipImmediateSave suppresses the checkpoint flush after the start.
	SkipImmediateSave bool

	// Resume carries a checkpoint whose historical fields are copied into the
	// new Run State before its first tick can be scheduled.
	Resume *storage.RunRecord
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Kind      Kind
	Settings  *Settings
	Policy    DelayPolicy
	Executor  BatchRunner
	Accounts  Accounts
	Ranker    roll.Ranker
	Persister *Persister
	Bus       eventbus.Bus
	Log       logx.Logger
}

type RunnerOption func(*Runner)

// WithAfterFunc replaces the wall-clock timer factory.
func WithAfterFunc(fn AfterFunc) RunnerOption { return func(r *Runner) { r.afterFunc = fn } }

func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

// Runner is the Task Runner for one kind. It owns the registry of active
// Run States.
type Runner struct {
	kind     Kind
	settings *Settings
	policy   DelayPolicy
	exec     BatchRunner
	accounts Accounts
	ranker   roll.Ranker
	persist  *Persister
	bus      eventbus.Bus
	log      logx.Logger

	afterFunc AfterFunc
	now       func() time.Time

	// ctx is used for tick I/O. Ticks are never canceled mid-flight.
	ctx context.Context

	mu   sync.Mutex
	runs map[string]*RunState
}

func NewRunner(cfg RunnerConfig, opts ...RunnerOption) (*Runner, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("autorun: unknown kind %q", cfg.Kind)
	}
	if cfg.Settings == nil || cfg.Policy == nil || cfg.Executor == nil || cfg.Accounts == nil ||
		cfg.Ranker == nil || cfg.Persister == nil {
		return nil, errors.New("autorun: runner dependencies missing")
	}
	r := &Runner{
		kind:      cfg.Kind,
		settings:  cfg.Settings,
		policy:    cfg.Policy,
		exec:      cfg.Executor,
		accounts:  cfg.Accounts,
		ranker:    cfg.Ranker,
		persist:   cfg.Persister,
		bus:       cfg.Bus,
		log:       cfg.Log.With(logx.String("kind", string(cfg.Kind))),
		afterFunc: wallClock,
		now:       time.Now,
		ctx:       context.Background(),
		runs:      map[string]*RunState{},
	}
	for _, o := range opts {
		o(r)
	}
	cfg.Persister.Attach(r)
	return r, nil
}

func (r *Runner) Kind() Kind { return r.kind }

// Start creates a run for userID and schedules its first tick.
func (r *Runner) Start(ctx context.Context, userID string, opts StartOptions) error {
	if r.Active(userID) {
		return reject(r.kind, CodeAlreadyRunning)
	}
	ks := r.settings.Load()
	if err := r.checkGates(ctx, userID, ks, opts.AutoSell); err != nil {
		return err
	}
	delay := r.policy.ComputeDelay(ctx, userID, r.kind)

	r.mu.Lock()
	if _, ok := r.runs[userID]; ok {
		r.mu.Unlock()
		return reject(r.kind, CodeAlreadyRunning)
	}
	st := newRunState(userID, r.kind, opts.AutoSell, r.now())
	if opts.Resume != nil {
		st.hydrate(*opts.Resume)
	}
	r.runs[userID] = st
	r.armLocked(st, delay)
	rollCount := st.run.RollCount
	r.mu.Unlock()

	r.log.Info("run started",
		logx.String("user", userID),
		logx.Bool("auto_sell", opts.AutoSell),
		logx.Bool("resumed", opts.Resume != nil),
		logx.Int64("roll_count", rollCount),
		logx.Duration("first_delay", delay),
	)

	if !opts.SkipImmediateSave {
		// Failures are logged by the Persister; the next autosave retries.
		_ = r.persist.Flush(ctx)
	}
	return nil
}

// checkGates applies the kind gates in order: active window, prerequisite
// item, storage capacity (only without auto-sell).
func (r *Runner) checkGates(ctx context.Context, userID string, ks KindSettings, autoSell bool) error {
	if !ks.ActiveAt(r.now()) {
		return reject(r.kind, inactiveCode(r.kind))
	}
	if ks.PrerequisiteItem != "" {
		n, err := r.accounts.ItemCount(ctx, userID, ks.PrerequisiteItem)
		if err != nil {
			return r.lookupErr(err)
		}
		if n <= 0 {
			return reject(r.kind, CodeNoPrerequisite)
		}
	}
	if !autoSell {
		full, err := r.storageFull(ctx, userID)
		if err != nil {
			return r.lookupErr(err)
		}
		if full {
			return reject(r.kind, CodeStorageFull)
		}
	}
	return nil
}

func (r *Runner) storageFull(ctx context.Context, userID string) (bool, error) {
	used, capacity, err := r.accounts.InventoryUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return capacity > 0 && used >= capacity, nil
}

func (r *Runner) lookupErr(err error) error {
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return &Rejection{Kind: r.kind, Code: CodeAccountNotFound, Err: err}
	}
	return &Rejection{Kind: r.kind, Code: CodeCheckFailed, Err: err}
}

// armLocked schedules the next tick of st. Call with r.mu held.
func (r *Runner) armLocked(st *RunState, delay time.Duration) {
	st.NextTickAt = r.now().Add(delay)
	st.token.arm(r.afterFunc(delay, func() { r.tick(st) }))
}

// tick runs one batch for st. It is a no-op once st is no longer the
// registered run for its user.
func (r *Runner) tick(st *RunState) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("tick panicked",
				logx.String("user", st.UserID),
				logx.Err(errTickPanic(v)),
				logx.String("stack", string(debug.Stack())),
			)
			r.finish(st, StopTickPanic)
		}
	}()

	r.mu.Lock()
	if !r.currentLocked(st) {
		r.mu.Unlock()
		return
	}
	autoSell := st.run.AutoSell
	r.mu.Unlock()

	ctx := r.ctx
	ks := r.settings.Load()
	if !ks.ActiveAt(r.now()) {
		r.finish(st, inactiveReason(r.kind))
		return
	}
	if !autoSell {
		full, err := r.storageFull(ctx, st.UserID)
		if err != nil {
			r.log.Warn("capacity check failed; continuing", logx.String("user", st.UserID), logx.Err(err))
		} else if full {
			r.finish(st, StopStorageFull)
			return
		}
	}

	delay := r.policy.ComputeDelay(ctx, st.UserID, r.kind)
	res, err := r.exec.RunBatch(ctx, st.UserID, r.kind, ks.BatchSize, autoSell)
	if err != nil {
		r.log.Warn("batch failed; stopping run", logx.String("user", st.UserID), logx.Err(err))
		r.finish(st, StopRollFailed)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.currentLocked(st) {
		return
	}
	st.fold(res, r.ranker, r.now())
	r.armLocked(st, delay)
	r.log.Debug("tick done",
		logx.String("user", st.UserID),
		logx.Int64("roll_count", st.run.RollCount),
		logx.Int("notable", res.NotableCount),
		logx.Duration("next", delay),
	)
}

func (r *Runner) currentLocked(st *RunState) bool {
	return r.runs[st.UserID] == st && !st.token.isReleased()
}

// finish stops st for reason unless it was already replaced or stopped.
func (r *Runner) finish(st *RunState, reason StopReason) {
	_, _ = r.stop(r.ctx, st.UserID, reason, st)
}

// Stop ends the user's run, removes its checkpoint and publishes the summary.
func (r *Runner) Stop(ctx context.Context, userID string) (Summary, error) {
	return r.stop(ctx, userID, StopUser, nil)
}

// StopWithReason is Stop with an explicit reason.
func (r *Runner) StopWithReason(ctx context.Context, userID string, reason StopReason) (Summary, error) {
	return r.stop(ctx, userID, reason, nil)
}

func (r *Runner) stop(ctx context.Context, userID string, reason StopReason, expect *RunState) (Summary, error) {
	r.mu.Lock()
	st, ok := r.runs[userID]
	if !ok || (expect != nil && st != expect) {
		r.mu.Unlock()
		return Summary{}, reject(r.kind, CodeNotRunning)
	}
	st.StoppedReason = reason
	st.token.release()
	sum := st.summary(r.now())
	delete(r.runs, userID)
	r.mu.Unlock()

	// Failures are logged by the Persister.
	_ = r.persist.Remove(ctx, r.kind, userID)

	r.log.Info("run stopped",
		logx.String("user", userID),
		logx.String("reason", string(reason)),
		logx.Int64("roll_count", sum.Run.RollCount),
		logx.Duration("elapsed", sum.Elapsed),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeRunStopped, Data: sum})
	}
	return sum, nil
}

// Abandon drops every Run State without touching checkpoints, as a
// terminating process would. Pending timers are released.
func (r *Runner) Abandon() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.runs)
	for id, st := range r.runs {
		st.token.release()
		delete(r.runs, id)
	}
	return n
}

func (r *Runner) Active(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[userID]
	return ok
}

func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Status returns a copy of the user's Run State.
func (r *Runner) Status(userID string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[userID]
	if !ok {
		return Summary{}, false
	}
	return st.summary(r.now()), true
}

// Users lists active users in order.
func (r *Runner) Users() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.runs))
	for id := range r.runs {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Snapshot returns the persistable form of every active run.
func (r *Runner) Snapshot() map[string]storage.RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]storage.RunRecord, len(r.runs))
	for id, st := range r.runs {
		out[id] = st.run.Clone()
	}
	return out
}
