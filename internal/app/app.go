package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoroll/internal/accounts"
	"autoroll/internal/autorun"
	"autoroll/internal/config"
	"autoroll/internal/eventbus"
	"autoroll/internal/observability/admin"
	"autoroll/internal/roll"
	"autoroll/internal/runtime/supervisor"
	"autoroll/internal/storage"
	"autoroll/internal/task/scheduler"
	logx "autoroll/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    storage.Store
	accounts *accounts.Store
	engine   *roll.TableEngine

	settings map[autorun.Kind]*autorun.Settings
	persist  *autorun.Persister
	runners  map[autorun.Kind]*autorun.Runner
	restorer *autorun.Restorer
	coord    *autorun.Coordinator
	sched    *scheduler.Service
	admin    *admin.Server // nil when disabled

	// notify reports service state to systemd; replaced in tests.
	notify func(state string)

	lastRestore autorun.Report
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	root := log
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		runners: map[autorun.Kind]*autorun.Runner{},
		notify:  sdNotify,
	}
	if err := a.wire(cfg, root); err != nil {
		a.closeStores()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config, root logx.Logger) error {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	sc, err := StorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, comp("storage"))
	if errors.Is(err, storage.ErrDisabled) {
		a.log.Warn("checkpoint storage disabled; runs will not survive a restart")
		store, err = storage.NewMemory(), nil
	}
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	a.store = store
	a.log.Info("checkpoint storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ac, err := mapAccountsConfig(cfg)
	if err != nil {
		return err
	}
	acc, err := accounts.Open(ac, comp("accounts"))
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	a.accounts = acc

	engine, err := roll.NewTableEngine(mapTableConfig(cfg.Roll), acc, newRand(cfg.Roll.Seed))
	if err != nil {
		return err
	}
	a.engine = engine

	all, err := mapAllSettings(cfg)
	if err != nil {
		return err
	}
	a.settings = map[autorun.Kind]*autorun.Settings{}
	for _, k := range storage.Kinds {
		a.settings[k] = autorun.NewSettings(all[k])
	}

	ranker := engine.Order()
	policy := autorun.NewPolicy(acc, a.settings, comp("policy"))
	exec := autorun.NewExecutor(engine, acc, ranker, a.settings, comp("executor"))
	a.persist = autorun.NewPersister(store, comp("checkpoint"))

	runners := make([]*autorun.Runner, 0, len(storage.Kinds))
	for _, k := range storage.Kinds {
		r, err := autorun.NewRunner(autorun.RunnerConfig{
			Kind:      k,
			Settings:  a.settings[k],
			Policy:    policy,
			Executor:  exec,
			Accounts:  acc,
			Ranker:    ranker,
			Persister: a.persist,
			Bus:       a.bus,
			Log:       comp("runner"),
		})
		if err != nil {
			return err
		}
		a.runners[k] = r
		runners = append(runners, r)
	}

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Autorun.Timezone}, comp("scheduler"))
	a.restorer = autorun.NewRestorer(a.persist, acc, newRestoreLimiter(cfg), a.bus, comp("restore"), runners...)
	a.coord = autorun.NewCoordinator(a.persist, a.sched, comp("shutdown"), runners...)

	adc, err := mapAdminConfig(cfg)
	if err != nil {
		return err
	}
	if adc.Enabled {
		a.admin = admin.New(adc, a, comp("admin"))
	}
	return nil
}

// Runner returns the task runner of kind, or nil.
func (a *App) Runner(kind autorun.Kind) *autorun.Runner { return a.runners[kind] }

func (a *App) Accounts() *accounts.Store { return a.accounts }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) CheckpointStats() autorun.PersisterStats { return a.persist.Stats() }

// LastRestore returns the report of the restore pass run by Start.
func (a *App) LastRestore() autorun.Report { return a.lastRestore }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start resumes checkpointed runs, schedules the autosave and starts the
// background loops. READY is reported to systemd once everything runs.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapAllSettings(cfg)
		return err
	})

	a.startEventLog()
	a.sched.Start(a.sup.Context())

	rep, err := a.restorer.Run(a.sup.Context())
	if err != nil {
		// Stores fail open on unreadable checkpoints; an error here is I/O.
		a.log.Warn("restore failed; starting without resumed runs", logx.Err(err))
	}
	a.lastRestore = rep

	cfg := a.cfgm.Get()
	if err := a.coord.StartAutosave(autosaveSchedule(cfg), autosaveTimeout); err != nil {
		return fmt.Errorf("schedule autosave: %w", err)
	}
	if _, err := a.sched.AddInterval("accounts.prune_modifiers", pruneEvery, autosaveTimeout, a.pruneModifiers); err != nil {
		return fmt.Errorf("schedule modifier pruning: %w", err)
	}

	a.startConfigReload()
	if a.admin != nil {
		// Unlimited restarts: the admin server never fails the app.
		a.sup.GoRestart("admin.http", a.admin.Serve, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithMaxRestarts(10),
	)

	a.notify(sdReady)
	a.log.Info("app started",
		logx.Int("restored", rep.Restored),
		logx.Int("restore_failed", rep.Failed),
		logx.String("autosave", autosaveSchedule(cfg)),
	)
	return nil
}

func (a *App) pruneModifiers(ctx context.Context) error {
	n, err := a.accounts.PruneModifiers(ctx, time.Now())
	if err == nil && n > 0 {
		a.log.Debug("expired modifiers pruned", logx.Int64("count", n))
	}
	return err
}

// startEventLog is the built-in notifier: it logs run stops and restore
// reports.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128, eventbus.TypeRunStopped, eventbus.TypeRestored)
	log := a.log.With(logx.String("comp", "events"))
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				logEvent(log, e)
			}
		}
	})
}

func logEvent(log logx.Logger, e eventbus.Event) {
	switch d := e.Data.(type) {
	case autorun.Summary:
		log.Info("auto-run stopped",
			logx.String("user", d.UserID),
			logx.String("kind", string(d.Kind)),
			logx.String("reason", string(d.Reason)),
			logx.Int64("rolls", d.Run.RollCount),
			logx.Int64("proceeds", d.Run.Proceeds),
			logx.Duration("elapsed", d.Elapsed),
		)
	case autorun.Report:
		log.Info("auto-runs restored",
			logx.Int("restored", d.Restored),
			logx.Int("failed", d.Failed),
			logx.Int("dropped", d.Dropped),
		)
	default:
		log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// Stop shuts the app down. Each step is bounded so one component can't
// stall the whole stop; the checkpoint flush always runs first.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStores()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(sdStopping)

	flushErr := step(ctx, a.log, "checkpoint", 5*time.Second, a.coord.Shutdown)

	a.sup.Cancel()
	step(ctx, a.log, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step(ctx, a.log, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step(ctx, a.log, "storage", time.Second, func(context.Context) error { return a.closeStores() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return flushErr
}

func (a *App) closeStores() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.accounts != nil {
		errs = append(errs, a.accounts.Close())
		a.accounts = nil
	}
	return errors.Join(errs...)
}
