package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"autoroll/internal/config"
	"autoroll/internal/task/scheduler"
	logx "autoroll/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

// step runs fn with an upper bound. It never extends the caller's deadline.
// A step that misses its deadline keeps running in the background and its
// late result is only logged.
func step(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		log.Warn("stop step skipped; no time left", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
		return stepCtx.Err()
	}
}

// startConfigReload applies hot-reloaded configs. Storage, accounts and the
// roll table are read once at New and need a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, restart, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart",
			logx.String("sections", strings.Join(restart, ",")))
	}
	if len(changed) == 0 {
		a.log.Info("config reloaded (no live changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if all, err := mapAllSettings(newCfg); err != nil {
		a.log.Warn("invalid autorun config; keeping previous", logx.Err(err))
	} else {
		for k, ks := range all {
			a.settings[k].Store(ks)
		}
	}

	a.sched.Apply(scheduler.Config{Timezone: newCfg.Autorun.Timezone})
	if autosaveSchedule(oldCfg) != autosaveSchedule(newCfg) {
		if err := a.coord.StartAutosave(autosaveSchedule(newCfg), autosaveTimeout); err != nil {
			a.log.Warn("autosave reschedule failed; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

