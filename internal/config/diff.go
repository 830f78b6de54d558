package config

import (
	"reflect"

	logx "autoroll/pkg/logx"
)

// SummarizeConfigChange returns the sections that differ and a few safe
// attrs describing the new values. Sections that need a restart (storage,
// accounts, roll) are reported in the second slice.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Autorun.Standard, newCfg.Autorun.Standard) {
		changed = append(changed, "autorun.standard")
		attrs = append(attrs,
			logx.Bool("standard.enabled", newCfg.Autorun.Standard.IsEnabled()),
			logx.String("standard.base_delay", newCfg.Autorun.Standard.BaseDelay),
			logx.Int("standard.batch_size", newCfg.Autorun.Standard.BatchSize),
		)
	}
	if !reflect.DeepEqual(oldCfg.Autorun.Event, newCfg.Autorun.Event) {
		changed = append(changed, "autorun.event")
		attrs = append(attrs,
			logx.Bool("event.enabled", newCfg.Autorun.Event.IsEnabled()),
			logx.String("event.window_end", newCfg.Autorun.Event.WindowEnd),
			logx.Int("event.batch_size", newCfg.Autorun.Event.BatchSize),
		)
	}
	if oldCfg.Autorun.Autosave != newCfg.Autorun.Autosave ||
		oldCfg.Autorun.Timezone != newCfg.Autorun.Timezone {
		changed = append(changed, "autorun.autosave")
		attrs = append(attrs, logx.String("autorun.autosave", newCfg.Autorun.Autosave))
	}
	if oldCfg.Autorun.RestoreRate != newCfg.Autorun.RestoreRate ||
		oldCfg.Autorun.RestoreBurst != newCfg.Autorun.RestoreBurst {
		restart = append(restart, "autorun.restore")
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		restart = append(restart, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		restart = append(restart, "admin")
	}
	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		restart = append(restart, "accounts")
	}
	if !reflect.DeepEqual(oldCfg.Roll, newCfg.Roll) {
		restart = append(restart, "roll")
	}
	return changed, restart, attrs
}
