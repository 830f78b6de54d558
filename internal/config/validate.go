package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"autoroll/internal/task/scheduler"
)

// IsEnabled reports whether the kind is enabled. Omitted means enabled.
func (k KindConfig) IsEnabled() bool { return k.Enabled == nil || *k.Enabled }

// Validate checks a decoded config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required"))
		}
	case "memory", "none":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if strings.TrimSpace(cfg.Accounts.Path) == "" {
		add(errors.New("accounts.path is required"))
	}
	if cfg.Accounts.DefaultCapacity < 0 {
		add(errors.New("accounts.default_capacity must be >= 0"))
	}
	_, err = ParseDurationField("accounts.busy_timeout", cfg.Accounts.BusyTimeout)
	add(err)

	a := cfg.Autorun
	if strings.TrimSpace(a.Autosave) != "" {
		if _, err := scheduler.ParseSchedule(a.Autosave); err != nil {
			add(fmt.Errorf("autorun.autosave: %w", err))
		}
	}
	if a.RestoreRate < 0 {
		add(errors.New("autorun.restore_rate must be >= 0"))
	}
	if a.RestoreBurst < 0 {
		add(errors.New("autorun.restore_burst must be >= 0"))
	}
	if tz := strings.TrimSpace(a.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("autorun.timezone: %w", err))
		}
	}
	add(validateKind("autorun.standard", a.Standard))
	add(validateKind("autorun.event", a.Event))

	if len(cfg.Roll.Tiers) == 0 {
		add(errors.New("roll.tiers: at least one tier is required"))
	}
	for i, t := range cfg.Roll.Tiers {
		if strings.TrimSpace(t.Rarity) == "" || t.Weight <= 0 || len(t.Items) == 0 {
			add(fmt.Errorf("roll.tiers[%d]: rarity, weight > 0 and items are required", i))
		}
	}
	for i, v := range cfg.Roll.Variants {
		if strings.TrimSpace(v.Name) == "" || v.Chance < 0 || v.Chance > 1 {
			add(fmt.Errorf("roll.variants[%d]: name and chance in [0,1] are required", i))
		}
	}
	if cfg.Roll.GuaranteeEvery < 0 {
		add(errors.New("roll.guarantee_every must be >= 0"))
	}

	if ad := cfg.Admin; ad.Enabled {
		_, err = ParseDurationField("admin.read_timeout", ad.ReadTimeout)
		add(err)
		_, err = ParseDurationField("admin.write_timeout", ad.WriteTimeout)
		add(err)
		if addr := strings.TrimSpace(ad.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("admin.addr: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func validateKind(path string, k KindConfig) error {
	var errs []error
	if k.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%s.batch_size must be > 0", path))
	}
	base, err := ParseDurationField(path+".base_delay", k.BaseDelay)
	if err != nil {
		errs = append(errs, err)
	} else if base <= 0 {
		errs = append(errs, fmt.Errorf("%s.base_delay must be > 0", path))
	}
	for _, f := range []struct{ name, raw string }{
		{"reduced_delay", k.ReducedDelay},
		{"min_delay", k.MinDelay},
	} {
		if _, err := ParseDurationField(path+"."+f.name, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if k.SpeedFactor < 0 {
		errs = append(errs, fmt.Errorf("%s.speed_factor must be >= 0", path))
	}

	start, err1 := ParseTimeField(path+".window_start", k.WindowStart)
	end, err2 := ParseTimeField(path+".window_end", k.WindowEnd)
	errs = append(errs, err1, err2)
	if err1 == nil && err2 == nil && !start.IsZero() && !end.IsZero() && !end.After(start) {
		errs = append(errs, fmt.Errorf("%s.window_end must be after window_start", path))
	}

	if k.MinLevel < 0 {
		errs = append(errs, fmt.Errorf("%s.min_level must be >= 0", path))
	}
	if k.MinCurrency < 0 {
		errs = append(errs, fmt.Errorf("%s.min_currency must be >= 0", path))
	}
	if k.MinCurrency > 0 && strings.TrimSpace(k.Currency) == "" {
		errs = append(errs, fmt.Errorf("%s.currency is required with min_currency", path))
	}
	for r, p := range k.Prices {
		if p < 0 {
			errs = append(errs, fmt.Errorf("%s.prices.%s must be >= 0", path, r))
		}
	}
	for v, m := range k.VariantMultipliers {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("%s.variant_multipliers.%s must be > 0", path, v))
		}
	}
	return errors.Join(errs...)
}
