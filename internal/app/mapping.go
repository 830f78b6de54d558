package app

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"autoroll/internal/accounts"
	"autoroll/internal/autorun"
	"autoroll/internal/config"
	"autoroll/internal/observability/admin"
	"autoroll/internal/roll"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

const (
	defaultAutosave    = "30s"
	autosaveTimeout    = 10 * time.Second
	pruneEvery         = time.Hour
	defaultBusyTimeout = time.Second
)

// StorageConfig maps the storage section to a checkpoint store config.
func StorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{}, fmt.Errorf("config is nil")
	}
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapAccountsConfig(cfg *config.Config) (accounts.Config, error) {
	ac := cfg.Accounts
	busy, err := config.ParseDurationOrDefault("accounts.busy_timeout", ac.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return accounts.Config{}, err
	}
	return accounts.Config{
		Path:            strings.TrimSpace(ac.Path),
		BusyTimeout:     busy,
		DefaultCapacity: ac.DefaultCapacity,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTableConfig(rc config.RollConfig) roll.TableConfig {
	tc := roll.TableConfig{
		GuaranteeEvery:  rc.GuaranteeEvery,
		GuaranteeRarity: rc.GuaranteeRarity,
	}
	for _, t := range rc.Tiers {
		tc.Tiers = append(tc.Tiers, roll.Tier{Rarity: t.Rarity, Weight: t.Weight, Items: append([]string(nil), t.Items...)})
	}
	for _, v := range rc.Variants {
		tc.Variants = append(tc.Variants, roll.Variant{Name: v.Name, Chance: v.Chance})
	}
	return tc
}

// newRand returns nil for seed 0 so the engine seeds from the clock.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

func mapKindSettings(path string, kc config.KindConfig) (autorun.KindSettings, error) {
	base, err := config.ParseDurationField(path+".base_delay", kc.BaseDelay)
	if err != nil {
		return autorun.KindSettings{}, err
	}
	reduced, err := config.ParseDurationField(path+".reduced_delay", kc.ReducedDelay)
	if err != nil {
		return autorun.KindSettings{}, err
	}
	floor, err := config.ParseDurationField(path+".min_delay", kc.MinDelay)
	if err != nil {
		return autorun.KindSettings{}, err
	}
	start, err := config.ParseTimeField(path+".window_start", kc.WindowStart)
	if err != nil {
		return autorun.KindSettings{}, err
	}
	end, err := config.ParseTimeField(path+".window_end", kc.WindowEnd)
	if err != nil {
		return autorun.KindSettings{}, err
	}

	ks := autorun.KindSettings{
		Enabled:          kc.IsEnabled(),
		WindowStart:      start,
		WindowEnd:        end,
		BatchSize:        kc.BatchSize,
		BaseDelay:        base,
		ReducedDelay:     reduced,
		MinDelay:         floor,
		SpeedFactor:      kc.SpeedFactor,
		ModifierSources:  append([]string(nil), kc.ModifierSources...),
		MinLevel:         kc.MinLevel,
		MinCurrency:      kc.MinCurrency,
		Currency:         kc.Currency,
		PrerequisiteItem: strings.TrimSpace(kc.PrerequisiteItem),
		Notable:          roll.NewRaritySet(kc.NotableRarities),
		Protected:        roll.NewRaritySet(kc.ProtectedRarities),
	}
	if len(kc.Prices) > 0 {
		ks.Prices = make(map[string]int64, len(kc.Prices))
		for k, v := range kc.Prices {
			ks.Prices[k] = v
		}
	}
	if len(kc.VariantMultipliers) > 0 {
		ks.VariantMultipliers = make(map[string]float64, len(kc.VariantMultipliers))
		for k, v := range kc.VariantMultipliers {
			ks.VariantMultipliers[k] = v
		}
	}
	return ks, nil
}

// mapAllSettings maps both kinds or neither.
func mapAllSettings(cfg *config.Config) (map[autorun.Kind]autorun.KindSettings, error) {
	std, err := mapKindSettings("autorun.standard", cfg.Autorun.Standard)
	if err != nil {
		return nil, err
	}
	ev, err := mapKindSettings("autorun.event", cfg.Autorun.Event)
	if err != nil {
		return nil, err
	}
	return map[autorun.Kind]autorun.KindSettings{
		autorun.KindStandard: std,
		autorun.KindEvent:    ev,
	}, nil
}

func autosaveSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Autorun.Autosave); s != "" {
		return s
	}
	return defaultAutosave
}

// newRestoreLimiter returns nil (unpaced) when no rate is configured.
func newRestoreLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Autorun.RestoreRate <= 0 {
		return nil
	}
	burst := cfg.Autorun.RestoreBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.Autorun.RestoreRate), burst)
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ad := cfg.Admin
	rt, err := config.ParseDurationOrDefault("admin.read_timeout", ad.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	// profile and trace stream for up to their "seconds" parameter.
	wt, err := config.ParseDurationOrDefault("admin.write_timeout", ad.WriteTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       ad.Enabled,
		Addr:          strings.TrimSpace(ad.Addr),
		Token:         strings.TrimSpace(ad.Token),
		AllowInsecure: ad.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}
