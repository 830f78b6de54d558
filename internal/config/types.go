package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Accounts AccountsConfig `json:"accounts"`
	Autorun  AutorunConfig  `json:"autorun"`
	Roll     RollConfig     `json:"roll"`
	Admin    AdminConfig    `json:"admin"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the checkpoint driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/checkpoints.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AccountsConfig configures the bundled account/inventory store.
type AccountsConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// DefaultCapacity applies to accounts without their own capacity.
	DefaultCapacity int64 `json:"default_capacity,omitempty"`
}

// AutorunConfig controls the scheduler.
//
// Autosave accepts anything scheduler.ParseSchedule does ("30s", "00:01",
// "@every 1m", "*/5 * * * *"). RestoreRate is resumes per second; 0 means
// unpaced.
type AutorunConfig struct {
	Autosave     string  `json:"autosave,omitempty"`
	RestoreRate  float64 `json:"restore_rate,omitempty"`
	RestoreBurst int     `json:"restore_burst,omitempty"`
	Timezone     string  `json:"timezone,omitempty"`

	Standard KindConfig `json:"standard"`
	Event    KindConfig `json:"event"`
}

// KindConfig holds the settings for one task kind.
//
// Durations are Go duration strings; window bounds are RFC 3339 timestamps.
// Enabled is a pointer so an omitted value can default to true.
type KindConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`

	BatchSize    int     `json:"batch_size"`
	BaseDelay    string  `json:"base_delay"`
	ReducedDelay string  `json:"reduced_delay,omitempty"`
	MinDelay     string  `json:"min_delay,omitempty"`
	SpeedFactor  float64 `json:"speed_factor,omitempty"`

	// ModifierSources limits which modifier sources apply. Empty means all.
	ModifierSources []string `json:"modifier_sources,omitempty"`

	MinLevel         int    `json:"min_level,omitempty"`
	MinCurrency      int64  `json:"min_currency,omitempty"`
	Currency         string `json:"currency,omitempty"`
	PrerequisiteItem string `json:"prerequisite_item,omitempty"`

	NotableRarities   []string `json:"notable_rarities,omitempty"`
	ProtectedRarities []string `json:"protected_rarities,omitempty"`

	// Liquidation pricing: unit price per rarity, multiplier per variant.
	Prices             map[string]int64   `json:"prices,omitempty"`
	VariantMultipliers map[string]float64 `json:"variant_multipliers,omitempty"`
}

// RollConfig configures the bundled weighted-table roll engine. Tiers go from
// the most common to the rarest; that order also ranks outcomes.
type RollConfig struct {
	Seed            int64         `json:"seed,omitempty"`
	Tiers           []RollTier    `json:"tiers"`
	Variants        []RollVariant `json:"variants,omitempty"`
	GuaranteeEvery  int           `json:"guarantee_every,omitempty"`
	GuaranteeRarity string        `json:"guarantee_rarity,omitempty"`
}

type RollTier struct {
	Rarity string   `json:"rarity"`
	Weight int      `json:"weight"`
	Items  []string `json:"items"`
}

type RollVariant struct {
	Name   string  `json:"name"`
	Chance float64 `json:"chance"`
}

// AdminConfig controls the optional admin HTTP server (status + pprof).
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
