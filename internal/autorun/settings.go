package autorun

import (
	"strings"
	"sync/atomic"
	"time"

	"autoroll/internal/roll"
	"autoroll/internal/storage"
)

type Kind = storage.Kind

const (
	KindStandard = storage.KindStandard
	KindEvent    = storage.KindEvent
)

const (
	DefaultSpeedFactor = 2.0
	DefaultCurrency    = "coins"

	// minTickDelay bounds the delay when no floor is configured.
	minTickDelay = 100 * time.Millisecond
)

// KindSettings is the configuration of one task kind.
type KindSettings struct {
	Enabled     bool
	WindowStart time.Time // zero: no lower bound
	WindowEnd   time.Time // zero: no upper bound

	BatchSize    int
	BaseDelay    time.Duration
	ReducedDelay time.Duration // replaces BaseDelay under a cooldown modifier; 0 keeps BaseDelay
	MinDelay     time.Duration
	SpeedFactor  float64 // used by speed modifiers without a factor

	// ModifierSources restricts which modifier sources apply. Empty means all.
	ModifierSources []string

	MinLevel         int
	MinCurrency      int64
	Currency         string
	PrerequisiteItem string

	Notable   roll.RaritySet
	Protected roll.RaritySet

	Prices             map[string]int64
	VariantMultipliers map[string]float64
}

// ActiveAt reports whether the kind accepts runs at now.
func (s KindSettings) ActiveAt(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if !s.WindowStart.IsZero() && now.Before(s.WindowStart) {
		return false
	}
	if !s.WindowEnd.IsZero() && !now.Before(s.WindowEnd) {
		return false
	}
	return true
}

// Ended reports whether the kind's window closed at or before now.
func (s KindSettings) Ended(now time.Time) bool {
	return !s.WindowEnd.IsZero() && !now.Before(s.WindowEnd)
}

func (s KindSettings) allowsSource(src string) bool {
	if len(s.ModifierSources) == 0 {
		return true
	}
	for _, a := range s.ModifierSources {
		if strings.EqualFold(a, src) {
			return true
		}
	}
	return false
}

func (s KindSettings) currency() string {
	if c := strings.TrimSpace(s.Currency); c != "" {
		return c
	}
	return DefaultCurrency
}

func (s KindSettings) price(rarity string) int64 {
	if p, ok := s.Prices[rarity]; ok {
		return p
	}
	for k, p := range s.Prices {
		if strings.EqualFold(k, rarity) {
			return p
		}
	}
	return 0
}

func (s KindSettings) multiplier(variant string) float64 {
	if m, ok := s.VariantMultipliers[variant]; ok {
		return m
	}
	for k, m := range s.VariantMultipliers {
		if strings.EqualFold(k, variant) {
			return m
		}
	}
	return 1
}

// Settings holds the live KindSettings of one kind. Store swaps them
// atomically; readers pick the new value on their next Load.
type Settings struct {
	v atomic.Pointer[KindSettings]
}

func NewSettings(ks KindSettings) *Settings {
	s := &Settings{}
	s.Store(ks)
	return s
}

func (s *Settings) Load() KindSettings {
	if p := s.v.Load(); p != nil {
		return *p
	}
	return KindSettings{}
}

func (s *Settings) Store(ks KindSettings) { s.v.Store(&ks) }
