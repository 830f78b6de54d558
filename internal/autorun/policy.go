package autorun

import (
	"context"
	"time"

	"autoroll/internal/accounts"
	logx "autoroll/pkg/logx"
)

// Policy is the Interval Policy.
//
// The delay starts at the kind's base delay. An active cooldown modifier
// swaps in the reduced delay; each active speed modifier divides by its
// factor. The result never drops below the kind's floor.
type Policy struct {
	mods     Modifiers
	settings map[Kind]*Settings
	log      logx.Logger
	now      func() time.Time
}

func NewPolicy(mods Modifiers, settings map[Kind]*Settings, log logx.Logger) *Policy {
	return &Policy{mods: mods, settings: settings, log: log, now: time.Now}
}

func (p *Policy) ComputeDelay(ctx context.Context, userID string, kind Kind) time.Duration {
	var ks KindSettings
	if s := p.settings[kind]; s != nil {
		ks = s.Load()
	}
	var mods []accounts.Modifier
	if p.mods != nil {
		var err error
		mods, err = p.mods.ActiveModifiers(ctx, userID, p.now())
		if err != nil {
			p.log.Warn("modifier lookup failed; using base delay",
				logx.String("user", userID), logx.String("kind", string(kind)), logx.Err(err))
			mods = nil
		}
	}
	return delayFor(ks, mods, p.now())
}

func delayFor(ks KindSettings, mods []accounts.Modifier, now time.Time) time.Duration {
	base := ks.BaseDelay
	factor := 1.0
	for _, m := range mods {
		if !m.ActiveAt(now) || !ks.allowsSource(m.Source) {
			continue
		}
		switch m.Type {
		case accounts.ModifierCooldown:
			if ks.ReducedDelay > 0 {
				base = ks.ReducedDelay
			}
		case accounts.ModifierSpeed:
			f := m.Factor
			if f <= 0 {
				f = ks.SpeedFactor
			}
			if f <= 0 {
				f = DefaultSpeedFactor
			}
			factor *= f
		}
	}

	d := time.Duration(float64(base) / factor)
	floor := ks.MinDelay
	if floor <= 0 {
		floor = minTickDelay
	}
	return max(d, floor)
}
