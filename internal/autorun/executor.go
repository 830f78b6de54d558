package autorun

import (
	"context"
	"fmt"
	"math"
	"strings"

	"autoroll/internal/accounts"
	"autoroll/internal/roll"
	logx "autoroll/pkg/logx"
)

// BatchResult is what one batch contributes to a Run State.
type BatchResult struct {
	Outcomes []roll.Outcome
	Best     *roll.Outcome

	NotableCount int
	FirstNotable int // index into Outcomes, -1 when none

	Proceeds  int64
	SoldUnits int64

	GuaranteedSlotsUsed int
}

// Executor is the Batch Executor. It runs the roll engine and, with
// auto-sell on, liquidates the batch through the account store.
type Executor struct {
	engine   roll.Engine
	liq      Liquidator
	ranker   roll.Ranker
	settings map[Kind]*Settings
	log      logx.Logger
}

func NewExecutor(engine roll.Engine, liq Liquidator, ranker roll.Ranker, settings map[Kind]*Settings, log logx.Logger) *Executor {
	return &Executor{engine: engine, liq: liq, ranker: ranker, settings: settings, log: log}
}

// RunBatch performs one batch. Engine and liquidation errors are returned
// unchanged in meaning; the caller treats them as fatal for the run.
func (x *Executor) RunBatch(ctx context.Context, userID string, kind Kind, batchSize int, autoSell bool) (BatchResult, error) {
	var ks KindSettings
	if s := x.settings[kind]; s != nil {
		ks = s.Load()
	}

	b, err := x.engine.PerformBatch(ctx, userID, batchSize)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{
		Outcomes:            b.Outcomes,
		Best:                roll.Best(x.ranker, b.Outcomes),
		FirstNotable:        -1,
		GuaranteedSlotsUsed: b.GuaranteedSlotsUsed,
	}
	for i, o := range b.Outcomes {
		if ks.Notable.Has(o.Rarity) {
			if res.NotableCount == 0 {
				res.FirstNotable = i
			}
			res.NotableCount++
		}
	}

	if !autoSell {
		return res, nil
	}
	liq := planLiquidation(b.Outcomes, ks)
	if liq.Empty() {
		return res, nil
	}
	if err := x.liq.Liquidate(ctx, userID, liq); err != nil {
		return BatchResult{}, fmt.Errorf("liquidate: %w", err)
	}
	res.Proceeds = liq.Amount
	for _, n := range liq.Items {
		res.SoldUnits += n
	}
	x.log.Debug("batch liquidated",
		logx.String("user", userID),
		logx.String("kind", string(kind)),
		logx.Int64("units", res.SoldUnits),
		logx.Int64("proceeds", res.Proceeds),
	)
	return res, nil
}

// planLiquidation prices every sellable outcome. Protected rarities and
// rarities without a price are kept. A unit is worth its rarity price times
// the multiplier of each of its variants, rounded to the nearest integer.
func planLiquidation(outs []roll.Outcome, ks KindSettings) accounts.Liquidation {
	l := accounts.Liquidation{Items: map[string]int64{}, Currency: ks.currency()}
	for _, o := range outs {
		if ks.Protected.Has(o.Rarity) {
			continue
		}
		price := ks.price(o.Rarity)
		if price <= 0 {
			continue
		}
		mult := 1.0
		for _, v := range splitVariants(o.Variant) {
			mult *= ks.multiplier(v)
		}
		l.Items[o.ItemID]++
		l.Amount += int64(math.Round(float64(price) * mult))
	}
	if len(l.Items) == 0 {
		l.Items = nil
	}
	return l
}

func splitVariants(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == '+' || r == ',' })
}
