package roll

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Tier is one rarity bucket in a weighted table. Tiers are listed from the
// most common to the rarest; that order is also the rarity order.
type Tier struct {
	Rarity string
	Weight int
	Items  []string
}

type Variant struct {
	Name   string
	Chance float64 // 0..1
}

type TableConfig struct {
	Tiers    []Tier
	Variants []Variant

	// Every GuaranteeEvery units of a batch, one slot is rolled only from
	// tiers at or above GuaranteeRarity. 0 disables guaranteed slots.
	GuaranteeEvery  int
	GuaranteeRarity string
}

// Granter credits rolled items to the user's inventory.
type Granter interface {
	Grant(ctx context.Context, userID string, items map[string]int64) error
}

// TableEngine is a reference Engine backed by a weighted rarity table.
type TableEngine struct {
	cfg     TableConfig
	order   RarityOrder
	granter Granter

	mu  sync.Mutex
	rng *rand.Rand
}

func NewTableEngine(cfg TableConfig, granter Granter, rng *rand.Rand) (*TableEngine, error) {
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("roll table: at least one tier is required")
	}
	rarities := make([]string, 0, len(cfg.Tiers))
	for i, t := range cfg.Tiers {
		if strings.TrimSpace(t.Rarity) == "" {
			return nil, fmt.Errorf("roll table: tier %d: rarity required", i)
		}
		if t.Weight <= 0 {
			return nil, fmt.Errorf("roll table: tier %q: weight must be > 0", t.Rarity)
		}
		if len(t.Items) == 0 {
			return nil, fmt.Errorf("roll table: tier %q: items required", t.Rarity)
		}
		rarities = append(rarities, t.Rarity)
	}
	order := NewRarityOrder(rarities)
	if cfg.GuaranteeEvery > 0 && order.Rank(cfg.GuaranteeRarity) < 0 {
		return nil, fmt.Errorf("roll table: unknown guarantee rarity %q", cfg.GuaranteeRarity)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &TableEngine{cfg: cfg, order: order, granter: granter, rng: rng}, nil
}

// Order exposes the rarity order implied by the table.
func (e *TableEngine) Order() RarityOrder { return e.order }

func (e *TableEngine) PerformBatch(ctx context.Context, userID string, size int) (Batch, error) {
	if size <= 0 {
		return Batch{}, fmt.Errorf("batch size must be > 0, got %d", size)
	}
	guaranteed := 0
	if e.cfg.GuaranteeEvery > 0 {
		guaranteed = size / e.cfg.GuaranteeEvery
	}
	floor := e.order.Rank(e.cfg.GuaranteeRarity)

	outs := make([]Outcome, 0, size)
	e.mu.Lock()
	for i := 0; i < size; i++ {
		minRank := 0
		if i >= size-guaranteed {
			minRank = floor
		}
		outs = append(outs, e.rollLocked(minRank))
	}
	e.mu.Unlock()

	if e.granter != nil {
		items := make(map[string]int64, len(outs))
		for _, o := range outs {
			items[o.ItemID]++
		}
		if err := e.granter.Grant(ctx, userID, items); err != nil {
			return Batch{}, fmt.Errorf("grant batch: %w", err)
		}
	}
	return Batch{Outcomes: outs, Best: Best(e.order, outs), GuaranteedSlotsUsed: guaranteed}, nil
}

func (e *TableEngine) rollLocked(minRank int) Outcome {
	total := 0
	for i, t := range e.cfg.Tiers {
		if i >= minRank {
			total += t.Weight
		}
	}
	pick := e.rng.Intn(total)
	tier := e.cfg.Tiers[len(e.cfg.Tiers)-1]
	for i, t := range e.cfg.Tiers {
		if i < minRank {
			continue
		}
		if pick < t.Weight {
			tier = t
			break
		}
		pick -= t.Weight
	}
	o := Outcome{ItemID: tier.Items[e.rng.Intn(len(tier.Items))], Rarity: tier.Rarity}
	for _, v := range e.cfg.Variants {
		if v.Chance > 0 && e.rng.Float64() < v.Chance {
			o.Variant = v.Name
			break
		}
	}
	return o
}
