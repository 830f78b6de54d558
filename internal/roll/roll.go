// Package roll defines roll outcomes, their ordering, and the RollEngine port.
//
// The auto-run scheduler never decides what an outcome is. It calls an Engine
// for a batch and compares outcomes through an injected Ranker.
package roll

import (
	"context"
	"strings"
)

// Outcome is a single rolled unit.
type Outcome struct {
	ItemID  string `json:"item_id"`
	Rarity  string `json:"rarity"`
	Variant string `json:"variant,omitempty"`
}

func (o Outcome) Valid() bool {
	return strings.TrimSpace(o.ItemID) != "" && strings.TrimSpace(o.Rarity) != ""
}

// Batch is the result of one Engine.PerformBatch call.
type Batch struct {
	Outcomes            []Outcome
	Best                *Outcome
	GuaranteedSlotsUsed int
}

// Engine produces outcomes for a fixed-size batch.
// A failed batch is not retried by callers.
type Engine interface {
	PerformBatch(ctx context.Context, userID string, size int) (Batch, error)
}

// Ranker is a total order over outcomes. Compare returns >0 when a outranks b.
type Ranker interface {
	Compare(a, b Outcome) int
}

// Best returns the highest-ranked outcome in outs. Ties keep the earlier one.
func Best(r Ranker, outs []Outcome) *Outcome {
	var best *Outcome
	for i := range outs {
		if best == nil || r.Compare(outs[i], *best) > 0 {
			o := outs[i]
			best = &o
		}
	}
	return best
}

// RarityOrder ranks outcomes by rarity (ascending list), then by variant
// presence. Unknown rarities rank below every known one.
type RarityOrder struct {
	rank map[string]int
}

func NewRarityOrder(ascending []string) RarityOrder {
	m := make(map[string]int, len(ascending))
	for i, r := range ascending {
		m[normalize(r)] = i
	}
	return RarityOrder{rank: m}
}

// Rank returns the position of rarity in the order, or -1 if unknown.
func (o RarityOrder) Rank(rarity string) int {
	if r, ok := o.rank[normalize(rarity)]; ok {
		return r
	}
	return -1
}

func (o RarityOrder) Compare(a, b Outcome) int {
	ra, rb := o.Rank(a.Rarity), o.Rank(b.Rarity)
	if ra != rb {
		return ra - rb
	}
	va, vb := a.Variant != "", b.Variant != ""
	switch {
	case va && !vb:
		return 1
	case !va && vb:
		return -1
	}
	return 0
}

// RaritySet is a case-insensitive membership set (notable, protected).
type RaritySet map[string]struct{}

func NewRaritySet(rarities []string) RaritySet {
	s := make(RaritySet, len(rarities))
	for _, r := range rarities {
		if n := normalize(r); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s RaritySet) Has(rarity string) bool {
	_, ok := s[normalize(rarity)]
	return ok
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
