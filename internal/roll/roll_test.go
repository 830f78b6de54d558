package roll

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOrder = NewRarityOrder([]string{"common", "uncommon", "rare", "epic", "legendary"})

func TestRarityOrderCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Outcome
		want int // sign only
	}{
		{name: "higher rarity wins", a: Outcome{ItemID: "x", Rarity: "epic"}, b: Outcome{ItemID: "y", Rarity: "rare"}, want: 1},
		{name: "lower rarity loses", a: Outcome{ItemID: "x", Rarity: "common"}, b: Outcome{ItemID: "y", Rarity: "rare"}, want: -1},
		{name: "variant breaks tie", a: Outcome{ItemID: "x", Rarity: "rare", Variant: "shiny"}, b: Outcome{ItemID: "y", Rarity: "rare"}, want: 1},
		{name: "equal", a: Outcome{ItemID: "x", Rarity: "rare"}, b: Outcome{ItemID: "y", Rarity: "RARE"}, want: 0},
		{name: "unknown ranks lowest", a: Outcome{ItemID: "x", Rarity: "mystery"}, b: Outcome{ItemID: "y", Rarity: "common"}, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testOrder.Compare(tt.a, tt.b)
			switch {
			case tt.want > 0:
				assert.Positive(t, got)
			case tt.want < 0:
				assert.Negative(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestBestKeepsFirstOnTie(t *testing.T) {
	outs := []Outcome{
		{ItemID: "a", Rarity: "rare"},
		{ItemID: "b", Rarity: "epic"},
		{ItemID: "c", Rarity: "epic"},
	}
	best := Best(testOrder, outs)
	require.NotNil(t, best)
	assert.Equal(t, "b", best.ItemID)
	assert.Nil(t, Best(testOrder, nil))
}

type recordingGranter struct {
	items map[string]int64
	err   error
}

func (g *recordingGranter) Grant(_ context.Context, _ string, items map[string]int64) error {
	if g.err != nil {
		return g.err
	}
	if g.items == nil {
		g.items = map[string]int64{}
	}
	for k, v := range items {
		g.items[k] += v
	}
	return nil
}

func testTable() TableConfig {
	return TableConfig{
		Tiers: []Tier{
			{Rarity: "common", Weight: 900, Items: []string{"pebble", "stick"}},
			{Rarity: "rare", Weight: 90, Items: []string{"gem"}},
			{Rarity: "legendary", Weight: 10, Items: []string{"crown"}},
		},
		GuaranteeEvery:  10,
		GuaranteeRarity: "rare",
	}
}

func TestTableEngineGuaranteedSlots(t *testing.T) {
	g := &recordingGranter{}
	eng, err := NewTableEngine(testTable(), g, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	b, err := eng.PerformBatch(context.Background(), "u1", 25)
	require.NoError(t, err)
	require.Len(t, b.Outcomes, 25)
	assert.Equal(t, 2, b.GuaranteedSlotsUsed)

	// The last two slots are guaranteed rare or better.
	for _, o := range b.Outcomes[23:] {
		assert.GreaterOrEqual(t, eng.Order().Rank(o.Rarity), eng.Order().Rank("rare"), "slot %+v", o)
	}
	require.NotNil(t, b.Best)
	assert.GreaterOrEqual(t, eng.Order().Rank(b.Best.Rarity), eng.Order().Rank("rare"))

	var granted int64
	for _, n := range g.items {
		granted += n
	}
	assert.Equal(t, int64(25), granted)
}

func TestTableEngineGrantFailure(t *testing.T) {
	g := &recordingGranter{err: errors.New("db locked")}
	eng, err := NewTableEngine(testTable(), g, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = eng.PerformBatch(context.Background(), "u1", 5)
	require.Error(t, err)
	assert.ErrorContains(t, err, "db locked")
}

func TestNewTableEngineValidation(t *testing.T) {
	_, err := NewTableEngine(TableConfig{}, nil, nil)
	require.Error(t, err)

	cfg := testTable()
	cfg.GuaranteeRarity = "mythic"
	_, err = NewTableEngine(cfg, nil, nil)
	require.Error(t, err)

	eng, err := NewTableEngine(testTable(), nil, nil)
	require.NoError(t, err)
	_, err = eng.PerformBatch(context.Background(), "u1", 0)
	require.Error(t, err)
}
