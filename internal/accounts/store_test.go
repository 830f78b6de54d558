package accounts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "autoroll/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:            filepath.Join(t.TempDir(), "accounts.db"),
		BusyTimeout:     time.Second,
		DefaultCapacity: 10,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMissingAccount(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.Level(ctx, "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = s.Balance(ctx, "ghost", "gold")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, _, err = s.InventoryUsage(ctx, "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, s.Grant(ctx, "ghost", map[string]int64{"a": 1}), ErrAccountNotFound)
	assert.ErrorIs(t, s.SetLevel(ctx, "ghost", 3), ErrAccountNotFound)
}

func TestGrantAndUsage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureAccount(ctx, "u1", 5))
	require.NoError(t, s.EnsureAccount(ctx, "u1", 1), "ensure is idempotent")

	lvl, err := s.Level(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, lvl)

	require.NoError(t, s.Grant(ctx, "u1", map[string]int64{"pebble": 3, "gem": 1}))
	require.NoError(t, s.Grant(ctx, "u1", map[string]int64{"pebble": 2}))
	n, err := s.ItemCount(ctx, "u1", "pebble")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	used, capacity, err := s.InventoryUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), used)
	assert.Equal(t, int64(10), capacity, "default capacity")

	require.NoError(t, s.SetCapacity(ctx, "u1", 3))
	_, capacity, err = s.InventoryUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), capacity)
}

func TestLiquidateIsAtomic(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureAccount(ctx, "u1", 1))
	require.NoError(t, s.Grant(ctx, "u1", map[string]int64{"pebble": 4, "gem": 1}))

	err := s.Liquidate(ctx, "u1", Liquidation{
		Items:    map[string]int64{"pebble": 2, "gem": 5},
		Currency: "gold",
		Amount:   100,
	})
	require.ErrorIs(t, err, ErrInsufficientItems)
	n, _ := s.ItemCount(ctx, "u1", "pebble")
	assert.Equal(t, int64(4), n, "rolled back")
	bal, _ := s.Balance(ctx, "u1", "gold")
	assert.Zero(t, bal)

	require.NoError(t, s.Liquidate(ctx, "u1", Liquidation{
		Items:    map[string]int64{"pebble": 4, "gem": 1},
		Currency: "gold",
		Amount:   60,
	}))
	inv, err := s.Inventory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, inv)
	bal, err = s.Balance(ctx, "u1", "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)
}

func TestActiveModifiers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.EnsureAccount(ctx, "u1", 1))
	require.NoError(t, s.AddModifier(ctx, "u1", Modifier{Type: ModifierSpeed, Source: "potion", Factor: 2, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.AddModifier(ctx, "u1", Modifier{Type: ModifierCooldown, Source: "perk"}))
	require.NoError(t, s.AddModifier(ctx, "u1", Modifier{Type: ModifierSpeed, Source: "old", Factor: 3, ExpiresAt: now.Add(-time.Minute)}))

	mods, err := s.ActiveModifiers(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, ModifierSpeed, mods[0].Type)
	assert.Equal(t, 2.0, mods[0].Factor)
	assert.True(t, mods[1].ExpiresAt.IsZero())

	pruned, err := s.PruneModifiers(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
