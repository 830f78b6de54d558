package autorun

import (
	"context"
	"time"

	"autoroll/internal/accounts"
)

// Accounts is the read side of the account store plus the liquidation write.
type Accounts interface {
	Level(ctx context.Context, userID string) (int, error)
	Balance(ctx context.Context, userID, currency string) (int64, error)
	ItemCount(ctx context.Context, userID, itemID string) (int64, error)
	// InventoryUsage returns held units and capacity; capacity 0 is unlimited.
	InventoryUsage(ctx context.Context, userID string) (used, capacity int64, err error)
	Liquidator
}

type Liquidator interface {
	Liquidate(ctx context.Context, userID string, l accounts.Liquidation) error
}

// Modifiers returns a user's modifiers that are active at now.
type Modifiers interface {
	ActiveModifiers(ctx context.Context, userID string, now time.Time) ([]accounts.Modifier, error)
}

// DelayPolicy computes the delay before a user's next tick.
type DelayPolicy interface {
	ComputeDelay(ctx context.Context, userID string, kind Kind) time.Duration
}

// BatchRunner executes one batch for a user.
type BatchRunner interface {
	RunBatch(ctx context.Context, userID string, kind Kind, batchSize int, autoSell bool) (BatchResult, error)
}

// Timer is the handle of a scheduled tick.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via wallClock.
type AfterFunc func(d time.Duration, f func()) Timer

func wallClock(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
