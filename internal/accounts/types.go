// Package accounts is the bundled account, inventory and modifier store.
//
// The scheduler only reads levels, balances and inventory through it and
// writes through two transactional paths: Grant (rolled items) and Liquidate
// (auto-sell).
package accounts

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientItems = errors.New("insufficient items")
)

type ModifierType string

const (
	// ModifierSpeed divides the delay by its factor.
	ModifierSpeed ModifierType = "speed"
	// ModifierCooldown swaps the base delay for the reduced one.
	ModifierCooldown ModifierType = "cooldown"
)

// Modifier is a time-limited effect on a user's tick delay.
// A zero ExpiresAt never expires.
type Modifier struct {
	Type      ModifierType `json:"type"`
	Source    string       `json:"source"`
	Factor    float64      `json:"factor,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (m Modifier) ActiveAt(now time.Time) bool {
	return m.ExpiresAt.IsZero() || now.Before(m.ExpiresAt)
}

// Liquidation is one auto-sell: the listed items leave the inventory and
// Amount of Currency is credited, atomically.
type Liquidation struct {
	Items    map[string]int64
	Currency string
	Amount   int64
}

func (l Liquidation) Empty() bool { return len(l.Items) == 0 && l.Amount == 0 }

// Config configures the store.
type Config struct {
	Path            string
	BusyTimeout     time.Duration
	DefaultCapacity int64
}
