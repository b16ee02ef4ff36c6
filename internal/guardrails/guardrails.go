// Package guardrails enforces per-user spending limits before any
// transaction reaches the signer. The daily budget is serialised through
// the checker so concurrent skills cannot double-spend a day's allowance.
package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/txlog"
)

// Limits is the configured envelope for a user's transactions.
type Limits struct {
	PerTxUSD decimal.Decimal
	DailyUSD decimal.Decimal
	Cooldown time.Duration
	// ConfirmFraction of PerTxUSD above which an explicit confirmation
	// is demanded regardless of the preference threshold.
	ConfirmFraction decimal.Decimal
	MaxTxPerDay     int
}

// DefaultLimits is the envelope applied when a user has no overrides.
func DefaultLimits() Limits {
	return Limits{
		PerTxUSD:        decimal.NewFromInt(1000),
		DailyUSD:        decimal.NewFromInt(5000),
		Cooldown:        30 * time.Second,
		ConfirmFraction: decimal.RequireFromString("0.5"),
		MaxTxPerDay:     10,
	}
}

// CheckResult reports the outcome of the guardrail gate.
type CheckResult struct {
	Allowed         bool   `json:"allowed"`
	FailedRule      string `json:"failed_rule,omitempty"`
	ConfirmRequired bool   `json:"confirm_required"`
}

type userState struct {
	day         time.Time
	spentUSD    decimal.Decimal
	reservedUSD decimal.Decimal
	lastTxAt    time.Time
}

// Checker gates transactions against the limits.
type Checker struct {
	limits Limits
	txs    *txlog.Repository
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

// NewChecker creates the gate. txs may be nil to skip the per-day count.
func NewChecker(limits Limits, txs *txlog.Repository) *Checker {
	return &Checker{
		limits: limits,
		txs:    txs,
		now:    time.Now,
		users:  make(map[string]*userState),
	}
}

// Check validates amountUSD against every rule. An allowed amount is
// reserved against the daily budget so a second concurrent transaction
// cannot pass the same headroom; the caller must follow up with Commit
// once submitted or Release if the transaction never happens.
func (c *Checker) Check(ctx context.Context, userID string, amountUSD decimal.Decimal) (*CheckResult, error) {
	if amountUSD.IsNegative() {
		return &CheckResult{FailedRule: "amount must be positive"}, nil
	}
	if c.limits.PerTxUSD.IsPositive() && amountUSD.GreaterThan(c.limits.PerTxUSD) {
		return &CheckResult{
			FailedRule: fmt.Sprintf("exceeds per-transaction limit of $%s", c.limits.PerTxUSD),
		}, nil
	}

	if c.txs != nil && c.limits.MaxTxPerDay > 0 {
		since := c.now().Add(-24 * time.Hour)
		count, err := c.txs.CountSince(ctx, userID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to count recent transactions: %w", err)
		}
		if count >= c.limits.MaxTxPerDay {
			return &CheckResult{
				FailedRule: fmt.Sprintf("daily transaction count limit of %d reached", c.limits.MaxTxPerDay),
			}, nil
		}
	}

	c.mu.Lock()
	state := c.stateLocked(userID)
	if c.limits.Cooldown > 0 && !state.lastTxAt.IsZero() {
		if wait := c.limits.Cooldown - c.now().Sub(state.lastTxAt); wait > 0 {
			c.mu.Unlock()
			return &CheckResult{
				FailedRule: fmt.Sprintf("cooldown active, retry in %s", wait.Round(time.Second)),
			}, nil
		}
	}
	committed := state.spentUSD.Add(state.reservedUSD)
	if c.limits.DailyUSD.IsPositive() && committed.Add(amountUSD).GreaterThan(c.limits.DailyUSD) {
		c.mu.Unlock()
		return &CheckResult{
			FailedRule: fmt.Sprintf("exceeds daily limit of $%s ($%s already spent or in flight today)",
				c.limits.DailyUSD, committed),
		}, nil
	}
	state.reservedUSD = state.reservedUSD.Add(amountUSD)
	c.mu.Unlock()

	result := &CheckResult{Allowed: true}
	if c.limits.ConfirmFraction.IsPositive() && c.limits.PerTxUSD.IsPositive() {
		cutoff := c.limits.PerTxUSD.Mul(c.limits.ConfirmFraction)
		if amountUSD.GreaterThanOrEqual(cutoff) {
			result.ConfirmRequired = true
		}
	}
	return result, nil
}

// Commit converts a reservation into spend once the transaction is
// submitted.
func (c *Checker) Commit(userID string, amountUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(userID)
	state.reservedUSD = state.reservedUSD.Sub(amountUSD)
	if state.reservedUSD.IsNegative() {
		state.reservedUSD = decimal.Zero
	}
	state.spentUSD = state.spentUSD.Add(amountUSD)
	state.lastTxAt = c.now()
}

// Release returns a reservation to the budget when a checked
// transaction is declined, cancelled or fails before broadcast.
func (c *Checker) Release(userID string, amountUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(userID)
	state.reservedUSD = state.reservedUSD.Sub(amountUSD)
	if state.reservedUSD.IsNegative() {
		state.reservedUSD = decimal.Zero
	}
}

// SpentToday returns the user's budget consumed so far today.
func (c *Checker) SpentToday(userID string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(userID).spentUSD
}

// ReservedNow returns the budget held by in-flight transactions.
func (c *Checker) ReservedNow(userID string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(userID).reservedUSD
}

// stateLocked fetches the user's state, rolling the day over as needed.
// Caller holds mu.
func (c *Checker) stateLocked(userID string) *userState {
	today := c.now().UTC().Truncate(24 * time.Hour)
	state, ok := c.users[userID]
	if !ok {
		state = &userState{day: today, spentUSD: decimal.Zero}
		c.users[userID] = state
		return state
	}
	if !state.day.Equal(today) {
		state.day = today
		state.spentUSD = decimal.Zero
	}
	return state
}
