package synthesis

import (
	"fmt"
	"sync"

	"github.com/planexec/planexec/internal/types"
)

// TokenBudget tracks consumption against a fixed token allowance with
// thread-safe accounting. The aggregator charges each content chunk against
// it before inclusion in the synthesis.
type TokenBudget struct {
	mu    sync.RWMutex
	total int
	used  int
}

// NewTokenBudget creates a budget with the given total token allowance.
func NewTokenBudget(total int) *TokenBudget {
	return &TokenBudget{total: total}
}

// Total returns the full allowance.
func (b *TokenBudget) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Used returns the tokens consumed so far.
func (b *TokenBudget) Used() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}

// Remaining returns the unconsumed allowance, never negative.
func (b *TokenBudget) Remaining() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	remaining := b.total - b.used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanAfford reports whether n more tokens fit within the allowance.
func (b *TokenBudget) CanAfford(n int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used+n <= b.total
}

// Consume records n tokens of usage. Returns BUDGET_EXHAUSTED if the
// allowance would be exceeded; usage is unchanged in that case.
func (b *TokenBudget) Consume(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used+n > b.total {
		return types.NewError(types.BUDGET_EXHAUSTED,
			fmt.Sprintf("token budget exhausted: requested %d, have %d/%d remaining",
				n, b.total-b.used, b.total))
	}

	b.used += n
	return nil
}
