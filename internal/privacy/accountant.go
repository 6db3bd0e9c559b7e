package privacy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabsynth/tabsynth/pkg/errors"
)

// maxTransactions bounds the retained transaction log.
const maxTransactions = 10000

// BudgetTransaction records a single budget expenditure.
type BudgetTransaction struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	EpsilonUsed float64   `json:"epsilon_used"`
	Purpose     string    `json:"purpose"`
}

// BudgetStatus provides a snapshot of budget consumption.
type BudgetStatus struct {
	BudgetEpsilon    float64 `json:"budget_epsilon"`
	Delta            float64 `json:"delta"`
	ConsumedEpsilon  float64 `json:"consumed_epsilon"`
	RemainingEpsilon float64 `json:"remaining_epsilon"`
	TransactionCount int     `json:"transaction_count"`
}

// BudgetAccountant tracks cumulative privacy budget consumption across noisy
// training steps. Composition is basic summation of per-step epsilons; the
// budget check at epoch boundaries is conservative as a result.
type BudgetAccountant struct {
	mu           sync.RWMutex
	budget       float64
	delta        float64
	consumed     float64
	transactions []BudgetTransaction
}

// NewBudgetAccountant creates an accountant for the given epsilon budget and
// delta.
func NewBudgetAccountant(budget, delta float64) (*BudgetAccountant, error) {
	if budget <= 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
			"privacy budget (epsilon) must be positive")
	}
	if delta <= 0 || delta >= 1 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
			"privacy delta must be in (0, 1)")
	}
	return &BudgetAccountant{budget: budget, delta: delta}, nil
}

// CanSpend reports whether spending epsilon would stay within the budget.
func (a *BudgetAccountant) CanSpend(epsilon float64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.consumed+epsilon <= a.budget
}

// Spend records an expenditure. It never blocks training mid-step: callers
// check CanSpend at epoch boundaries and abort there.
func (a *BudgetAccountant) Spend(epsilon float64, purpose string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.consumed += epsilon
	if len(a.transactions) < maxTransactions {
		a.transactions = append(a.transactions, BudgetTransaction{
			ID:          uuid.New().String(),
			Timestamp:   time.Now(),
			EpsilonUsed: epsilon,
			Purpose:     purpose,
		})
	}
}

// Consumed returns the epsilon spent so far.
func (a *BudgetAccountant) Consumed() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.consumed
}

// Budget returns the configured epsilon budget.
func (a *BudgetAccountant) Budget() float64 {
	return a.budget
}

// Delta returns the configured delta.
func (a *BudgetAccountant) Delta() float64 {
	return a.delta
}

// Status returns a consumption snapshot.
func (a *BudgetAccountant) Status() BudgetStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return BudgetStatus{
		BudgetEpsilon:    a.budget,
		Delta:            a.delta,
		ConsumedEpsilon:  a.consumed,
		RemainingEpsilon: a.budget - a.consumed,
		TransactionCount: len(a.transactions),
	}
}
