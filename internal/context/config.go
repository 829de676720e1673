// Package ctxengine assembles the post-compaction memory package: it splits a
// token budget across fixed content categories and fills each one from its
// source under that category's allowance.
package ctxengine

import (
	"errors"
	"fmt"
)

// Default budget, in tokens.
const (
	DefaultTotalBudget     = 1024
	DefaultSummariesTokens = 400
	DefaultRecentTokens    = 300
	DefaultStatusTokens    = 200
	DefaultReasoningTokens = 124
	DefaultCharsPerToken   = 4.0
	minReasoningTokens     = 50
	sectionSeparator       = "\n\n"
)

// ErrInvalidBudget is returned for negative weights or weights that exceed
// the total budget.
var ErrInvalidBudget = errors.New("ctxengine: invalid budget")

// Weights is the fixed per-category token allocation. Capacity left unused by
// one category is not handed to another.
type Weights struct {
	Summaries int `yaml:"summaries" json:"summaries" validate:"gte=0"`
	Recent    int `yaml:"recent" json:"recent" validate:"gte=0"`
	Status    int `yaml:"status" json:"status" validate:"gte=0"`
	Reasoning int `yaml:"reasoning" json:"reasoning" validate:"gte=0"`
}

// DefaultWeights returns the 400/300/200/124 split of a 1024-token budget.
func DefaultWeights() Weights {
	return Weights{
		Summaries: DefaultSummariesTokens,
		Recent:    DefaultRecentTokens,
		Status:    DefaultStatusTokens,
		Reasoning: DefaultReasoningTokens,
	}
}

// IsZero reports whether no weight is set.
func (w Weights) IsZero() bool { return w == Weights{} }

// Sum returns the total allocated tokens.
func (w Weights) Sum() int { return w.Summaries + w.Recent + w.Status + w.Reasoning }

// For returns the allocation of c.
func (w Weights) For(c Category) int {
	switch c {
	case CategorySummaries:
		return w.Summaries
	case CategoryRecent:
		return w.Recent
	case CategoryStatus:
		return w.Status
	case CategoryReasoning:
		return w.Reasoning
	default:
		return 0
	}
}

// Validate checks w against total.
func (w Weights) Validate(total int) error {
	var errs []error
	if total <= 0 {
		errs = append(errs, fmt.Errorf("%w: total must be positive, got %d", ErrInvalidBudget, total))
	}
	for _, c := range Categories() {
		if n := w.For(c); n < 0 {
			errs = append(errs, fmt.Errorf("%w: %s weight is negative (%d)", ErrInvalidBudget, c, n))
		}
	}
	if sum := w.Sum(); total > 0 && sum > total {
		errs = append(errs, fmt.Errorf("%w: weights sum to %d, above total %d", ErrInvalidBudget, sum, total))
	}
	return errors.Join(errs...)
}
