package ctxengine

// TokenEstimator prices text in tokens.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator prices text by its byte length over a fixed ratio.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator returns an estimator for charsPerToken, or for
// DefaultCharsPerToken when that is not positive.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the token cost of text. Any non-empty text costs at least
// one token more than the plain ratio gives, so estimates err high.
func (e *CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(float64(len(text))/e.CharsPerToken) + 1
}

// Chars returns how many characters fit in tokens.
func (e *CharEstimator) Chars(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return int(float64(tokens) * e.CharsPerToken)
}

// TokenBudget tracks consumption against a fixed limit.
type TokenBudget struct {
	Limit int
	Used  int
}

// Remaining returns the unused tokens, never below zero.
func (b TokenBudget) Remaining() int {
	return max(0, b.Limit-b.Used)
}

// CanAdd reports whether n more tokens fit.
func (b TokenBudget) CanAdd(n int) bool {
	return n >= 0 && b.Used+n <= b.Limit
}

// Reserve consumes up to n tokens and returns how many were granted.
func (b *TokenBudget) Reserve(n int) int {
	granted := min(max(n, 0), b.Remaining())
	b.Used += granted
	return granted
}

// Add consumes n tokens if they fit and reports whether it did.
func (b *TokenBudget) Add(n int) bool {
	if !b.CanAdd(n) {
		return false
	}
	b.Used += n
	return true
}

// Exceeded reports whether usage is over the limit.
func (b TokenBudget) Exceeded() bool {
	return b.Used > b.Limit
}
