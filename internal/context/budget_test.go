package ctxengine_test

import (
	"errors"
	"testing"

	ctxengine "github.com/flemzord/memoir/internal/context"
)

var _ ctxengine.TokenEstimator = (*ctxengine.CharEstimator)(nil)

func TestCharEstimator_Estimate(t *testing.T) {
	t.Parallel()

	// Estimates round up and never report zero for non-empty text.
	tests := []struct {
		ratio float64
		text  string
		want  int
	}{
		{0, "", 0},
		{0, "k", 1},
		{0, "deploy", 2},
		{0, "T:deploy plan", 4},
		{0, "abcd", 2},
		{-2, "abcd", 2},
		{3, "", 0},
		{3, "hello world", 4},
		{10, "## MEMORY", 1},
	}
	for _, tt := range tests {
		est := ctxengine.NewCharEstimator(tt.ratio)
		if got := est.Estimate(tt.text); got != tt.want {
			t.Errorf("ratio %v: Estimate(%q) = %d, want %d", tt.ratio, tt.text, got, tt.want)
		}
	}

	if r := ctxengine.NewCharEstimator(-1).CharsPerToken; r != ctxengine.DefaultCharsPerToken {
		t.Errorf("non-positive ratio = %v, want default", r)
	}
}

func TestCharEstimator_Chars(t *testing.T) {
	t.Parallel()

	est := ctxengine.NewCharEstimator(0)
	for tokens, want := range map[int]int{-3: 0, 0: 0, 1: 4, 400: 1600} {
		if got := est.Chars(tokens); got != want {
			t.Errorf("Chars(%d) = %d, want %d", tokens, got, want)
		}
	}
}

func TestTokenBudget(t *testing.T) {
	t.Parallel()

	b := ctxengine.TokenBudget{Limit: 10}
	if !b.Add(6) || b.Remaining() != 4 {
		t.Fatalf("after Add(6): %+v", b)
	}
	if b.Add(5) {
		t.Error("Add(5) should not fit in 4 remaining tokens")
	}
	if b.Used != 6 {
		t.Errorf("rejected Add changed Used to %d", b.Used)
	}
	if b.CanAdd(-1) {
		t.Error("negative amounts must be rejected")
	}
	if !b.Add(4) || b.Remaining() != 0 || b.Exceeded() {
		t.Errorf("exact fill: %+v", b)
	}

	r := ctxengine.TokenBudget{Limit: 1024}
	for _, step := range []struct{ ask, want int }{{400, 400}, {300, 300}, {-5, 0}, {500, 324}, {1, 0}} {
		if got := r.Reserve(step.ask); got != step.want {
			t.Errorf("Reserve(%d) = %d, want %d", step.ask, got, step.want)
		}
	}
	if r.Used != r.Limit {
		t.Errorf("after reserving everything Used = %d", r.Used)
	}

	over := ctxengine.TokenBudget{Limit: 5, Used: 8}
	if over.Remaining() != 0 || !over.Exceeded() {
		t.Errorf("overdrawn budget: remaining=%d exceeded=%v", over.Remaining(), over.Exceeded())
	}
}

func TestWeights_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   int
		weights ctxengine.Weights
		wantErr bool
	}{
		{name: "defaults", total: ctxengine.DefaultTotalBudget, weights: ctxengine.DefaultWeights()},
		{name: "under_total", total: 2000, weights: ctxengine.DefaultWeights()},
		{name: "zero_weights", total: 10, weights: ctxengine.Weights{}},
		{name: "over_total", total: 1000, weights: ctxengine.DefaultWeights(), wantErr: true},
		{name: "negative", total: 100, weights: ctxengine.Weights{Summaries: -1}, wantErr: true},
		{name: "zero_total", total: 0, weights: ctxengine.Weights{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.weights.Validate(tt.total)
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ctxengine.ErrInvalidBudget) {
				t.Errorf("error %v does not wrap ErrInvalidBudget", err)
			}
		})
	}
}

func TestDefaultWeights_SumToTotal(t *testing.T) {
	t.Parallel()

	if got := ctxengine.DefaultWeights().Sum(); got != ctxengine.DefaultTotalBudget {
		t.Errorf("default weights sum to %d, want %d", got, ctxengine.DefaultTotalBudget)
	}
}
