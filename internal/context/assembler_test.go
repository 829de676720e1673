package ctxengine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	ctxengine "github.com/flemzord/memoir/internal/context"
)

// staticSource returns fixed entries for a category.
type staticSource struct {
	cat     ctxengine.Category
	entries []string
	err     error
	calls   int
}

func (s *staticSource) Category() ctxengine.Category { return s.cat }

func (s *staticSource) Fetch(context.Context) ([]string, error) {
	s.calls++
	return s.entries, s.err
}

func entries(prefix string, n, size int) []string {
	out := make([]string, n)
	for i := range out {
		head := fmt.Sprintf("%s-%02d ", prefix, i)
		out[i] = head + strings.Repeat("x", max(0, size-len(head)))
	}
	return out
}

func newAssembler(sources ...ctxengine.Source) *ctxengine.BudgetedAssembler {
	return ctxengine.NewBudgetedAssembler(ctxengine.AssemblerConfig{}, sources...)
}

// ---------------------------------------------------------------------------
// Assemble
// ---------------------------------------------------------------------------

func TestAssemble_OrderAndHeadings(t *testing.T) {
	t.Parallel()

	a := newAssembler(
		&staticSource{cat: ctxengine.CategoryReasoning, entries: []string{"- thought"}},
		&staticSource{cat: ctxengine.CategoryStatus, entries: []string{"Agents: a", "Mesh: 1/1 nodes online"}},
		&staticSource{cat: ctxengine.CategorySummaries, entries: []string{"## 2026-10-17 14:00\n\nT:deploy"}},
		&staticSource{cat: ctxengine.CategoryRecent, entries: []string{"U: hi", "A: hello"}},
	)

	got, err := a.Assemble(t.Context(), ctxengine.DefaultTotalBudget, ctxengine.DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"## MEMORY\n## 2026-10-17 14:00\n\nT:deploy",
		"## RECENT\nU: hi\nA: hello",
		"## CONTEXT\nAgents: a | Mesh: 1/1 nodes online",
		"## REASONING\n- thought",
	}, "\n\n")
	if got.Text != want {
		t.Errorf("Text =\n%s\nwant\n%s", got.Text, want)
	}
	if len(got.Sections) != 4 {
		t.Fatalf("sections = %d, want 4", len(got.Sections))
	}
	for i, c := range ctxengine.Categories() {
		if got.Sections[i].Category != c {
			t.Errorf("section %d = %s, want %s", i, got.Sections[i].Category, c)
		}
	}
}

func TestAssemble_OmitsEmptyCategories(t *testing.T) {
	t.Parallel()

	a := newAssembler(
		&staticSource{cat: ctxengine.CategorySummaries},
		&staticSource{cat: ctxengine.CategoryRecent, entries: []string{"  ", "U: only"}},
	)
	got, err := a.Assemble(t.Context(), ctxengine.DefaultTotalBudget, ctxengine.DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "## RECENT\nU: only" {
		t.Errorf("Text = %q", got.Text)
	}
	if strings.Contains(got.Text, "## MEMORY") {
		t.Error("empty category produced a heading")
	}
}

func TestAssemble_NothingToSay(t *testing.T) {
	t.Parallel()

	got, err := newAssembler().Assemble(t.Context(), 100, ctxengine.Weights{Recent: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Empty() || got.Tokens != 0 {
		t.Errorf("assembly = %+v, want empty", got)
	}
}

func TestAssemble_InvalidBudget(t *testing.T) {
	t.Parallel()

	src := &staticSource{cat: ctxengine.CategorySummaries, entries: []string{"x"}}
	_, err := newAssembler(src).Assemble(t.Context(), 100, ctxengine.DefaultWeights())
	if !errors.Is(err, ctxengine.ErrInvalidBudget) {
		t.Fatalf("err = %v, want ErrInvalidBudget", err)
	}
	if src.calls != 0 {
		t.Error("sources must not be read for an invalid budget")
	}
}

func TestAssemble_SourceFailureOmitsCategory(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := newAssembler(
		&staticSource{cat: ctxengine.CategorySummaries, err: boom},
		&staticSource{cat: ctxengine.CategoryStatus, entries: []string{"Agents: a"}},
	)
	got, err := a.Assemble(t.Context(), ctxengine.DefaultTotalBudget, ctxengine.DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "## CONTEXT\nAgents: a" {
		t.Errorf("Text = %q", got.Text)
	}
	errs := got.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("Errors() = %v", errs)
	}
}

func TestAssemble_ReasoningNeedsMinimumBudget(t *testing.T) {
	t.Parallel()

	a := newAssembler(&staticSource{cat: ctxengine.CategoryReasoning, entries: []string{"- thought"}})
	got, err := a.Assemble(t.Context(), 100, ctxengine.Weights{Reasoning: 40})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Empty() || !got.Sections[3].Skipped {
		t.Errorf("reasoning under 50 tokens should be skipped: %+v", got.Sections[3])
	}
}

// ---------------------------------------------------------------------------
// Truncation
// ---------------------------------------------------------------------------

func TestAssemble_TruncationPolicies(t *testing.T) {
	t.Parallel()

	// 30 tokens = 120 chars; minus "## RECENT\n" and the separator.
	recent := entries("msg", 10, 30)
	status := entries("stat", 10, 30)

	a := newAssembler(
		&staticSource{cat: ctxengine.CategoryRecent, entries: recent},
		&staticSource{cat: ctxengine.CategoryStatus, entries: status},
	)
	got, err := a.Assemble(t.Context(), 60, ctxengine.Weights{Recent: 30, Status: 30})
	if err != nil {
		t.Fatal(err)
	}

	blocks := strings.Split(got.Text, "\n\n")
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d: %q", len(blocks), got.Text)
	}

	recentBody := strings.TrimPrefix(blocks[0], "## RECENT\n")
	if !strings.HasPrefix(recentBody, "msg-07") || !strings.HasSuffix(recentBody, recent[9]) {
		t.Errorf("recent should keep the newest entries, got %q", recentBody)
	}
	if rep := got.Sections[1]; rep.Kept != 3 || !rep.Truncated || rep.Entries != 10 {
		t.Errorf("recent report = %+v", rep)
	}

	statusBody := strings.TrimPrefix(blocks[1], "## CONTEXT\n")
	if !strings.HasPrefix(statusBody, status[0]) {
		t.Errorf("status should keep its leading content, got %q", statusBody)
	}
	if !got.Sections[2].Truncated {
		t.Error("status should be reported truncated")
	}
}

func TestAssemble_OversizedNewestEntryIsCut(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("y", 5000)
	a := newAssembler(&staticSource{cat: ctxengine.CategorySummaries, entries: []string{"old", huge}})
	got, err := a.Assemble(t.Context(), 50, ctxengine.Weights{Summaries: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Text) != 200-2 {
		t.Errorf("len = %d, want 198", len(got.Text))
	}
	if strings.Contains(got.Text, "old") {
		t.Error("older entry should not displace the newest one")
	}
}

func TestAssemble_BudgetRespected(t *testing.T) {
	t.Parallel()

	sizes := []int{1, 20, 79, 80, 81, 400, 3000}
	weightSets := []ctxengine.Weights{
		ctxengine.DefaultWeights(),
		{Summaries: 10, Recent: 10, Status: 10, Reasoning: 60},
		{Summaries: 1000},
		{Recent: 7, Status: 3},
	}

	for _, w := range weightSets {
		for _, size := range sizes {
			a := newAssembler(
				&staticSource{cat: ctxengine.CategorySummaries, entries: entries("s", 12, size)},
				&staticSource{cat: ctxengine.CategoryRecent, entries: entries("r", 30, size)},
				&staticSource{cat: ctxengine.CategoryStatus, entries: entries("t", 3, size)},
				&staticSource{cat: ctxengine.CategoryReasoning, entries: entries("m", 15, size)},
			)
			total := max(w.Sum(), 1)
			got, err := a.Assemble(t.Context(), total, w)
			if err != nil {
				t.Fatalf("weights %+v size %d: %v", w, size, err)
			}
			if limit := total * 4; len(got.Text) > limit {
				t.Errorf("weights %+v size %d: %d chars over limit %d", w, size, len(got.Text), limit)
			}
			if got.Tokens > total+1 {
				t.Errorf("weights %+v size %d: %d tokens for total %d", w, size, got.Tokens, total)
			}
		}
	}
}
