package ctxengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Category is one labeled block of the assembled package.
type Category int

// Categories in output order.
const (
	CategorySummaries Category = iota
	CategoryRecent
	CategoryStatus
	CategoryReasoning
)

// Categories returns every category in output order.
func Categories() []Category {
	return []Category{CategorySummaries, CategoryRecent, CategoryStatus, CategoryReasoning}
}

func (c Category) String() string {
	switch c {
	case CategorySummaries:
		return "summaries"
	case CategoryRecent:
		return "recent"
	case CategoryStatus:
		return "status"
	case CategoryReasoning:
		return "reasoning"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// MarshalText renders the category by name.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Heading returns the markdown heading that opens the category block.
func (c Category) Heading() string {
	switch c {
	case CategorySummaries:
		return "## MEMORY"
	case CategoryRecent:
		return "## RECENT"
	case CategoryStatus:
		return "## CONTEXT"
	case CategoryReasoning:
		return "## REASONING"
	default:
		return "## " + strings.ToUpper(c.String())
	}
}

// keepsLeading reports whether truncation keeps the start of the content.
// Other categories keep their most recent entries.
func (c Category) keepsLeading() bool { return c == CategoryStatus }

func (c Category) joiner() string {
	if c == CategoryStatus {
		return " | "
	}
	return "\n"
}

// Source provides the raw entries of one category, oldest first.
type Source interface {
	Category() Category
	Fetch(ctx context.Context) ([]string, error)
}

// SectionReport describes how one category was filled.
type SectionReport struct {
	Category Category `json:"category"`
	// Budget is the category allocation in tokens.
	Budget    int  `json:"budget"`
	Tokens    int  `json:"tokens"`
	Entries   int  `json:"entries"`
	Kept      int  `json:"kept"`
	Truncated bool `json:"truncated,omitempty"`
	// Skipped is set when the allocation cannot hold any content.
	Skipped bool  `json:"skipped,omitempty"`
	Err     error `json:"-"`
}

// Assembly is the assembled package and its per-category report.
type Assembly struct {
	Text     string          `json:"text"`
	Tokens   int             `json:"tokens"`
	Sections []SectionReport `json:"sections"`
}

// Empty reports whether nothing was assembled.
func (a Assembly) Empty() bool { return a.Text == "" }

// Errors returns the source failures encountered during assembly.
func (a Assembly) Errors() []error {
	var errs []error
	for _, s := range a.Sections {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Category, s.Err))
		}
	}
	return errs
}

// AssemblerConfig configures a BudgetedAssembler.
type AssemblerConfig struct {
	CharsPerToken float64
	Logger        *slog.Logger
}

// BudgetedAssembler fills each category from its source under a fixed token
// allocation.
type BudgetedAssembler struct {
	estimator *CharEstimator
	sources   map[Category]Source
	logger    *slog.Logger
}

// NewBudgetedAssembler returns an assembler over sources. A later source for
// the same category replaces an earlier one.
func NewBudgetedAssembler(cfg AssemblerConfig, sources ...Source) *BudgetedAssembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &BudgetedAssembler{
		estimator: NewCharEstimator(cfg.CharsPerToken),
		sources:   make(map[Category]Source, len(sources)),
		logger:    logger,
	}
	for _, s := range sources {
		a.sources[s.Category()] = s
	}
	return a
}

// Estimator returns the estimator used for budgeting.
func (a *BudgetedAssembler) Estimator() *CharEstimator { return a.estimator }

// Assemble builds the package for total tokens split by w. Categories are
// emitted in fixed order and empty ones are omitted. A failing source drops
// its category and is recorded in the report.
func (a *BudgetedAssembler) Assemble(ctx context.Context, total int, w Weights) (Assembly, error) {
	if err := w.Validate(total); err != nil {
		return Assembly{}, err
	}

	var (
		out    Assembly
		blocks []string
		budget = TokenBudget{Limit: total}
	)
	for _, c := range Categories() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rep := SectionReport{Category: c, Budget: budget.Reserve(w.For(c))}
		block := a.section(ctx, c, &rep)
		if block != "" {
			blocks = append(blocks, block)
			rep.Tokens = a.estimator.Estimate(block)
		}
		out.Sections = append(out.Sections, rep)
	}

	out.Text = strings.Join(blocks, sectionSeparator)
	out.Tokens = a.estimator.Estimate(out.Text)
	return out, nil
}

// section renders one category. The heading, the newline after it and one
// separator are charged to the category's own allocation so the joined
// output never exceeds the summed weights.
func (a *BudgetedAssembler) section(ctx context.Context, c Category, rep *SectionReport) string {
	src, ok := a.sources[c]
	if !ok {
		return ""
	}
	if c == CategoryReasoning && rep.Budget < minReasoningTokens {
		rep.Skipped = true
		return ""
	}
	limit := a.estimator.Chars(rep.Budget) - len(c.Heading()) - 1 - len(sectionSeparator)
	if limit <= 0 {
		rep.Skipped = true
		return ""
	}

	entries, err := src.Fetch(ctx)
	if err != nil {
		rep.Err = err
		a.logger.Warn("ctxengine: source failed, omitting category", "category", c.String(), "error", err)
		return ""
	}
	entries = nonBlank(entries)
	rep.Entries = len(entries)
	if len(entries) == 0 {
		return ""
	}

	var body string
	if c.keepsLeading() {
		body, rep.Kept, rep.Truncated = keepLeading(entries, c.joiner(), limit)
	} else {
		body, rep.Kept, rep.Truncated = keepNewest(entries, c.joiner(), limit)
	}
	if body == "" {
		return ""
	}
	return c.Heading() + "\n" + body
}

// keepLeading joins entries and cuts the result to limit bytes.
func keepLeading(entries []string, sep string, limit int) (string, int, bool) {
	joined := strings.Join(entries, sep)
	if len(joined) <= limit {
		return joined, len(entries), false
	}
	cut := cutPrefix(joined, limit)
	kept := strings.Count(cut, sep) + 1
	return cut, min(kept, len(entries)), true
}

// keepNewest keeps the longest run of trailing entries that fits in limit,
// in their original order. When even the newest entry is too long, its
// start is kept.
func keepNewest(entries []string, sep string, limit int) (string, int, bool) {
	size := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		need := len(entries[i])
		if start < len(entries) {
			need += len(sep)
		}
		if size+need > limit {
			break
		}
		size += need
		start = i
	}
	if start == len(entries) {
		return cutPrefix(entries[len(entries)-1], limit), 1, true
	}
	return strings.Join(entries[start:], sep), len(entries) - start, start > 0
}

// cutPrefix returns at most n bytes of s without splitting a rune.
func cutPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func nonBlank(entries []string) []string {
	out := entries[:0:0]
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
