package facade

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flemzord/memoir/internal/compaction"
	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/recall"
)

// Pipeline stages named in failures.
const (
	StageCompaction = "compaction"
	StageAssemble   = "assemble"
	StageJournal    = "journal"
	StageRecall     = "recall"
	StageSummary    = "summary"
	StagePanic      = "panic"
)

// Failure is a degraded stage and the reason it degraded.
type Failure struct {
	Stage string
	Err   error
}

func (f Failure) Error() string { return f.Stage + ": " + f.Err.Error() }

func (f Failure) Unwrap() error { return f.Err }

// MarshalJSON renders the failure as {"stage", "error"}.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{f.Stage, f.Err.Error()})
}

// PreTurnReport is the typed outcome of a pre-turn call.
type PreTurnReport struct {
	Text       string              `json:"text"`
	Compaction compaction.Result   `json:"compaction"`
	Assembly   *ctxengine.Assembly `json:"assembly,omitempty"`
	Recall     recall.Result       `json:"recall"`
	Duration   time.Duration       `json:"duration"`
	Failures   []Failure           `json:"failures,omitempty"`
}

// Degraded reports whether any stage failed.
func (r PreTurnReport) Degraded() bool { return len(r.Failures) > 0 }

// TickReport is the typed outcome of a schedule tick.
type TickReport struct {
	Path     string        `json:"path"`
	Sessions int           `json:"sessions"`
	Text     string        `json:"text,omitempty"`
	Duration time.Duration `json:"duration"`
	Failures []Failure     `json:"failures,omitempty"`
}

// Check is one health probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport lists every probe.
type HealthReport struct {
	Healthy bool    `json:"healthy"`
	Checks  []Check `json:"checks"`
}

func (h *HealthReport) add(name string, ok bool, detail string, args ...any) {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	h.Checks = append(h.Checks, Check{Name: name, OK: ok, Detail: detail})
}

// Stats is a read-only snapshot of the pipeline.
type Stats struct {
	IndexChunks       int       `json:"index_chunks"`
	IndexSources      int       `json:"index_sources"`
	IndexDimensions   int       `json:"index_dimensions"`
	IndexNewest       time.Time `json:"index_newest,omitzero"`
	CacheEntries      int       `json:"cache_entries"`
	RecallSearches    int64     `json:"recall_searches"`
	LastSummary       time.Time `json:"last_summary,omitzero"`
	SummaryFiles      int       `json:"summary_files"`
	LastSessionID     string    `json:"last_session_id,omitempty"`
	CompactionCounter int       `json:"compaction_counter"`
	MaxRecallTokens   int       `json:"max_recall_tokens"`
}
