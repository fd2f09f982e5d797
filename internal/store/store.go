// Package store persists mapping rules, run results, unmapped terms and
// review corrections in SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RuleFilter specifies criteria for listing rules.
type RuleFilter struct {
	TemplateID      string       `json:"template_id,omitempty"`
	Scope           *model.Scope `json:"scope,omitempty"`
	IncludeInactive bool         `json:"include_inactive,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

// RuleStore is the persistent rule repository. Every mutation appends to
// the change feed in the same transaction.
type RuleStore interface {
	mapping.RuleSource
	mapping.RuleWriter
	mapping.ChangeFeed
	GetRule(ctx context.Context, id string) (*model.MappingRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]model.MappingRule, error)
}

// StoredResult is a persisted run outcome.
type StoredResult struct {
	DocumentID      string                `json:"document_id"`
	RunID           string                `json:"run_id"`
	Status          model.DocumentStatus  `json:"status"`
	RoutingDecision model.RoutingDecision `json:"routing_decision,omitempty"`
	Confidence      float64               `json:"confidence"`
	Payload         ResultPayload         `json:"payload"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// ResultStore persists run outcomes. Persist writes the extraction result
// and the document status in one transaction and is idempotent per document.
type ResultStore interface {
	Persist(ctx context.Context, rc *model.RunContext) error
	MarkFailed(ctx context.Context, documentID, message string) error
	GetResult(ctx context.Context, documentID string) (*StoredResult, error)
	DocumentStatus(ctx context.Context, documentID string) (model.DocumentStatus, error)
}

// OutcomeStats summarizes the documents updated within a window.
type OutcomeStats struct {
	ByStatus      map[model.DocumentStatus]int `json:"by_status"`
	AvgConfidence float64                      `json:"avg_confidence"`
}

// Total is the number of documents counted.
func (o OutcomeStats) Total() int {
	n := 0
	for _, c := range o.ByStatus {
		n += c
	}
	return n
}

// outcomeQuery is shared by both drivers; only the placeholder differs.
const outcomeQuery = `SELECT d.status, COUNT(*), COALESCE(SUM(r.confidence), 0), COUNT(r.document_id)
	FROM documents d LEFT JOIN extraction_results r ON r.document_id = d.id
	WHERE d.updated_at >= %s GROUP BY d.status`

// outcomeAccumulator folds per-status rows into OutcomeStats.
type outcomeAccumulator struct {
	stats   OutcomeStats
	confSum float64
	scored  int64
}

func newOutcomeAccumulator() *outcomeAccumulator {
	return &outcomeAccumulator{stats: OutcomeStats{ByStatus: make(map[model.DocumentStatus]int)}}
}

func (a *outcomeAccumulator) add(status string, count int64, confSum float64, scored int64) {
	a.stats.ByStatus[model.DocumentStatus(status)] += int(count)
	a.confSum += confSum
	a.scored += scored
}

func (a *outcomeAccumulator) result() OutcomeStats {
	if a.scored > 0 {
		a.stats.AvgConfidence = a.confSum / float64(a.scored)
	}
	return a.stats
}

// Store is the full persistence interface.
type Store interface {
	RuleStore
	ResultStore

	// Terms
	RecordTerms(ctx context.Context, terms []model.Term) error
	ListTerms(ctx context.Context, templateID string, limit int) ([]model.Term, error)

	// Review corrections and rule-test history
	RecordGroundTruth(ctx context.Context, documentID string, values map[string]string) error
	Sample(ctx context.Context, filter ruletest.SampleFilter) ([]model.HistoricalDocument, error)

	// Monitoring
	Outcomes(ctx context.Context, since time.Time) (OutcomeStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store configured by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

const defaultListLimit = 100

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
