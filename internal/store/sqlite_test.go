package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "docflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	s.now = func() time.Time { return t0 }
	return s
}

func runContext(docID string, decision model.RoutingDecision) *model.RunContext {
	rc := model.NewRunContext("run-"+docID, model.Document{
		ID:         docID,
		FileName:   docID + ".pdf",
		TemplateID: "invoice",
		CompanyID:  "dhl",
	}, t0)
	rc.RoutingDecision = decision
	rc.OverallConfidence = 0.91
	rc.Extracted = model.RawExtraction{
		Text: "Invoice INV-1",
		Fields: map[string]model.ExtractedField{
			"inv_no": {Name: "inv_no", Value: "INV-1", Confidence: 0.9, Method: model.ExtractionLayout},
		},
	}
	rc.MappedFields["invoice_number"] = model.MappedField{TargetField: "invoice_number", Value: "INV-1", Confidence: 0.9}
	rc.Steps[model.StepFieldMapping] = &model.StepStatus{State: model.StepStateComplete, Attempts: 1}
	rc.FinishedAt = t0.Add(time.Second)
	return rc
}

func storeRule(id string, scope model.Scope, target string) model.MappingRule {
	return model.MappingRule{
		ID:            id,
		TemplateID:    "invoice",
		Scope:         scope,
		Priority:      10,
		SourceFields:  []string{"inv_no"},
		TargetField:   target,
		TransformType: model.TransformDirect,
		IsActive:      true,
	}
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_PersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Persist(ctx, runContext("doc-1", model.RoutingQuickReview)))
	require.NoError(t, s.Persist(ctx, runContext("doc-1", model.RoutingAutoApprove)))

	var docs, results int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM documents`).Scan(&docs))
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM extraction_results`).Scan(&results))
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, results)

	got, err := s.GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "run-doc-1", got.RunID)
	assert.Equal(t, model.DocumentStatusApproved, got.Status)
	assert.Equal(t, model.RoutingAutoApprove, got.RoutingDecision)
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
	assert.Equal(t, ResultPayloadVersion, got.Payload.Version)
	assert.Equal(t, "INV-1", got.Payload.MappedFields["invoice_number"].Value)
	assert.Equal(t, "dhl", got.Payload.CompanyID)
	assert.Equal(t, 1, got.Payload.Steps[model.StepFieldMapping].Attempts)
	assert.True(t, got.UpdatedAt.Equal(t0))
}

func TestSQLite_PersistFailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	rc := runContext("doc-2", "")
	rc.Fail(model.StepLayoutExtraction, errors.New("extractor down"))
	require.NoError(t, s.Persist(ctx, rc))

	status, err := s.DocumentStatus(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, status)

	got, err := s.GetResult(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, model.StepLayoutExtraction, got.Payload.TerminalStep)
	assert.Equal(t, "extractor down", got.Payload.Error)
}

func TestSQLite_MarkFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	// Unknown documents get a row.
	require.NoError(t, s.MarkFailed(ctx, "doc-new", "persistence failed: disk full"))
	status, err := s.DocumentStatus(ctx, "doc-new")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, status)

	require.NoError(t, s.Persist(ctx, runContext("doc-3", model.RoutingAutoApprove)))
	require.NoError(t, s.MarkFailed(ctx, "doc-3", "boom"))

	var tmpl, msg string
	require.NoError(t, s.db.QueryRow(`SELECT template_id, error FROM documents WHERE id = ?`, "doc-3").Scan(&tmpl, &msg))
	assert.Equal(t, "invoice", tmpl)
	assert.Equal(t, "boom", msg)
}

func TestSQLite_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, err := s.GetResult(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.DocumentStatus(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetRule(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.DeactivateRule(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_RuleLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	created, err := s.CreateRule(ctx, storeRule("r-1", model.GlobalScope(), "invoice_number"))
	require.NoError(t, err)
	assert.Equal(t, model.RuleCreated, created.Kind)
	assert.Equal(t, int64(1), created.Seq)
	assert.True(t, created.Rule.CreatedAt.Equal(t0))

	_, err = s.CreateRule(ctx, storeRule("r-1", model.GlobalScope(), "invoice_number"))
	assert.ErrorContains(t, err, "already exists")

	_, err = s.CreateRule(ctx, model.MappingRule{ID: "bad", TemplateID: "invoice", Scope: model.GlobalScope()})
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	company, err := s.CreateRule(ctx, storeRule("", model.CompanyScope("dhl"), "invoice_number"))
	require.NoError(t, err)
	assert.NotEmpty(t, company.Rule.ID)

	got, err := s.ListActiveRules(ctx, "invoice", model.GlobalScope())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-1", got[0].ID)
	assert.Equal(t, []string{"inv_no"}, got[0].SourceFields)
	assert.Equal(t, model.GlobalScope(), got[0].Scope)

	got, err = s.ListActiveRules(ctx, "invoice", model.CompanyScope("dhl"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.CompanyScope("dhl"), got[0].Scope)

	s.now = func() time.Time { return t0.Add(time.Hour) }
	upd := storeRule("r-1", model.FormatScope("dhl-invoice"), "invoice_number")
	upd.TransformType = model.TransformRegex
	upd.TransformParams = model.TransformParams{Pattern: `INV-\d+`, Flags: "i"}
	updated, err := s.UpdateRule(ctx, upd)
	require.NoError(t, err)
	require.NotNil(t, updated.Previous)
	assert.Equal(t, model.GlobalScope(), updated.Previous.Scope)
	assert.True(t, updated.Rule.CreatedAt.Equal(t0))
	assert.True(t, updated.Rule.UpdatedAt.Equal(t0.Add(time.Hour)))

	stored, err := s.GetRule(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, `INV-\d+`, stored.TransformParams.Pattern)
	assert.Equal(t, model.FormatScope("dhl-invoice"), stored.Scope)

	_, err = s.UpdateRule(ctx, storeRule("missing", model.GlobalScope(), "x"))
	assert.True(t, errors.Is(err, ErrNotFound))

	deact, err := s.DeactivateRule(ctx, "r-1")
	require.NoError(t, err)
	assert.False(t, deact.Rule.IsActive)

	active, err := s.ListRules(ctx, RuleFilter{TemplateID: "invoice"})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := s.ListRules(ctx, RuleFilter{TemplateID: "invoice", IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	dhl := model.CompanyScope("dhl")
	scoped, err := s.ListRules(ctx, RuleFilter{Scope: &dhl})
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	changes, err := s.ChangesSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, []model.RuleChangeKind{model.RuleCreated, model.RuleCreated, model.RuleUpdated, model.RuleDeactivated},
		[]model.RuleChangeKind{changes[0].Kind, changes[1].Kind, changes[2].Kind, changes[3].Kind})
	require.NotNil(t, changes[2].Previous)
	assert.Equal(t, model.GlobalScope(), changes[2].Previous.Scope)
	assert.Nil(t, changes[3].Previous)

	later, err := s.ChangesSince(ctx, changes[1].Seq)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestSQLite_ResolverSeesUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	_, err := s.CreateRule(ctx, storeRule("r-1", model.GlobalScope(), "invoice_number"))
	require.NoError(t, err)

	res := mapping.NewResolver(s)
	key := mapping.Key{TemplateID: "invoice", CompanyID: "dhl"}
	cfg, err := res.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "r-1", cfg.Fields["invoice_number"].Rule.ID)

	_, err = res.Create(ctx, s, storeRule("r-dhl", model.CompanyScope("dhl"), "invoice_number"))
	require.NoError(t, err)

	cfg, err = res.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "r-dhl", cfg.Fields["invoice_number"].Rule.ID)
	assert.Equal(t, []string{"r-1"}, cfg.Fields["invoice_number"].Shadowed)
}

func TestSQLite_SyncFromAnotherWriter(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	_, err := s.CreateRule(ctx, storeRule("r-1", model.GlobalScope(), "invoice_number"))
	require.NoError(t, err)

	res := mapping.NewResolver(s)
	n, err := res.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := mapping.Key{TemplateID: "invoice"}
	_, err = res.Resolve(ctx, key)
	require.NoError(t, err)

	// A write that bypasses the resolver is picked up from the change feed.
	_, err = s.DeactivateRule(ctx, "r-1")
	require.NoError(t, err)
	n, err = res.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := res.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, cfg.Fields)
	assert.Equal(t, int64(2), res.Stats().LastSeq)
}

func TestSQLite_Terms(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	batch := []model.Term{
		{TemplateID: "invoice", CompanyID: "dhl", Label: "awb_no", SampleValue: "123", Occurrences: 1, LastSeen: t0},
		{TemplateID: "invoice", CompanyID: "dhl", Label: "hs_code", SampleValue: "8471", Occurrences: 1, LastSeen: t0},
	}
	require.NoError(t, s.RecordTerms(ctx, batch))
	require.NoError(t, s.RecordTerms(ctx, batch[:1]))
	require.NoError(t, s.RecordTerms(ctx, nil))

	terms, err := s.ListTerms(ctx, "invoice", 0)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "awb_no", terms[0].Label)
	assert.Equal(t, 2, terms[0].Occurrences)
	assert.Equal(t, 1, terms[1].Occurrences)
	assert.True(t, terms[0].LastSeen.Equal(t0))
}

func TestSQLite_SampleWithGroundTruth(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Persist(ctx, runContext("doc-a", model.RoutingAutoApprove)))
	require.NoError(t, s.Persist(ctx, runContext("doc-b", model.RoutingQuickReview)))
	other := runContext("doc-c", model.RoutingAutoApprove)
	other.Document.CompanyID = "maersk"
	require.NoError(t, s.Persist(ctx, other))
	failed := runContext("doc-d", "")
	failed.Fail(model.StepLayoutExtraction, errors.New("x"))
	require.NoError(t, s.Persist(ctx, failed))

	require.NoError(t, s.RecordGroundTruth(ctx, "doc-b", map[string]string{"invoice_number": "INV-9"}))
	require.NoError(t, s.RecordGroundTruth(ctx, "doc-b", map[string]string{"invoice_number": "INV-1"}))

	docs, err := s.Sample(ctx, ruletest.SampleFilter{TemplateID: "invoice", CompanyID: "dhl"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	byID := map[string]model.HistoricalDocument{}
	for _, d := range docs {
		byID[d.DocumentID] = d
	}
	assert.Equal(t, "INV-1", byID["doc-a"].Extraction.Fields["inv_no"].Value)
	assert.Nil(t, byID["doc-a"].GroundTruth)
	assert.Equal(t, map[string]string{"invoice_number": "INV-1"}, byID["doc-b"].GroundTruth)

	docs, err = s.Sample(ctx, ruletest.SampleFilter{TemplateID: "invoice", GroundTruthOnly: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-b", docs[0].DocumentID)

	docs, err = s.Sample(ctx, ruletest.SampleFilter{TemplateID: "invoice", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = s.Sample(ctx, ruletest.SampleFilter{TemplateID: "invoice", Since: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLite_RuleTestOverStore(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	_, err := s.CreateRule(ctx, storeRule("r-1", model.GlobalScope(), "invoice_number"))
	require.NoError(t, err)

	require.NoError(t, s.Persist(ctx, runContext("doc-a", model.RoutingAutoApprove)))
	require.NoError(t, s.RecordGroundTruth(ctx, "doc-a", map[string]string{"invoice_number": "INV-1"}))

	cand := storeRule("r-2", model.CompanyScope("dhl"), "invoice_number")
	cand.TransformType = model.TransformLookup
	cand.TransformParams = model.TransformParams{Lookup: map[string]string{"INV-1": "INV-0001"}}

	report, err := ruletest.NewTester(s, s).Run(ctx, cand, ruletest.SampleFilter{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.ChangeRegressed, report.Results[0].ChangeType)
	assert.Equal(t, ruletest.RecommendReject, report.Summary.Recommendation)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = Open(context.Background(), config.StoreConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "unknown driver")
}

func TestSQLite_Outcomes(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Persist(ctx, runContext("doc-1", model.RoutingAutoApprove)))
	review := runContext("doc-2", model.RoutingFullReview)
	review.OverallConfidence = 0.61
	require.NoError(t, s.Persist(ctx, review))
	require.NoError(t, s.MarkFailed(ctx, "doc-3", "persistence failed"))

	stats, err := s.Outcomes(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[model.DocumentStatus]int{
		model.DocumentStatusApproved:      1,
		model.DocumentStatusPendingReview: 1,
		model.DocumentStatusFailed:        1,
	}, stats.ByStatus)
	assert.Equal(t, 3, stats.Total())
	assert.InDelta(t, 0.76, stats.AvgConfidence, 0.0001)

	stats, err = s.Outcomes(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
	assert.Zero(t, stats.AvgConfidence)
}
