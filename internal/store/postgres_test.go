package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresWithPool(mock)
	s.now = func() time.Time { return t0 }
	return s, mock
}

var ruleCols = []string{"id", "template_id", "scope_kind", "scope_id", "priority", "source_fields",
	"target_field", "transform_type", "transform_params", "is_active", "created_at", "updated_at"}

func TestPostgresStore_Persist(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rc := runContext("doc-1", model.RoutingQuickReview)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO documents .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("doc-1", "invoice", "dhl", "", "doc-1.pdf", "pending_review", "QUICK_REVIEW", "", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO extraction_results .* ON CONFLICT \(document_id\) DO UPDATE`).
		WithArgs("doc-1", "run-doc-1", pgxmock.AnyArg(), 0.91, "QUICK_REVIEW", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Persist(context.Background(), rc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Persist_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO documents`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO extraction_results`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.Persist(context.Background(), runContext("doc-1", model.RoutingAutoApprove))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert result doc-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents \(id, status, error, updated_at\)`).
		WithArgs("doc-9", "failed", "persistence failed: tx aborted", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.MarkFailed(context.Background(), "doc-9", "persistence failed: tx aborted"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	payload, err := encodeResult(runContext("doc-1", model.RoutingAutoApprove))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT r.document_id, r.run_id, d.status .* WHERE r.document_id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"document_id", "run_id", "status", "routing_decision", "confidence", "payload", "updated_at"}).
			AddRow("doc-1", "run-doc-1", "approved", "AUTO_APPROVE", 0.91, payload, t0))

	got, err := s.GetResult(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusApproved, got.Status)
	assert.Equal(t, "INV-1", got.Payload.Extracted.Fields["inv_no"].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_results`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetResult(context.Background(), "nonexistent")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResult_UnknownPayloadVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_results`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"document_id", "run_id", "status", "routing_decision", "confidence", "payload", "updated_at"}).
			AddRow("doc-1", "run-1", "approved", "AUTO_APPROVE", 0.9, []byte(`{"version":99}`), t0))

	_, err := s.GetResult(context.Background(), "doc-1")
	assert.ErrorContains(t, err, "unsupported result payload version 99")
}

func TestPostgresStore_ListActiveRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM mapping_rules WHERE template_id = \$1 AND scope_kind = \$2 AND scope_id = \$3 AND is_active`).
		WithArgs("invoice", "company", "dhl").
		WillReturnRows(pgxmock.NewRows(ruleCols).
			AddRow("r-1", "invoice", "company", "dhl", 10, []byte(`["inv_no"]`), "invoice_number", "regex",
				[]byte(`{"pattern":"INV-\\d+","flags":"i"}`), true, t0, t0))

	rules, err := s.ListActiveRules(context.Background(), "invoice", model.CompanyScope("dhl"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	r := rules[0]
	assert.Equal(t, model.CompanyScope("dhl"), r.Scope)
	assert.Equal(t, model.TransformRegex, r.TransformType)
	assert.Equal(t, `INV-\d+`, r.TransformParams.Pattern)
	assert.Equal(t, []string{"inv_no"}, r.SourceFields)
	assert.True(t, r.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRules_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	scope := model.GlobalScope()

	mock.ExpectQuery(`WHERE true AND template_id = \$1 AND scope_kind = \$2 AND scope_id = \$3 ORDER BY template_id, target_field, id LIMIT \$4`).
		WithArgs("invoice", "global", "", 50).
		WillReturnRows(pgxmock.NewRows(ruleCols))

	rules, err := s.ListRules(context.Background(), RuleFilter{TemplateID: "invoice", Scope: &scope, IncludeInactive: true, Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRule(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO mapping_rules`).
		WithArgs("r-1", "invoice", "global", "", 10, pgxmock.AnyArg(), "invoice_number", "direct",
			pgxmock.AnyArg(), true, t0, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO rule_changes .* RETURNING seq`).
		WithArgs("created", "r-1", pgxmock.AnyArg(), pgxmock.AnyArg(), t0).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectCommit()

	change, err := s.CreateRule(context.Background(), storeRule("r-1", model.GlobalScope(), "invoice_number"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), change.Seq)
	assert.Equal(t, model.RuleCreated, change.Kind)
	assert.True(t, change.Rule.CreatedAt.Equal(t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRule_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO mapping_rules`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.CreateRule(context.Background(), storeRule("r-1", model.GlobalScope(), "invoice_number"))
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRule_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.CreateRule(context.Background(), model.MappingRule{ID: "r-1"})
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateRule(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM mapping_rules WHERE id = \$1 FOR UPDATE`).
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows(ruleCols).
			AddRow("r-1", "invoice", "global", "", 10, []byte(`["inv_no"]`), "invoice_number", "direct", []byte(`{}`), true, t0, t0))
	mock.ExpectExec(`UPDATE mapping_rules SET is_active = false`).
		WithArgs(t0, "r-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO rule_changes`).
		WithArgs("deactivated", "r-1", pgxmock.AnyArg(), pgxmock.AnyArg(), t0).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(8)))
	mock.ExpectCommit()

	change, err := s.DeactivateRule(context.Background(), "r-1")
	require.NoError(t, err)
	assert.False(t, change.Rule.IsActive)
	assert.Equal(t, int64(8), change.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRule_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("r-x").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.UpdateRule(context.Background(), storeRule("r-x", model.GlobalScope(), "invoice_number"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ChangesSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cur := storeRule("r-1", model.FormatScope("dhl-invoice"), "invoice_number")
	prev := storeRule("r-1", model.GlobalScope(), "invoice_number")
	curJSON, _ := json.Marshal(cur)
	prevJSON, _ := json.Marshal(prev)

	mock.ExpectQuery(`FROM rule_changes WHERE seq > \$1 ORDER BY seq`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "kind", "rule", "previous", "changed_at"}).
			AddRow(int64(4), "updated", curJSON, prevJSON, t0).
			AddRow(int64(5), "deactivated", curJSON, []byte(nil), t0))

	changes, err := s.ChangesSince(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.NotNil(t, changes[0].Previous)
	assert.Equal(t, model.GlobalScope(), changes[0].Previous.Scope)
	assert.Equal(t, model.FormatScope("dhl-invoice"), changes[0].Rule.Scope)
	assert.Nil(t, changes[1].Previous)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordTerms(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO terms .* occurrences = terms.occurrences \+ EXCLUDED.occurrences`).
		WithArgs("invoice", "dhl", "awb_no", "123", 1, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.RecordTerms(context.Background(), []model.Term{
		{TemplateID: "invoice", CompanyID: "dhl", Label: "awb_no", SampleValue: "123", LastSeen: t0},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordGroundTruth(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"document_id", "target_field", "value", "corrected_at"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_ground_truth"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "ground_truth" .* ON CONFLICT \("document_id", "target_field"\) DO UPDATE SET "value" = EXCLUDED."value", "corrected_at" = EXCLUDED."corrected_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.RecordGroundTruth(context.Background(), "doc-1", map[string]string{
		"invoice_number": "INV-1",
		"total_amount":   "12.50",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Sample(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	payload, err := encodeResult(runContext("doc-1", model.RoutingAutoApprove))
	require.NoError(t, err)

	mock.ExpectQuery(`d.template_id = \$1 AND d.company_id = \$2 AND EXISTS .* LIMIT \$3`).
		WithArgs("invoice", "dhl", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "template_id", "company_id", "format_id", "payload"}).
			AddRow("doc-1", "invoice", "dhl", "", payload))
	mock.ExpectQuery(`FROM ground_truth WHERE document_id = ANY\(\$1\)`).
		WithArgs([]string{"doc-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"document_id", "target_field", "value"}).
			AddRow("doc-1", "invoice_number", "INV-1"))

	docs, err := s.Sample(context.Background(), ruletest.SampleFilter{
		TemplateID: "invoice", CompanyID: "dhl", Limit: 10, GroundTruthOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "INV-1", docs[0].Extraction.Fields["inv_no"].Value)
	assert.Equal(t, map[string]string{"invoice_number": "INV-1"}, docs[0].GroundTruth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrateAndPing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectPing()

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Outcomes(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := t0.Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT d.status, COUNT\(\*\), COALESCE\(SUM\(r.confidence\), 0\), COUNT\(r.document_id\)\s+FROM documents d LEFT JOIN extraction_results r .* WHERE d.updated_at >= \$1 GROUP BY d.status`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "sum", "scored"}).
			AddRow("approved", int64(3), 2.85, int64(3)).
			AddRow("manual_required", int64(1), 0.45, int64(1)).
			AddRow("failed", int64(2), 0.0, int64(0)))

	stats, err := s.Outcomes(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total())
	assert.Equal(t, 2, stats.ByStatus[model.DocumentStatusFailed])
	assert.InDelta(t, 0.825, stats.AvgConfidence, 0.0001)
	require.NoError(t, mock.ExpectationsWereMet())
}
