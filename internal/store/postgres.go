package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/db"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot paths: rule resolution and result persistence.
var preparedStatements = map[string]string{
	"list_active_rules": `SELECT ` + ruleColumns + ` FROM mapping_rules WHERE template_id = $1 AND scope_kind = $2 AND scope_id = $3 AND is_active ORDER BY priority DESC, updated_at DESC, id`,
	"changes_since":     `SELECT seq, kind, rule, previous, changed_at FROM rule_changes WHERE seq > $1 ORDER BY seq`,
	"upsert_document":   upsertDocumentSQL,
	"upsert_result":     upsertResultSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	template_id      TEXT NOT NULL DEFAULT '',
	company_id       TEXT NOT NULL DEFAULT '',
	format_id        TEXT NOT NULL DEFAULT '',
	file_name        TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	routing_decision TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_results (
	document_id      TEXT PRIMARY KEY REFERENCES documents(id),
	run_id           TEXT NOT NULL,
	payload          JSONB NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	routing_decision TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mapping_rules (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	template_id      TEXT NOT NULL,
	scope_kind       TEXT NOT NULL,
	scope_id         TEXT NOT NULL DEFAULT '',
	priority         INTEGER NOT NULL DEFAULT 0,
	source_fields    JSONB NOT NULL,
	target_field     TEXT NOT NULL,
	transform_type   TEXT NOT NULL,
	transform_params JSONB NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_changes (
	seq        BIGSERIAL PRIMARY KEY,
	kind       TEXT NOT NULL,
	rule_id    TEXT NOT NULL,
	rule       JSONB NOT NULL,
	previous   JSONB,
	changed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS terms (
	template_id  TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	label        TEXT NOT NULL,
	sample_value TEXT NOT NULL DEFAULT '',
	occurrences  INTEGER NOT NULL DEFAULT 0,
	last_seen    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (template_id, company_id, label)
);

CREATE TABLE IF NOT EXISTS ground_truth (
	document_id  TEXT NOT NULL,
	target_field TEXT NOT NULL,
	value        TEXT NOT NULL,
	corrected_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, target_field)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_context ON documents(template_id, company_id, format_id);
CREATE INDEX IF NOT EXISTS idx_mapping_rules_lookup ON mapping_rules(template_id, scope_kind, scope_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_extraction_results_updated ON extraction_results(updated_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Results

const upsertDocumentSQL = `INSERT INTO documents (id, template_id, company_id, format_id, file_name, status, routing_decision, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	template_id = EXCLUDED.template_id,
	company_id = EXCLUDED.company_id,
	format_id = EXCLUDED.format_id,
	file_name = EXCLUDED.file_name,
	status = EXCLUDED.status,
	routing_decision = EXCLUDED.routing_decision,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`

const upsertResultSQL = `INSERT INTO extraction_results (document_id, run_id, payload, confidence, routing_decision, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (document_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	payload = EXCLUDED.payload,
	confidence = EXCLUDED.confidence,
	routing_decision = EXCLUDED.routing_decision,
	updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) Persist(ctx context.Context, rc *model.RunContext) error {
	payload, err := encodeResult(rc)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	doc := rc.Document

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertDocumentSQL,
			doc.ID, doc.TemplateID, rc.CompanyID(), rc.FormatID(), doc.FileName,
			string(rc.Status()), string(rc.RoutingDecision), rc.Error, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert document %s", doc.ID)
		}
		if _, err := tx.Exec(ctx, upsertResultSQL,
			doc.ID, rc.RunID, payload, rc.OverallConfidence, string(rc.RoutingDecision), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert result %s", doc.ID)
		}
		return nil
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, documentID, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, status, error, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at`,
		documentID, string(model.DocumentStatusFailed), message, s.now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark document %s failed", documentID)
}

func (s *PostgresStore) DocumentStatus(ctx context.Context, documentID string) (model.DocumentStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, documentID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "document %s", documentID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get document status %s", documentID)
	}
	return model.DocumentStatus(status), nil
}

func (s *PostgresStore) GetResult(ctx context.Context, documentID string) (*StoredResult, error) {
	var r StoredResult
	var status, decision string
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT r.document_id, r.run_id, d.status, r.routing_decision, r.confidence, r.payload, r.updated_at
		 FROM extraction_results r JOIN documents d ON d.id = r.document_id
		 WHERE r.document_id = $1`,
		documentID,
	).Scan(&r.DocumentID, &r.RunID, &status, &decision, &r.Confidence, &payload, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "result for document %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", documentID)
	}
	r.Status = model.DocumentStatus(status)
	r.RoutingDecision = model.RoutingDecision(decision)
	if r.Payload, err = decodeResult(payload); err != nil {
		return nil, err
	}
	return &r, nil
}

// Rules

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgQueryRules(ctx context.Context, q pgQueryer, query string, args ...any) ([]model.MappingRule, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rules")
	}
	defer rows.Close()

	var out []model.MappingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rules")
}

func pgGetRule(ctx context.Context, q pgQueryer, id string, forUpdate bool) (model.MappingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mapping_rules WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanRule(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, eris.Wrapf(ErrNotFound, "rule %s", id)
	}
	return r, eris.Wrapf(err, "postgres: get rule %s", id)
}

func (s *PostgresStore) ListActiveRules(ctx context.Context, templateID string, scope model.Scope) ([]model.MappingRule, error) {
	kind, id := scopeColumns(scope)
	return pgQueryRules(ctx, s.pool, preparedStatements["list_active_rules"], templateID, kind, id)
}

func (s *PostgresStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.MappingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mapping_rules WHERE true`
	var args []any
	argIdx := 1
	if filter.TemplateID != "" {
		query += fmt.Sprintf(` AND template_id = $%d`, argIdx)
		args = append(args, filter.TemplateID)
		argIdx++
	}
	if filter.Scope != nil {
		kind, id := scopeColumns(*filter.Scope)
		query += fmt.Sprintf(` AND scope_kind = $%d AND scope_id = $%d`, argIdx, argIdx+1)
		args = append(args, kind, id)
		argIdx += 2
	}
	if !filter.IncludeInactive {
		query += ` AND is_active`
	}
	query += fmt.Sprintf(` ORDER BY template_id, target_field, id LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, 1000))
	return pgQueryRules(ctx, s.pool, query, args...)
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.MappingRule, error) {
	r, err := pgGetRule(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const insertRuleSQL = `INSERT INTO mapping_rules (` + ruleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *PostgresStore) CreateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := s.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	row, err := toRuleRow(rule)
	if err != nil {
		return model.RuleChange{}, err
	}

	var change model.RuleChange
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRuleSQL,
			row.id, row.templateID, row.scopeKind, row.scopeID, row.priority, row.sourceFields,
			row.target, row.transform, row.params, row.active, row.createdAt, row.updatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return eris.Errorf("postgres: rule %s already exists", rule.ID)
			}
			return eris.Wrapf(err, "postgres: insert rule %s", rule.ID)
		}
		change, err = pgRecordChange(ctx, tx, model.RuleCreated, rule, nil, now)
		return err
	})
	return change, err
}

func (s *PostgresStore) UpdateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error) {
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := s.now().UTC()

	var change model.RuleChange
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		prev, err := pgGetRule(ctx, tx, rule.ID, true)
		if err != nil {
			return err
		}
		rule.CreatedAt, rule.UpdatedAt = prev.CreatedAt, now
		row, err := toRuleRow(rule)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE mapping_rules SET template_id = $1, scope_kind = $2, scope_id = $3, priority = $4, source_fields = $5,
				target_field = $6, transform_type = $7, transform_params = $8, is_active = $9, updated_at = $10
			 WHERE id = $11`,
			row.templateID, row.scopeKind, row.scopeID, row.priority, row.sourceFields,
			row.target, row.transform, row.params, row.active, row.updatedAt, row.id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update rule %s", rule.ID)
		}
		change, err = pgRecordChange(ctx, tx, model.RuleUpdated, rule, &prev, now)
		return err
	})
	return change, err
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id string) (model.RuleChange, error) {
	now := s.now().UTC()
	var change model.RuleChange
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rule, err := pgGetRule(ctx, tx, id, true)
		if err != nil {
			return err
		}
		rule.IsActive = false
		rule.UpdatedAt = now
		tag, err := tx.Exec(ctx, `UPDATE mapping_rules SET is_active = false, updated_at = $1 WHERE id = $2`, now, id)
		if err != nil {
			return eris.Wrapf(err, "postgres: deactivate rule %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "rule %s", id)
		}
		change, err = pgRecordChange(ctx, tx, model.RuleDeactivated, rule, nil, now)
		return err
	})
	return change, err
}

func pgRecordChange(ctx context.Context, tx pgx.Tx, kind model.RuleChangeKind, rule model.MappingRule, prev *model.MappingRule, at time.Time) (model.RuleChange, error) {
	ruleJSON, err := encodeRule(&rule)
	if err != nil {
		return model.RuleChange{}, err
	}
	prevJSON, err := encodeRule(prev)
	if err != nil {
		return model.RuleChange{}, err
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rule_changes (kind, rule_id, rule, previous, changed_at) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		string(kind), rule.ID, ruleJSON, prevJSON, at,
	).Scan(&seq)
	if err != nil {
		return model.RuleChange{}, eris.Wrapf(err, "postgres: record %s change for rule %s", kind, rule.ID)
	}
	return model.RuleChange{Seq: seq, Kind: kind, Rule: rule, Previous: prev, At: at}, nil
}

func (s *PostgresStore) ChangesSince(ctx context.Context, seq int64) ([]model.RuleChange, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["changes_since"], seq)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rule changes")
	}
	defer rows.Close()

	var out []model.RuleChange
	for rows.Next() {
		var (
			n          int64
			kind       string
			rule, prev []byte
			at         time.Time
		)
		if err := rows.Scan(&n, &kind, &rule, &prev, &at); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule change")
		}
		c, err := decodeChange(n, kind, rule, prev, at)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rule changes")
}

// Terms

func (s *PostgresStore) RecordTerms(ctx context.Context, terms []model.Term) error {
	if len(terms) == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, t := range terms {
			_, err := tx.Exec(ctx,
				`INSERT INTO terms (template_id, company_id, label, sample_value, occurrences, last_seen)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (template_id, company_id, label) DO UPDATE SET
					sample_value = EXCLUDED.sample_value,
					occurrences = terms.occurrences + EXCLUDED.occurrences,
					last_seen = GREATEST(terms.last_seen, EXCLUDED.last_seen)`,
				t.TemplateID, t.CompanyID, t.Label, t.SampleValue, max(t.Occurrences, 1), t.LastSeen.UTC(),
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: record term %q", t.Label)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListTerms(ctx context.Context, templateID string, limit int) ([]model.Term, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT template_id, company_id, label, sample_value, occurrences, last_seen FROM terms
		 WHERE template_id = $1 ORDER BY occurrences DESC, label LIMIT $2`,
		templateID, limitOr(limit, defaultListLimit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terms")
	}
	defer rows.Close()

	var out []model.Term
	for rows.Next() {
		var t model.Term
		if err := rows.Scan(&t.TemplateID, &t.CompanyID, &t.Label, &t.SampleValue, &t.Occurrences, &t.LastSeen); err != nil {
			return nil, eris.Wrap(err, "postgres: scan term")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate terms")
}

// Monitoring

func (s *PostgresStore) Outcomes(ctx context.Context, since time.Time) (OutcomeStats, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(outcomeQuery, "$1"), since.UTC())
	if err != nil {
		return OutcomeStats{}, eris.Wrap(err, "postgres: count outcomes")
	}
	defer rows.Close()

	acc := newOutcomeAccumulator()
	for rows.Next() {
		var (
			status          string
			count, scored   int64
			confidenceTotal float64
		)
		if err := rows.Scan(&status, &count, &confidenceTotal, &scored); err != nil {
			return OutcomeStats{}, eris.Wrap(err, "postgres: scan outcome")
		}
		acc.add(status, count, confidenceTotal, scored)
	}
	return acc.result(), eris.Wrap(rows.Err(), "postgres: iterate outcomes")
}

// History

// RecordGroundTruth bulk-loads reviewer corrections through a temp table.
func (s *PostgresStore) RecordGroundTruth(ctx context.Context, documentID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now().UTC()
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	rows := make([][]any, len(fields))
	for i, f := range fields {
		rows[i] = []any{documentID, f, values[f], now}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "ground_truth",
		Columns:      []string{"document_id", "target_field", "value", "corrected_at"},
		ConflictKeys: []string{"document_id", "target_field"},
	}, rows)
	return eris.Wrapf(err, "postgres: record ground truth %s", documentID)
}

func (s *PostgresStore) Sample(ctx context.Context, filter ruletest.SampleFilter) ([]model.HistoricalDocument, error) {
	var where []string
	args := []any{filter.TemplateID}
	where = append(where, `d.status <> 'failed'`, `d.template_id = $1`)
	if filter.CompanyID != "" {
		args = append(args, filter.CompanyID)
		where = append(where, fmt.Sprintf(`d.company_id = $%d`, len(args)))
	}
	if filter.FormatID != "" {
		args = append(args, filter.FormatID)
		where = append(where, fmt.Sprintf(`d.format_id = $%d`, len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf(`r.updated_at >= $%d`, len(args)))
	}
	if filter.GroundTruthOnly {
		where = append(where, `EXISTS (SELECT 1 FROM ground_truth g WHERE g.document_id = d.id)`)
	}
	args = append(args, limitOr(filter.Limit, ruletest.DefaultSampleSize))
	query := `SELECT d.id, d.template_id, d.company_id, d.format_id, r.payload
		FROM extraction_results r JOIN documents d ON d.id = r.document_id
		WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY r.updated_at DESC, d.id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sample history")
	}
	var docs []model.HistoricalDocument
	for rows.Next() {
		var d model.HistoricalDocument
		var payload []byte
		if err := rows.Scan(&d.DocumentID, &d.TemplateID, &d.CompanyID, &d.FormatID, &payload); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		p, err := decodeResult(payload)
		if err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "document %s", d.DocumentID)
		}
		d.Extraction = p.Extracted
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate history")
	}

	if err := s.attachGroundTruth(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *PostgresStore) attachGroundTruth(ctx context.Context, docs []model.HistoricalDocument) error {
	if len(docs) == 0 {
		return nil
	}
	index := make(map[string]int, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		index[d.DocumentID] = i
		ids[i] = d.DocumentID
	}
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, target_field, value FROM ground_truth WHERE document_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: load ground truth")
	}
	defer rows.Close()

	for rows.Next() {
		var id, field, value string
		if err := rows.Scan(&id, &field, &value); err != nil {
			return eris.Wrap(err, "postgres: scan ground truth")
		}
		d := &docs[index[id]]
		if d.GroundTruth == nil {
			d.GroundTruth = make(map[string]string)
		}
		d.GroundTruth[field] = value
	}
	return eris.Wrap(rows.Err(), "postgres: iterate ground truth")
}
