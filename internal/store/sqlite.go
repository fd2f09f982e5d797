package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	template_id      TEXT NOT NULL DEFAULT '',
	company_id       TEXT NOT NULL DEFAULT '',
	format_id        TEXT NOT NULL DEFAULT '',
	file_name        TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	routing_decision TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_results (
	document_id      TEXT PRIMARY KEY REFERENCES documents(id),
	run_id           TEXT NOT NULL,
	payload          TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	routing_decision TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS mapping_rules (
	id               TEXT PRIMARY KEY,
	template_id      TEXT NOT NULL,
	scope_kind       TEXT NOT NULL,
	scope_id         TEXT NOT NULL DEFAULT '',
	priority         INTEGER NOT NULL DEFAULT 0,
	source_fields    TEXT NOT NULL,
	target_field     TEXT NOT NULL,
	transform_type   TEXT NOT NULL,
	transform_params TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	rule_id    TEXT NOT NULL,
	rule       TEXT NOT NULL,
	previous   TEXT,
	changed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS terms (
	template_id  TEXT NOT NULL,
	company_id   TEXT NOT NULL DEFAULT '',
	label        TEXT NOT NULL,
	sample_value TEXT NOT NULL DEFAULT '',
	occurrences  INTEGER NOT NULL DEFAULT 0,
	last_seen    DATETIME NOT NULL,
	PRIMARY KEY (template_id, company_id, label)
);

CREATE TABLE IF NOT EXISTS ground_truth (
	document_id  TEXT NOT NULL,
	target_field TEXT NOT NULL,
	value        TEXT NOT NULL,
	corrected_at DATETIME NOT NULL,
	PRIMARY KEY (document_id, target_field)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_context ON documents(template_id, company_id, format_id);
CREATE INDEX IF NOT EXISTS idx_mapping_rules_lookup ON mapping_rules(template_id, scope_kind, scope_id, is_active);
CREATE INDEX IF NOT EXISTS idx_extraction_results_updated ON extraction_results(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// Results

func (s *SQLiteStore) Persist(ctx context.Context, rc *model.RunContext) error {
	payload, err := encodeResult(rc)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	doc := rc.Document
	status := rc.Status()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, template_id, company_id, format_id, file_name, status, routing_decision, error, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				template_id = excluded.template_id,
				company_id = excluded.company_id,
				format_id = excluded.format_id,
				file_name = excluded.file_name,
				status = excluded.status,
				routing_decision = excluded.routing_decision,
				error = excluded.error,
				updated_at = excluded.updated_at`,
			doc.ID, doc.TemplateID, rc.CompanyID(), rc.FormatID(), doc.FileName,
			string(status), string(rc.RoutingDecision), rc.Error, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert document %s", doc.ID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO extraction_results (document_id, run_id, payload, confidence, routing_decision, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(document_id) DO UPDATE SET
				run_id = excluded.run_id,
				payload = excluded.payload,
				confidence = excluded.confidence,
				routing_decision = excluded.routing_decision,
				updated_at = excluded.updated_at`,
			doc.ID, rc.RunID, string(payload), rc.OverallConfidence, string(rc.RoutingDecision), now,
		)
		return eris.Wrapf(err, "sqlite: upsert result %s", doc.ID)
	})
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, documentID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, status, error, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, error = excluded.error, updated_at = excluded.updated_at`,
		documentID, string(model.DocumentStatusFailed), message, s.now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: mark document %s failed", documentID)
}

func (s *SQLiteStore) DocumentStatus(ctx context.Context, documentID string) (model.DocumentStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "document %s", documentID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get document status %s", documentID)
	}
	return model.DocumentStatus(status), nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, documentID string) (*StoredResult, error) {
	var r StoredResult
	var status, decision string
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT r.document_id, r.run_id, d.status, r.routing_decision, r.confidence, r.payload, r.updated_at
		 FROM extraction_results r JOIN documents d ON d.id = r.document_id
		 WHERE r.document_id = ?`,
		documentID,
	).Scan(&r.DocumentID, &r.RunID, &status, &decision, &r.Confidence, &payload, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "result for document %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", documentID)
	}
	r.Status = model.DocumentStatus(status)
	r.RoutingDecision = model.RoutingDecision(decision)
	if r.Payload, err = decodeResult(payload); err != nil {
		return nil, err
	}
	return &r, nil
}

// Rules

const ruleColumns = `id, template_id, scope_kind, scope_id, priority, source_fields, target_field, transform_type, transform_params, is_active, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRule(row scannable) (model.MappingRule, error) {
	var r ruleRow
	err := row.Scan(&r.id, &r.templateID, &r.scopeKind, &r.scopeID, &r.priority, &r.sourceFields,
		&r.target, &r.transform, &r.params, &r.active, &r.createdAt, &r.updatedAt)
	if err != nil {
		return model.MappingRule{}, err
	}
	return r.rule()
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]model.MappingRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rules")
	}
	defer rows.Close()

	var out []model.MappingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rules")
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context, templateID string, scope model.Scope) ([]model.MappingRule, error) {
	kind, id := scopeColumns(scope)
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM mapping_rules
		 WHERE template_id = ? AND scope_kind = ? AND scope_id = ? AND is_active = 1
		 ORDER BY priority DESC, updated_at DESC, id`,
		templateID, kind, id,
	)
}

func (s *SQLiteStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.MappingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mapping_rules WHERE 1=1`
	var args []any
	if filter.TemplateID != "" {
		query += ` AND template_id = ?`
		args = append(args, filter.TemplateID)
	}
	if filter.Scope != nil {
		kind, id := scopeColumns(*filter.Scope)
		query += ` AND scope_kind = ? AND scope_id = ?`
		args = append(args, kind, id)
	}
	if !filter.IncludeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY template_id, target_field, id LIMIT ?`
	args = append(args, limitOr(filter.Limit, 1000))
	return s.queryRules(ctx, query, args...)
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.MappingRule, error) {
	r, err := getRuleTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRuleTx(ctx context.Context, q sqlQueryer, id string) (model.MappingRule, error) {
	r, err := scanRule(q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM mapping_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, eris.Wrapf(ErrNotFound, "rule %s", id)
	}
	return r, eris.Wrapf(err, "sqlite: get rule %s", id)
}

func (s *SQLiteStore) CreateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := s.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	var change model.RuleChange
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row, err := toRuleRow(rule)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mapping_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.templateID, row.scopeKind, row.scopeID, row.priority, string(row.sourceFields),
			row.target, row.transform, string(row.params), row.active, row.createdAt, row.updatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return eris.Errorf("sqlite: rule %s already exists", rule.ID)
			}
			return eris.Wrapf(err, "sqlite: insert rule %s", rule.ID)
		}
		change, err = s.recordChange(ctx, tx, model.RuleCreated, rule, nil, now)
		return err
	})
	return change, err
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error) {
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := s.now().UTC()

	var change model.RuleChange
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := getRuleTx(ctx, tx, rule.ID)
		if err != nil {
			return err
		}
		rule.CreatedAt, rule.UpdatedAt = prev.CreatedAt, now
		row, err := toRuleRow(rule)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE mapping_rules SET template_id = ?, scope_kind = ?, scope_id = ?, priority = ?, source_fields = ?,
				target_field = ?, transform_type = ?, transform_params = ?, is_active = ?, updated_at = ?
			 WHERE id = ?`,
			row.templateID, row.scopeKind, row.scopeID, row.priority, string(row.sourceFields),
			row.target, row.transform, string(row.params), row.active, row.updatedAt, row.id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update rule %s", rule.ID)
		}
		change, err = s.recordChange(ctx, tx, model.RuleUpdated, rule, &prev, now)
		return err
	})
	return change, err
}

func (s *SQLiteStore) DeactivateRule(ctx context.Context, id string) (model.RuleChange, error) {
	now := s.now().UTC()
	var change model.RuleChange
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rule, err := getRuleTx(ctx, tx, id)
		if err != nil {
			return err
		}
		rule.IsActive = false
		rule.UpdatedAt = now
		res, err := tx.ExecContext(ctx, `UPDATE mapping_rules SET is_active = 0, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: deactivate rule %s", id)
		}
		if err := checkRowsAffected(res, "rule", id); err != nil {
			return err
		}
		change, err = s.recordChange(ctx, tx, model.RuleDeactivated, rule, nil, now)
		return err
	})
	return change, err
}

func (s *SQLiteStore) recordChange(ctx context.Context, tx *sql.Tx, kind model.RuleChangeKind, rule model.MappingRule, prev *model.MappingRule, at time.Time) (model.RuleChange, error) {
	ruleJSON, err := encodeRule(&rule)
	if err != nil {
		return model.RuleChange{}, err
	}
	prevJSON, err := encodeRule(prev)
	if err != nil {
		return model.RuleChange{}, err
	}
	var prevArg any
	if prevJSON != nil {
		prevArg = string(prevJSON)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO rule_changes (kind, rule_id, rule, previous, changed_at) VALUES (?, ?, ?, ?, ?) RETURNING seq`,
		string(kind), rule.ID, string(ruleJSON), prevArg, at,
	).Scan(&seq)
	if err != nil {
		return model.RuleChange{}, eris.Wrapf(err, "sqlite: record %s change for rule %s", kind, rule.ID)
	}
	return model.RuleChange{Seq: seq, Kind: kind, Rule: rule, Previous: prev, At: at}, nil
}

func (s *SQLiteStore) ChangesSince(ctx context.Context, seq int64) ([]model.RuleChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, rule, previous, changed_at FROM rule_changes WHERE seq > ? ORDER BY seq`,
		seq,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rule changes")
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
			return nil, eris.Wrap(err, "sqlite: scan rule change")
		}
		c, err := decodeChange(n, kind, rule, prev, at)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rule changes")
}

// Terms

func (s *SQLiteStore) RecordTerms(ctx context.Context, terms []model.Term) error {
	if len(terms) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range terms {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO terms (template_id, company_id, label, sample_value, occurrences, last_seen)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(template_id, company_id, label) DO UPDATE SET
					sample_value = excluded.sample_value,
					occurrences = terms.occurrences + excluded.occurrences,
					last_seen = excluded.last_seen`,
				t.TemplateID, t.CompanyID, t.Label, t.SampleValue, max(t.Occurrences, 1), t.LastSeen.UTC(),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: record term %q", t.Label)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListTerms(ctx context.Context, templateID string, limit int) ([]model.Term, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id, company_id, label, sample_value, occurrences, last_seen FROM terms
		 WHERE template_id = ? ORDER BY occurrences DESC, label LIMIT ?`,
		templateID, limitOr(limit, defaultListLimit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terms")
	}
	defer rows.Close()

	var out []model.Term
	for rows.Next() {
		var t model.Term
		if err := rows.Scan(&t.TemplateID, &t.CompanyID, &t.Label, &t.SampleValue, &t.Occurrences, &t.LastSeen); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan term")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate terms")
}

// Monitoring

func (s *SQLiteStore) Outcomes(ctx context.Context, since time.Time) (OutcomeStats, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(outcomeQuery, "?"), since.UTC())
	if err != nil {
		return OutcomeStats{}, eris.Wrap(err, "sqlite: count outcomes")
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
			return OutcomeStats{}, eris.Wrap(err, "sqlite: scan outcome")
		}
		acc.add(status, count, confidenceTotal, scored)
	}
	return acc.result(), eris.Wrap(rows.Err(), "sqlite: iterate outcomes")
}

// History

func (s *SQLiteStore) RecordGroundTruth(ctx context.Context, documentID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for field, value := range values {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO ground_truth (document_id, target_field, value, corrected_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(document_id, target_field) DO UPDATE SET value = excluded.value, corrected_at = excluded.corrected_at`,
				documentID, field, value, now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: record ground truth %s.%s", documentID, field)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Sample(ctx context.Context, filter ruletest.SampleFilter) ([]model.HistoricalDocument, error) {
	query := `SELECT d.id, d.template_id, d.company_id, d.format_id, r.payload
		FROM extraction_results r JOIN documents d ON d.id = r.document_id
		WHERE d.status != 'failed' AND d.template_id = ?`
	args := []any{filter.TemplateID}
	if filter.CompanyID != "" {
		query += ` AND d.company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.FormatID != "" {
		query += ` AND d.format_id = ?`
		args = append(args, filter.FormatID)
	}
	if !filter.Since.IsZero() {
		query += ` AND r.updated_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if filter.GroundTruthOnly {
		query += ` AND EXISTS (SELECT 1 FROM ground_truth g WHERE g.document_id = d.id)`
	}
	query += ` ORDER BY r.updated_at DESC, d.id LIMIT ?`
	args = append(args, limitOr(filter.Limit, ruletest.DefaultSampleSize))

	docs, err := s.scanHistory(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if err := s.attachGroundTruth(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *SQLiteStore) scanHistory(ctx context.Context, query string, args []any) ([]model.HistoricalDocument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sample history")
	}
	defer rows.Close()

	var docs []model.HistoricalDocument
	for rows.Next() {
		var d model.HistoricalDocument
		var payload []byte
		if err := rows.Scan(&d.DocumentID, &d.TemplateID, &d.CompanyID, &d.FormatID, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		p, err := decodeResult(payload)
		if err != nil {
			return nil, eris.Wrapf(err, "document %s", d.DocumentID)
		}
		d.Extraction = p.Extracted
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

func (s *SQLiteStore) attachGroundTruth(ctx context.Context, docs []model.HistoricalDocument) error {
	if len(docs) == 0 {
		return nil
	}
	index := make(map[string]int, len(docs))
	ids := make([]any, len(docs))
	for i, d := range docs {
		index[d.DocumentID] = i
		ids[i] = d.DocumentID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, target_field, value FROM ground_truth WHERE document_id IN (`+placeholders+`)`,
		ids...,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: load ground truth")
	}
	defer rows.Close()

	for rows.Next() {
		var id, field, value string
		if err := rows.Scan(&id, &field, &value); err != nil {
			return eris.Wrap(err, "sqlite: scan ground truth")
		}
		d := &docs[index[id]]
		if d.GroundTruth == nil {
			d.GroundTruth = make(map[string]string)
		}
		d.GroundTruth[field] = value
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate ground truth")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
