// Package ruletest replays a candidate mapping rule against historical
// documents and measures its impact before the rule is promoted.
package ruletest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
)

// DefaultMaxRegressionRate is used when the tester is built without one.
const DefaultMaxRegressionRate = 0.05

// DefaultSampleSize bounds samples pulled by Run when the filter sets no limit.
const DefaultSampleSize = 100

// SampleFilter selects historical documents for a test.
type SampleFilter struct {
	TemplateID string    `json:"template_id"`
	CompanyID  string    `json:"company_id,omitempty"`
	FormatID   string    `json:"format_id,omitempty"`
	Since      time.Time `json:"since,omitzero"`
	Limit      int       `json:"limit,omitempty"`
	// GroundTruthOnly restricts the sample to documents a reviewer corrected.
	GroundTruthOnly bool `json:"ground_truth_only,omitempty"`
}

// HistorySource returns previously processed documents with their stored
// raw extraction and any reviewer-confirmed values.
type HistorySource interface {
	Sample(ctx context.Context, filter SampleFilter) ([]model.HistoricalDocument, error)
}

// SkippedDocument is a sample document that could not be evaluated.
type SkippedDocument struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// Report is the full outcome of one test.
type Report struct {
	Candidate  model.MappingRule            `json:"candidate"`
	Results    []model.RegressionTestResult `json:"results"`
	Skipped    []SkippedDocument            `json:"skipped,omitempty"`
	Summary    Summary                      `json:"summary"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// Option configures a Tester.
type Option func(*Tester)

// WithMaxRegressionRate sets the regression rate above which a candidate is rejected.
func WithMaxRegressionRate(rate float64) Option {
	return func(t *Tester) { t.maxRegressionRate = rate }
}

// WithSampleSize sets the default sample limit for Run.
func WithSampleSize(n int) Option {
	return func(t *Tester) { t.sampleSize = n }
}

// WithConcurrency bounds how many documents are evaluated at once.
func WithConcurrency(n int) Option {
	return func(t *Tester) { t.concurrency = n }
}

// WithClock overrides the clock used for resolution and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tester) { t.now = now }
}

// Tester runs rule regression tests. It only reads rules and history.
type Tester struct {
	rules             mapping.RuleSource
	history           HistorySource
	maxRegressionRate float64
	sampleSize        int
	concurrency       int
	now               func() time.Time
}

// NewTester creates a Tester over the active rules in rules. history may be
// nil when only Test is used.
func NewTester(rules mapping.RuleSource, history HistorySource, opts ...Option) *Tester {
	t := &Tester{
		rules:             rules,
		history:           history,
		maxRegressionRate: DefaultMaxRegressionRate,
		sampleSize:        DefaultSampleSize,
		concurrency:       8,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run pulls a sample from the history source and tests candidate against it.
// Empty filter fields default to the candidate's template and scope.
func (t *Tester) Run(ctx context.Context, candidate model.MappingRule, filter SampleFilter) (*Report, error) {
	if t.history == nil {
		return nil, eris.New("ruletest: no history source configured")
	}
	if filter.TemplateID == "" {
		filter.TemplateID = candidate.TemplateID
	}
	switch candidate.Scope.Kind {
	case model.ScopeCompany:
		if filter.CompanyID == "" {
			filter.CompanyID = candidate.Scope.ID
		}
	case model.ScopeFormat:
		if filter.FormatID == "" {
			filter.FormatID = candidate.Scope.ID
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = t.sampleSize
	}

	sample, err := t.history.Sample(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "ruletest: load sample")
	}
	return t.Test(ctx, candidate, sample)
}

// Test re-applies mapping to every document in sample twice, once with the
// active rules and once with candidate substituted in, and classifies the
// difference on the candidate's target field. When candidate replaces a rule
// that maps another target, that target is classified too, so a document can
// yield two results. The candidate competes as the most recently updated
// rule, as it would once promoted. Documents whose rules cannot be resolved
// are reported as skipped and left out of the summary.
func (t *Tester) Test(ctx context.Context, candidate model.MappingRule, sample []model.HistoricalDocument) (*Report, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("component", "ruletest"),
		zap.String("rule_id", candidate.ID),
		zap.String("target_field", candidate.TargetField),
	)
	report := &Report{Candidate: candidate, StartedAt: t.now().UTC()}

	current, err := t.loadRules(ctx, sample)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		results []model.RegressionTestResult
		skipped *SkippedDocument
	}
	outcomes := make([]outcome, len(sample))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, t.concurrency))
	for i, doc := range sample {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := t.evaluate(candidate, doc, current[mapping.KeyFor(doc)])
			if err != nil {
				outcomes[i].skipped = &SkippedDocument{DocumentID: doc.DocumentID, Reason: err.Error()}
				return nil
			}
			outcomes[i].results = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ruletest: evaluate sample")
	}

	for _, o := range outcomes {
		switch {
		case o.results != nil:
			report.Results = append(report.Results, o.results...)
		case o.skipped != nil:
			report.Skipped = append(report.Skipped, *o.skipped)
		}
	}
	report.Summary = Summarize(report.Results, t.maxRegressionRate)
	report.FinishedAt = t.now().UTC()

	log.Info("rule test complete",
		zap.Int("total", report.Summary.Total),
		zap.Int("improved", report.Summary.Improved),
		zap.Int("regressed", report.Summary.Regressed),
		zap.Int("skipped", len(report.Skipped)),
		zap.String("recommendation", string(report.Summary.Recommendation)),
	)
	return report, nil
}

// loadRules fetches the active rules once per distinct resolution key.
func (t *Tester) loadRules(ctx context.Context, sample []model.HistoricalDocument) (map[mapping.Key][]model.MappingRule, error) {
	out := make(map[mapping.Key][]model.MappingRule)
	for _, doc := range sample {
		key := mapping.KeyFor(doc)
		if _, ok := out[key]; ok {
			continue
		}
		var rules []model.MappingRule
		for _, scope := range key.Scopes() {
			batch, err := t.rules.ListActiveRules(ctx, key.TemplateID, scope)
			if err != nil {
				return nil, eris.Wrapf(err, "ruletest: list rules %s %s", key.TemplateID, scope)
			}
			rules = append(rules, batch...)
		}
		out[key] = rules
	}
	return out, nil
}

func (t *Tester) evaluate(candidate model.MappingRule, doc model.HistoricalDocument, current []model.MappingRule) ([]model.RegressionTestResult, error) {
	key := mapping.KeyFor(doc)
	now := t.now().UTC()

	original, err := mapping.ResolveRules(key, current, now)
	if err != nil {
		return nil, eris.Wrap(err, "resolve current rules")
	}
	candidate = promoted(candidate, current, now)
	tested, err := mapping.ResolveRules(key, mapping.Substitute(current, candidate), now)
	if err != nil {
		return nil, eris.Wrap(err, "resolve with candidate")
	}

	targets := []string{candidate.TargetField}
	for _, r := range current {
		if r.ID == candidate.ID && r.TargetField != candidate.TargetField {
			targets = append(targets, r.TargetField)
		}
	}

	results := make([]model.RegressionTestResult, 0, len(targets))
	for _, target := range targets {
		res := model.RegressionTestResult{DocumentID: doc.DocumentID, TargetField: target}
		res.OriginalResult, res.OriginalConfidence = valueOf(original, target, doc.Extraction)
		res.TestResult, res.TestConfidence = valueOf(tested, target, doc.Extraction)
		if v, ok := doc.GroundTruth[target]; ok {
			res.ActualValue = &v
		}
		res.ChangeType = Classify(res.OriginalResult, res.TestResult, res.OriginalConfidence, res.TestConfidence, res.ActualValue)
		results = append(results, res)
	}
	return results, nil
}

// promoted returns candidate as the store would hold it after promotion:
// updated later than every other rule it competes with. A replaced rule
// keeps its creation time.
func promoted(candidate model.MappingRule, current []model.MappingRule, now time.Time) model.MappingRule {
	stamp := now
	created := time.Time{}
	for _, r := range current {
		if r.ID == candidate.ID {
			created = r.CreatedAt
			continue
		}
		if !r.UpdatedAt.Before(stamp) {
			stamp = r.UpdatedAt.Add(time.Nanosecond)
		}
	}
	candidate.UpdatedAt = stamp
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = created
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = stamp
	}
	return candidate
}

// valueOf maps target with the winning rule of cfg. A target without a rule
// or without a value yields the empty string.
func valueOf(cfg *model.ResolvedMappingConfig, target string, ex model.RawExtraction) (string, float64) {
	rr, ok := cfg.Fields[target]
	if !ok {
		return "", 0
	}
	f, _, ok := mapping.ApplyRule(rr.Rule, ex)
	if !ok {
		return "", 0
	}
	return f.Value, f.Confidence
}
