// Package mapping resolves the layered mapping rule set for a document
// context and applies it to raw extracted fields.
package mapping

import (
	"cmp"
	"slices"
	"time"

	"github.com/sells-group/docflow/internal/model"
)

// Key identifies one resolution context. CompanyID and FormatID may be empty.
type Key struct {
	TemplateID string `json:"template_id"`
	CompanyID  string `json:"company_id,omitempty"`
	FormatID   string `json:"format_id,omitempty"`
}

// Validate requires a template.
func (k Key) Validate() error {
	if k.TemplateID == "" {
		return model.NewConfigError("mapping key", "template id is required")
	}
	return nil
}

// Scopes lists the scopes whose rules participate for k, least specific first.
func (k Key) Scopes() []model.Scope {
	scopes := []model.Scope{model.GlobalScope()}
	if k.CompanyID != "" {
		scopes = append(scopes, model.CompanyScope(k.CompanyID))
	}
	if k.FormatID != "" {
		scopes = append(scopes, model.FormatScope(k.FormatID))
	}
	return scopes
}

// covers reports whether a rule at scope s for templateID can affect k.
func (k Key) covers(templateID string, s model.Scope) bool {
	if k.TemplateID != templateID {
		return false
	}
	switch s.Kind {
	case model.ScopeGlobal:
		return true
	case model.ScopeCompany:
		return k.CompanyID == s.ID
	case model.ScopeFormat:
		return k.FormatID == s.ID
	default:
		return false
	}
}

// KeyFor builds the resolution key of a historical document.
func KeyFor(doc model.HistoricalDocument) Key {
	return Key{TemplateID: doc.TemplateID, CompanyID: doc.CompanyID, FormatID: doc.FormatID}
}

// precedes orders candidates for one target: higher specificity, then higher
// priority, then most recent update. Ties fall through to rule id so the
// shadowed list is stable.
func precedes(a, b model.MappingRule) int {
	if c := cmp.Compare(b.Scope.Specificity(), a.Scope.Specificity()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func tied(a, b model.MappingRule) bool {
	return a.Scope.Specificity() == b.Scope.Specificity() &&
		a.Priority == b.Priority &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// ResolveRules merges rules into the effective configuration for key.
// Inactive rules and rules outside key's template or scopes are ignored;
// malformed rules fail with *model.ConfigError. For every target field the
// winner is chosen by FORMAT > COMPANY > GLOBAL, then priority descending,
// then UpdatedAt descending. A tie on all three is an *AmbiguityError.
func ResolveRules(key Key, rules []model.MappingRule, now time.Time) (*model.ResolvedMappingConfig, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	byTarget := make(map[string][]model.MappingRule)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if !r.Applies(key.TemplateID, key.CompanyID, key.FormatID) {
			continue
		}
		byTarget[r.TargetField] = append(byTarget[r.TargetField], r)
	}

	cfg := &model.ResolvedMappingConfig{
		SchemaVersion: model.ResolvedSchemaVersion,
		TemplateID:    key.TemplateID,
		CompanyID:     key.CompanyID,
		FormatID:      key.FormatID,
		Fields:        make(map[string]model.ResolvedRule, len(byTarget)),
		ResolvedAt:    now,
	}

	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	slices.Sort(targets)

	for _, target := range targets {
		cands := byTarget[target]
		slices.SortFunc(cands, precedes)

		if len(cands) > 1 && tied(cands[0], cands[1]) {
			ids := []string{cands[0].ID}
			for _, c := range cands[1:] {
				if !tied(cands[0], c) {
					break
				}
				ids = append(ids, c.ID)
			}
			return nil, &AmbiguityError{
				TemplateID:  key.TemplateID,
				TargetField: target,
				Scope:       cands[0].Scope.String(),
				RuleIDs:     ids,
			}
		}

		resolved := model.ResolvedRule{Rule: cands[0]}
		for _, c := range cands[1:] {
			resolved.Shadowed = append(resolved.Shadowed, c.ID)
		}
		cfg.Fields[target] = resolved
	}
	return cfg, nil
}

// Substitute returns rules with candidate in place of the rule sharing its
// id, or appended when no rule does. The input slice is not modified.
func Substitute(rules []model.MappingRule, candidate model.MappingRule) []model.MappingRule {
	out := make([]model.MappingRule, 0, len(rules)+1)
	replaced := false
	for _, r := range rules {
		if r.ID == candidate.ID {
			out = append(out, candidate)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, candidate)
	}
	return out
}
