package mapping

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// MemoryRules is an in-process rule repository. It backs offline commands
// that read rules from a YAML file and the package tests.
type MemoryRules struct {
	mu      sync.Mutex
	rules   map[string]model.MappingRule
	changes []model.RuleChange
	now     func() time.Time
}

// NewMemoryRules seeds a repository with rules. Seeded rules produce no
// change records.
func NewMemoryRules(rules ...model.MappingRule) *MemoryRules {
	m := &MemoryRules{rules: make(map[string]model.MappingRule, len(rules)), now: time.Now}
	for _, r := range rules {
		m.rules[r.ID] = r
	}
	return m
}

func (m *MemoryRules) ListActiveRules(_ context.Context, templateID string, scope model.Scope) ([]model.MappingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MappingRule
	for _, r := range m.rules {
		if r.IsActive && r.TemplateID == templateID && r.Scope == scope {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, precedes)
	return out, nil
}

// All returns every stored rule, active or not, ordered by id.
func (m *MemoryRules) All() []model.MappingRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MappingRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.MappingRule) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

func (m *MemoryRules) CreateRule(_ context.Context, rule model.MappingRule) (model.RuleChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, ok := m.rules[rule.ID]; ok {
		return model.RuleChange{}, eris.Errorf("mapping: rule %s already exists", rule.ID)
	}
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := m.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	m.rules[rule.ID] = rule
	return m.record(model.RuleCreated, rule, nil, now), nil
}

func (m *MemoryRules) UpdateRule(_ context.Context, rule model.MappingRule) (model.RuleChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.rules[rule.ID]
	if !ok {
		return model.RuleChange{}, eris.Errorf("mapping: rule %s not found", rule.ID)
	}
	if err := rule.Validate(); err != nil {
		return model.RuleChange{}, err
	}
	now := m.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = prev.CreatedAt, now
	m.rules[rule.ID] = rule
	return m.record(model.RuleUpdated, rule, &prev, now), nil
}

func (m *MemoryRules) DeactivateRule(_ context.Context, id string) (model.RuleChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return model.RuleChange{}, eris.Errorf("mapping: rule %s not found", id)
	}
	now := m.now().UTC()
	rule.IsActive = false
	rule.UpdatedAt = now
	m.rules[id] = rule
	return m.record(model.RuleDeactivated, rule, nil, now), nil
}

func (m *MemoryRules) ChangesSince(_ context.Context, seq int64) ([]model.RuleChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RuleChange
	for _, c := range m.changes {
		if c.Seq > seq {
			out = append(out, c)
		}
	}
	return out, nil
}

// record appends a change. Caller holds mu.
func (m *MemoryRules) record(kind model.RuleChangeKind, rule model.MappingRule, prev *model.MappingRule, at time.Time) model.RuleChange {
	c := model.RuleChange{
		Seq:      int64(len(m.changes) + 1),
		Kind:     kind,
		Rule:     rule,
		Previous: prev,
		At:       at,
	}
	m.changes = append(m.changes, c)
	return c
}
