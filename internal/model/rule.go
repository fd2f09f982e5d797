package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ScopeKind discriminates the granularity tier of a mapping rule.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota + 1
	ScopeCompany
	ScopeFormat
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeCompany:
		return "company"
	case ScopeFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Scope is the tagged variant {Global | Company(id) | Format(id)}.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// GlobalScope returns the scope shared by every document.
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// CompanyScope returns the scope for a single issuing company.
func CompanyScope(companyID string) Scope { return Scope{Kind: ScopeCompany, ID: companyID} }

// FormatScope returns the scope for a single document format.
func FormatScope(formatID string) Scope { return Scope{Kind: ScopeFormat, ID: formatID} }

// Specificity orders scopes for precedence: FORMAT > COMPANY > GLOBAL.
func (s Scope) Specificity() int {
	switch s.Kind {
	case ScopeGlobal:
		return 1
	case ScopeCompany:
		return 2
	case ScopeFormat:
		return 3
	default:
		return 0
	}
}

// Validate checks that the scope carries an id exactly when it needs one.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		if s.ID != "" {
			return eris.Errorf("global scope must not carry an id (got %q)", s.ID)
		}
	case ScopeCompany, ScopeFormat:
		if s.ID == "" {
			return eris.Errorf("%s scope requires an id", s.Kind)
		}
	default:
		return eris.Errorf("unknown scope kind %d", s.Kind)
	}
	return nil
}

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return "global"
	}
	return s.Kind.String() + ":" + s.ID
}

// ParseScope is the inverse of Scope.String.
func ParseScope(s string) (Scope, error) {
	if s == "global" {
		return GlobalScope(), nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Scope{}, eris.Errorf("model: invalid scope %q", s)
	}
	switch kind {
	case "company":
		return CompanyScope(id), nil
	case "format":
		return FormatScope(id), nil
	default:
		return Scope{}, eris.Errorf("model: invalid scope kind %q", kind)
	}
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScope(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Scope) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Scope) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseScope(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransformType names how a rule turns raw extracted values into a target value.
type TransformType string

const (
	TransformDirect  TransformType = "direct"
	TransformConcat  TransformType = "concat"
	TransformRegex   TransformType = "regex"
	TransformKeyword TransformType = "keyword"
	TransformLookup  TransformType = "lookup"
)

// Valid reports whether t is a known transform.
func (t TransformType) Valid() bool {
	switch t {
	case TransformDirect, TransformConcat, TransformRegex, TransformKeyword, TransformLookup:
		return true
	}
	return false
}

// TextSource is the pseudo source field that refers to the full document text.
const TextSource = "$text"

// TransformParams holds the typed parameters of every transform type. Only
// the fields relevant to a rule's TransformType are read.
type TransformParams struct {
	Separator       string            `json:"separator,omitempty" yaml:"separator,omitempty"`
	Pattern         string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Group           int               `json:"group,omitempty" yaml:"group,omitempty"`
	Flags           string            `json:"flags,omitempty" yaml:"flags,omitempty"`
	Keywords        []string          `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	MaxDistance     int               `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`
	Lookup          map[string]string `json:"lookup,omitempty" yaml:"lookup,omitempty"`
	Default         string            `json:"default,omitempty" yaml:"default,omitempty"`
	Normalize       string            `json:"normalize,omitempty" yaml:"normalize,omitempty"` // date, amount, weight, none; empty infers from field name
	Validation      string            `json:"validation,omitempty" yaml:"validation,omitempty"`
	ConfidenceBoost float64           `json:"confidence_boost,omitempty" yaml:"confidence_boost,omitempty"`
}

// MappingRule maps one or more raw extracted fields onto a standardized target field.
type MappingRule struct {
	ID              string          `json:"id" yaml:"id"`
	TemplateID      string          `json:"template_id" yaml:"template_id"`
	Scope           Scope           `json:"scope" yaml:"scope"`
	Priority        int             `json:"priority" yaml:"priority"`
	SourceFields    []string        `json:"source_fields" yaml:"source_fields"`
	TargetField     string          `json:"target_field" yaml:"target_field"`
	TransformType   TransformType   `json:"transform_type" yaml:"transform_type"`
	TransformParams TransformParams `json:"transform_params" yaml:"transform_params"`
	IsActive        bool            `json:"is_active" yaml:"is_active"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated_at"`
}

// Validate reports malformed rule data as a ConfigError.
func (r MappingRule) Validate() error {
	subject := fmt.Sprintf("rule %s", r.ID)
	if r.ID == "" {
		return NewConfigError("rule", "missing id (target %q)", r.TargetField)
	}
	if r.TemplateID == "" {
		return NewConfigError(subject, "missing template id")
	}
	if err := r.Scope.Validate(); err != nil {
		return NewConfigError(subject, "%s", err.Error())
	}
	if strings.TrimSpace(r.TargetField) == "" {
		return NewConfigError(subject, "missing target field")
	}
	if !r.TransformType.Valid() {
		return NewConfigError(subject, "unknown transform type %q", r.TransformType)
	}
	switch r.TransformType {
	case TransformRegex:
		if r.TransformParams.Pattern == "" {
			return NewConfigError(subject, "regex transform requires a pattern")
		}
	case TransformKeyword:
		if len(r.TransformParams.Keywords) == 0 {
			return NewConfigError(subject, "keyword transform requires keywords")
		}
	case TransformLookup:
		if len(r.TransformParams.Lookup) == 0 {
			return NewConfigError(subject, "lookup transform requires a lookup table")
		}
	}
	if r.TransformType != TransformRegex && r.TransformType != TransformKeyword && len(r.SourceFields) == 0 {
		return NewConfigError(subject, "%s transform requires source fields", r.TransformType)
	}
	return nil
}

// Applies reports whether the rule participates in resolution for the given context.
func (r MappingRule) Applies(templateID, companyID, formatID string) bool {
	if r.TemplateID != templateID {
		return false
	}
	switch r.Scope.Kind {
	case ScopeGlobal:
		return true
	case ScopeCompany:
		return companyID != "" && r.Scope.ID == companyID
	case ScopeFormat:
		return formatID != "" && r.Scope.ID == formatID
	default:
		return false
	}
}

// ResolvedSchemaVersion is bumped whenever ResolvedMappingConfig changes shape.
const ResolvedSchemaVersion = 1

// ResolvedRule is the single winning rule for one target field.
type ResolvedRule struct {
	Rule     MappingRule `json:"rule"`
	Shadowed []string    `json:"shadowed,omitempty"` // losing rule ids, most specific first
}

// ResolvedMappingConfig is the effective rule set for one document context.
type ResolvedMappingConfig struct {
	SchemaVersion int                     `json:"schema_version"`
	TemplateID    string                  `json:"template_id"`
	CompanyID     string                  `json:"company_id,omitempty"`
	FormatID      string                  `json:"format_id,omitempty"`
	Fields        map[string]ResolvedRule `json:"fields"`
	ResolvedAt    time.Time               `json:"resolved_at"`
}

// SourceFields returns the distinct raw fields the config reads, in sorted target order.
func (c *ResolvedMappingConfig) SourceFields() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, target := range c.Targets() {
		for _, src := range c.Fields[target].Rule.SourceFields {
			if src == TextSource || seen[src] {
				continue
			}
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

// Targets returns the target field names in stable order.
func (c *ResolvedMappingConfig) Targets() []string {
	if c == nil {
		return nil
	}
	targets := make([]string, 0, len(c.Fields))
	for t := range c.Fields {
		targets = append(targets, t)
	}
	slices.Sort(targets)
	return targets
}

// RuleChangeKind names a rule mutation.
type RuleChangeKind string

const (
	RuleCreated     RuleChangeKind = "created"
	RuleUpdated     RuleChangeKind = "updated"
	RuleDeactivated RuleChangeKind = "deactivated"
)

// RuleChange is the signal emitted for every rule mutation. Previous is
// set on updates so that both the old and new scope can be invalidated.
type RuleChange struct {
	Seq      int64          `json:"seq"`
	Kind     RuleChangeKind `json:"kind"`
	Rule     MappingRule    `json:"rule"`
	Previous *MappingRule   `json:"previous,omitempty"`
	At       time.Time      `json:"at"`
}
