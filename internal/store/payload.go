package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// ResultPayloadVersion is written with every stored result. Bump it when
// ResultPayload changes incompatibly.
const ResultPayloadVersion = 1

// ResultPayload is the stored form of a run outcome.
type ResultPayload struct {
	Version           int                                `json:"version"`
	RunID             string                             `json:"run_id"`
	TemplateID        string                             `json:"template_id"`
	CompanyID         string                             `json:"company_id,omitempty"`
	FormatID          string                             `json:"format_id,omitempty"`
	FileType          string                             `json:"file_type,omitempty"`
	Issuer            *model.IssuerMatch                 `json:"issuer,omitempty"`
	Format            *model.FormatMatch                 `json:"format,omitempty"`
	Extracted         model.RawExtraction                `json:"extracted"`
	MappedFields      map[string]model.MappedField       `json:"mapped_fields"`
	UnmappedFields    []model.UnmappedField              `json:"unmapped_fields,omitempty"`
	OverallConfidence float64                            `json:"overall_confidence"`
	CriticalFieldLow  bool                               `json:"critical_field_low"`
	LowCriticalFields []string                           `json:"low_critical_fields,omitempty"`
	RoutingDecision   model.RoutingDecision              `json:"routing_decision,omitempty"`
	ManualReason      string                             `json:"manual_reason,omitempty"`
	Warnings          []string                           `json:"warnings,omitempty"`
	Steps             map[model.StepID]*model.StepStatus `json:"steps"`
	TerminalStep      model.StepID                       `json:"terminal_step,omitempty"`
	Error             string                             `json:"error,omitempty"`
	StartedAt         time.Time                          `json:"started_at"`
	FinishedAt        time.Time                          `json:"finished_at"`
}

// NewResultPayload captures rc for storage.
func NewResultPayload(rc *model.RunContext) ResultPayload {
	return ResultPayload{
		Version:           ResultPayloadVersion,
		RunID:             rc.RunID,
		TemplateID:        rc.Document.TemplateID,
		CompanyID:         rc.CompanyID(),
		FormatID:          rc.FormatID(),
		FileType:          rc.FileType,
		Issuer:            rc.Issuer,
		Format:            rc.Format,
		Extracted:         rc.Extracted,
		MappedFields:      rc.MappedFields,
		UnmappedFields:    rc.UnmappedFields,
		OverallConfidence: rc.OverallConfidence,
		CriticalFieldLow:  rc.CriticalFieldLow,
		LowCriticalFields: rc.LowCriticalFields,
		RoutingDecision:   rc.RoutingDecision,
		ManualReason:      rc.ManualReason,
		Warnings:          rc.Warnings,
		Steps:             rc.Steps,
		TerminalStep:      rc.TerminalStep,
		Error:             rc.Error,
		StartedAt:         rc.StartedAt,
		FinishedAt:        rc.FinishedAt,
	}
}

func encodeResult(rc *model.RunContext) ([]byte, error) {
	b, err := json.Marshal(NewResultPayload(rc))
	return b, eris.Wrap(err, "store: encode result payload")
}

// decodeResult reads a stored payload, rejecting versions this build does
// not understand.
func decodeResult(b []byte) (ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return p, eris.Wrap(err, "store: decode result payload")
	}
	if p.Version < 1 || p.Version > ResultPayloadVersion {
		return p, eris.Errorf("store: unsupported result payload version %d", p.Version)
	}
	return p, nil
}

// ruleRow is the column form of a MappingRule.
type ruleRow struct {
	id, templateID, scopeKind, scopeID string
	priority                           int
	sourceFields, params               []byte
	target, transform                  string
	active                             bool
	createdAt, updatedAt               time.Time
}

func toRuleRow(r model.MappingRule) (ruleRow, error) {
	src, err := json.Marshal(r.SourceFields)
	if err != nil {
		return ruleRow{}, eris.Wrap(err, "store: encode source fields")
	}
	params, err := json.Marshal(r.TransformParams)
	if err != nil {
		return ruleRow{}, eris.Wrap(err, "store: encode transform params")
	}
	return ruleRow{
		id:           r.ID,
		templateID:   r.TemplateID,
		scopeKind:    r.Scope.Kind.String(),
		scopeID:      r.Scope.ID,
		priority:     r.Priority,
		sourceFields: src,
		params:       params,
		target:       r.TargetField,
		transform:    string(r.TransformType),
		active:       r.IsActive,
		createdAt:    r.CreatedAt.UTC(),
		updatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

func (row ruleRow) rule() (model.MappingRule, error) {
	scope := model.GlobalScope()
	if row.scopeKind != "global" {
		var err error
		if scope, err = model.ParseScope(row.scopeKind + ":" + row.scopeID); err != nil {
			return model.MappingRule{}, eris.Wrapf(err, "store: rule %s", row.id)
		}
	}
	r := model.MappingRule{
		ID:            row.id,
		TemplateID:    row.templateID,
		Scope:         scope,
		Priority:      row.priority,
		TargetField:   row.target,
		TransformType: model.TransformType(row.transform),
		IsActive:      row.active,
		CreatedAt:     row.createdAt.UTC(),
		UpdatedAt:     row.updatedAt.UTC(),
	}
	if err := json.Unmarshal(row.sourceFields, &r.SourceFields); err != nil {
		return r, eris.Wrapf(err, "store: decode source fields of rule %s", row.id)
	}
	if err := json.Unmarshal(row.params, &r.TransformParams); err != nil {
		return r, eris.Wrapf(err, "store: decode transform params of rule %s", row.id)
	}
	return r, nil
}

func scopeColumns(s model.Scope) (string, string) {
	return s.Kind.String(), s.ID
}

func encodeRule(r *model.MappingRule) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	return b, eris.Wrap(err, "store: encode rule")
}

func decodeChange(seq int64, kind string, rule, prev []byte, at time.Time) (model.RuleChange, error) {
	c := model.RuleChange{Seq: seq, Kind: model.RuleChangeKind(kind), At: at.UTC()}
	if err := json.Unmarshal(rule, &c.Rule); err != nil {
		return c, eris.Wrapf(err, "store: decode rule change %d", seq)
	}
	if len(prev) > 0 {
		c.Previous = &model.MappingRule{}
		if err := json.Unmarshal(prev, c.Previous); err != nil {
			return c, eris.Wrapf(err, "store: decode previous rule of change %d", seq)
		}
	}
	return c, nil
}
