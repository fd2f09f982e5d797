package model

import (
	"maps"
	"slices"
	"time"
)

// IssuerMatch is the result of issuer (company) identification.
type IssuerMatch struct {
	CompanyID       string   `json:"company_id,omitempty"`
	Code            string   `json:"code,omitempty"`
	Name            string   `json:"name,omitempty"`
	Confidence      float64  `json:"confidence"`
	Method          string   `json:"method"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
	Identified      bool     `json:"identified"`
	NeedsReview     bool     `json:"needs_review"`
}

// FormatMatch is the document format selected for the identified issuer.
type FormatMatch struct {
	FormatID   string  `json:"format_id"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RouteHint is the smart-routing decision about which extraction backends to run.
type RouteHint struct {
	Methods []ExtractionMethod `json:"methods"`
	Reason  string             `json:"reason"`
}

// Wants reports whether the hint selects method m. A nil hint selects layout only.
func (h *RouteHint) Wants(m ExtractionMethod) bool {
	if h == nil {
		return m == ExtractionLayout
	}
	return slices.Contains(h.Methods, m)
}

// RunContext accumulates everything one pipeline run produces. It is owned
// by a single run and mutated only by the orchestrator.
type RunContext struct {
	RunID      string    `json:"run_id"`
	Document   Document  `json:"document"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Steps map[StepID]*StepStatus `json:"steps"`

	FileType      string                           `json:"file_type,omitempty"`
	Route         *RouteHint                       `json:"route,omitempty"`
	Issuer        *IssuerMatch                     `json:"issuer,omitempty"`
	Format        *FormatMatch                     `json:"format,omitempty"`
	MappingConfig *ResolvedMappingConfig           `json:"mapping_config,omitempty"`
	Extractions   map[ExtractionMethod]*Extraction `json:"extractions,omitempty"`
	Extracted     RawExtraction                    `json:"extracted"`

	MappedFields   map[string]MappedField `json:"mapped_fields"`
	UnmappedFields []UnmappedField        `json:"unmapped_fields"`
	RecordedTerms  int                    `json:"recorded_terms,omitempty"`

	OverallConfidence float64         `json:"overall_confidence"`
	CriticalFieldLow  bool            `json:"critical_field_low"`
	LowCriticalFields []string        `json:"low_critical_fields,omitempty"`
	RoutingDecision   RoutingDecision `json:"routing_decision,omitempty"`
	ManualReason      string          `json:"manual_reason,omitempty"`

	Warnings      []string `json:"warnings,omitempty"`
	TerminalStep  StepID   `json:"terminal_step,omitempty"`
	TerminalError error    `json:"-"`
	Error         string   `json:"error,omitempty"`
}

// NewRunContext creates the empty context for one run of doc.
func NewRunContext(runID string, doc Document, now time.Time) *RunContext {
	return &RunContext{
		RunID:        runID,
		Document:     doc,
		StartedAt:    now,
		Steps:        make(map[StepID]*StepStatus),
		Extractions:  make(map[ExtractionMethod]*Extraction),
		MappedFields: make(map[string]MappedField),
	}
}

// Failed reports whether a required stage terminated the run.
func (rc *RunContext) Failed() bool {
	return rc.TerminalError != nil
}

// Fail marks the run terminally failed at step.
func (rc *RunContext) Fail(step StepID, err error) {
	rc.TerminalStep = step
	rc.TerminalError = err
	if err != nil {
		rc.Error = err.Error()
	}
}

// CompanyID is the issuer the run is scoped to: the caller-supplied one,
// else the identified issuer.
func (rc *RunContext) CompanyID() string {
	if rc.Document.CompanyID != "" {
		return rc.Document.CompanyID
	}
	if rc.Issuer != nil && rc.Issuer.Identified {
		return rc.Issuer.CompanyID
	}
	return ""
}

// FormatID is the matched document format, if any.
func (rc *RunContext) FormatID() string {
	if rc.Format == nil {
		return ""
	}
	return rc.Format.FormatID
}

// Status is the document status implied by the run outcome.
func (rc *RunContext) Status() DocumentStatus {
	if rc.Failed() {
		return DocumentStatusFailed
	}
	return StatusForDecision(rc.RoutingDecision)
}

// Snapshot returns a copy that stage executors may read without racing the
// orchestrator. Maps and slices are copied; leaf structs are shared by value.
func (rc *RunContext) Snapshot() *RunContext {
	cp := *rc
	cp.Steps = make(map[StepID]*StepStatus, len(rc.Steps))
	for id, st := range rc.Steps {
		s := *st
		cp.Steps[id] = &s
	}
	cp.Extractions = maps.Clone(rc.Extractions)
	cp.Extracted.Fields = maps.Clone(rc.Extracted.Fields)
	cp.MappedFields = maps.Clone(rc.MappedFields)
	cp.UnmappedFields = slices.Clone(rc.UnmappedFields)
	cp.LowCriticalFields = slices.Clone(rc.LowCriticalFields)
	cp.Warnings = slices.Clone(rc.Warnings)
	cp.Document.Content = slices.Clone(rc.Document.Content)
	return &cp
}
