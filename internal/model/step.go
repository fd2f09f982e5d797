package model

import "time"

// StepID identifies a pipeline stage.
type StepID string

const (
	StepFileTypeDetection     StepID = "file_type_detection"
	StepSmartRouting          StepID = "smart_routing"
	StepIssuerIdentification  StepID = "issuer_identification"
	StepFormatMatching        StepID = "format_matching"
	StepConfigFetching        StepID = "config_fetching"
	StepLayoutExtraction      StepID = "layout_extraction"
	StepVisionExtraction      StepID = "vision_extraction"
	StepFieldMapping          StepID = "field_mapping"
	StepTermRecording         StepID = "term_recording"
	StepConfidenceCalculation StepID = "confidence_calculation"
	StepRoutingDecision       StepID = "routing_decision"
)

// StepPriority controls what happens when a stage exhausts its retries.
type StepPriority string

const (
	// PriorityRequired stages terminate the run on exhausted failure.
	PriorityRequired StepPriority = "REQUIRED"
	// PriorityOptional stages record a warning and let the run continue.
	PriorityOptional StepPriority = "OPTIONAL"
)

// StepDescriptor is the static configuration of one pipeline stage.
type StepDescriptor struct {
	ID          StepID        `json:"id" yaml:"id"`
	Priority    StepPriority  `json:"priority" yaml:"priority"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	RetryBudget int           `json:"retry_budget" yaml:"retry_budget"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
}

// MaxAttempts is the total number of attempts the stage is allowed.
func (d StepDescriptor) MaxAttempts() int {
	return 1 + d.RetryBudget
}

// StepState is the outcome of a stage within a run.
type StepState string

const (
	StepStateComplete StepState = "complete"
	StepStateFailed   StepState = "failed"  // required stage exhausted
	StepStateWarning  StepState = "warning" // optional stage exhausted
	StepStateSkipped  StepState = "skipped" // disabled or not reached
)

// StepStatus records how a stage behaved during one run.
type StepStatus struct {
	State      StepState `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}
