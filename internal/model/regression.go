package model

// ChangeType classifies the impact of a candidate rule on one document.
type ChangeType string

const (
	ChangeImproved  ChangeType = "IMPROVED"
	ChangeRegressed ChangeType = "REGRESSED"
	ChangeUnchanged ChangeType = "UNCHANGED"
	ChangeBothWrong ChangeType = "BOTH_WRONG"
	ChangeBothRight ChangeType = "BOTH_RIGHT"
)

// RegressionTestResult is the per-document outcome of replaying a candidate rule.
type RegressionTestResult struct {
	DocumentID         string     `json:"document_id"`
	TargetField        string     `json:"target_field"`
	OriginalResult     string     `json:"original_result"`
	OriginalConfidence float64    `json:"original_confidence"`
	TestResult         string     `json:"test_result"`
	TestConfidence     float64    `json:"test_confidence"`
	ActualValue        *string    `json:"actual_value,omitempty"`
	ChangeType         ChangeType `json:"change_type"`
}

// HistoricalDocument is a previously processed document reused by rule tests.
type HistoricalDocument struct {
	DocumentID  string            `json:"document_id"`
	TemplateID  string            `json:"template_id"`
	CompanyID   string            `json:"company_id,omitempty"`
	FormatID    string            `json:"format_id,omitempty"`
	Extraction  RawExtraction     `json:"extraction"`
	GroundTruth map[string]string `json:"ground_truth,omitempty"` // target field -> reviewer-confirmed value
}
