package model

import "time"

// Term is a raw field label seen in an extraction that no mapping rule
// consumed. Terms feed rule authoring.
type Term struct {
	TemplateID  string    `json:"template_id"`
	CompanyID   string    `json:"company_id,omitempty"`
	Label       string    `json:"label"`
	SampleValue string    `json:"sample_value,omitempty"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"last_seen"`
}
