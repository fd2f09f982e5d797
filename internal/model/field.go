package model

// UnmappedReason explains why a target field produced no value.
type UnmappedReason string

const (
	UnmappedNoSourceValue  UnmappedReason = "no_source_value"
	UnmappedNoMatch        UnmappedReason = "no_match"
	UnmappedTransformError UnmappedReason = "transform_error"
)

// MappedField is a standardized field value produced by the mapping stage.
// It is immutable once emitted.
type MappedField struct {
	TargetField     string        `json:"target_field"`
	Value           string        `json:"value"`
	RawValue        string        `json:"raw_value"`
	Confidence      float64       `json:"confidence"`
	SourceRuleID    string        `json:"source_rule_id"`
	TransformType   TransformType `json:"transform_type"`
	Validated       bool          `json:"validated"`
	ValidationError string        `json:"validation_error,omitempty"`
}

// UnmappedField records a target field the mapping stage could not fill.
type UnmappedField struct {
	FieldName string         `json:"field_name"`
	Reason    UnmappedReason `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
