package mapping

import (
	"time"

	"github.com/sells-group/docflow/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func rule(id string, scope model.Scope, priority int, target string, updated time.Time) model.MappingRule {
	return model.MappingRule{
		ID:            id,
		TemplateID:    "invoice",
		Scope:         scope,
		Priority:      priority,
		SourceFields:  []string{"raw_" + target},
		TargetField:   target,
		TransformType: model.TransformDirect,
		IsActive:      true,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
}

func extraction(fields map[string]string, conf float64, text string) model.RawExtraction {
	ex := model.RawExtraction{Text: text, Fields: make(map[string]model.ExtractedField, len(fields))}
	for k, v := range fields {
		ex.Fields[k] = model.ExtractedField{Name: k, Value: v, Confidence: conf, Method: model.ExtractionLayout}
	}
	return ex
}
