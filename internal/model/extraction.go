package model

// ExtractionMethod names the backend that produced raw fields.
type ExtractionMethod string

const (
	ExtractionLayout ExtractionMethod = "layout"
	ExtractionVision ExtractionMethod = "vision"
)

// ExtractedField is one raw key/value pair returned by an extraction backend.
type ExtractedField struct {
	Name       string           `json:"name"`
	Value      string           `json:"value"`
	Confidence float64          `json:"confidence"`
	Method     ExtractionMethod `json:"method,omitempty"`
	Page       int              `json:"page,omitempty"`
}

// Extraction is the output of a single extraction backend.
type Extraction struct {
	Method     ExtractionMethod          `json:"method"`
	Text       string                    `json:"text"`
	Fields     map[string]ExtractedField `json:"fields"`
	PageCount  int                       `json:"page_count,omitempty"`
	Confidence float64                   `json:"confidence,omitempty"`
}

// RawExtraction is the merged extraction input the mapping stage consumes.
// It is stored with every result so rule changes can be replayed offline.
type RawExtraction struct {
	Text   string                    `json:"text"`
	Fields map[string]ExtractedField `json:"fields"`
}

// extractionOrder fixes tie-breaking when two backends report the same
// field with equal confidence.
var extractionOrder = []ExtractionMethod{ExtractionLayout, ExtractionVision}

// MergeExtractions combines per-backend extractions into one RawExtraction.
// For each field the highest-confidence value wins; ties keep the earlier
// backend in extractionOrder. Text comes from the first backend that has any.
func MergeExtractions(byMethod map[ExtractionMethod]*Extraction, fallbackText string) RawExtraction {
	merged := RawExtraction{Fields: make(map[string]ExtractedField)}
	for _, m := range extractionOrder {
		ex := byMethod[m]
		if ex == nil {
			continue
		}
		if merged.Text == "" {
			merged.Text = ex.Text
		}
		for name, f := range ex.Fields {
			if f.Method == "" {
				f.Method = m
			}
			if f.Name == "" {
				f.Name = name
			}
			f.Confidence = ClampConfidence(f.Confidence)
			if cur, ok := merged.Fields[name]; ok && cur.Confidence >= f.Confidence {
				continue
			}
			merged.Fields[name] = f
		}
	}
	if merged.Text == "" {
		merged.Text = fallbackText
	}
	return merged
}
