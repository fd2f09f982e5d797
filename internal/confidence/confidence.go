// Package confidence combines per-field mapping confidence into the overall
// document score and flags low-confidence critical fields.
package confidence

import (
	"math"
	"slices"

	"github.com/sells-group/docflow/internal/model"
)

// Method selects how per-field confidences are combined.
type Method string

const (
	MethodMean     Method = "mean"
	MethodWeighted Method = "weighted"
	MethodMin      Method = "min"
)

// Options configures an Aggregator.
type Options struct {
	Method            Method
	CriticalFields    []string
	CriticalThreshold float64
	// Weights applies to MethodWeighted. Fields without a weight count as 1.
	Weights map[string]float64
}

// Result is the aggregate over one document's mapped fields.
type Result struct {
	Overall           float64  `json:"overall"`
	CriticalFieldLow  bool     `json:"critical_field_low"`
	LowCriticalFields []string `json:"low_critical_fields,omitempty"`
	FieldCount        int      `json:"field_count"`
}

// Aggregator is immutable after construction and safe for concurrent use.
type Aggregator struct {
	method    Method
	critical  []string
	threshold float64
	weights   map[string]float64
}

// NewAggregator validates opts. The critical threshold must sit below
// quickReview, the lower bound of the QUICK_REVIEW tier.
func NewAggregator(opts Options, quickReview float64) (*Aggregator, error) {
	method := opts.Method
	if method == "" {
		method = MethodMean
	}
	switch method {
	case MethodMean, MethodWeighted, MethodMin:
	default:
		return nil, model.NewConfigError("confidence method", "unknown method %q", method)
	}
	if math.IsNaN(opts.CriticalThreshold) || opts.CriticalThreshold < 0 || opts.CriticalThreshold >= quickReview {
		return nil, model.NewConfigError("critical threshold",
			"%v must be in [0, %v), below the quick review threshold", opts.CriticalThreshold, quickReview)
	}
	weights := make(map[string]float64, len(opts.Weights))
	for field, w := range opts.Weights {
		if math.IsNaN(w) || w < 0 {
			return nil, model.NewConfigError("confidence weight "+field, "weight %v must be non-negative", w)
		}
		weights[field] = w
	}

	critical := slices.Clone(opts.CriticalFields)
	slices.Sort(critical)
	critical = slices.Compact(critical)

	return &Aggregator{
		method:    method,
		critical:  critical,
		threshold: opts.CriticalThreshold,
		weights:   weights,
	}, nil
}

// CriticalFields returns the sorted critical field names.
func (a *Aggregator) CriticalFields() []string {
	return slices.Clone(a.critical)
}

// Aggregate scores the mapped fields. Unmapped fields never contribute; an
// empty input scores 0. A critical field only counts as low when it was
// mapped with confidence below the critical threshold.
func (a *Aggregator) Aggregate(mapped map[string]model.MappedField) Result {
	res := Result{FieldCount: len(mapped)}
	if len(mapped) == 0 {
		return res
	}

	// Iterate in key order so float summation is reproducible.
	names := make([]string, 0, len(mapped))
	for name := range mapped {
		names = append(names, name)
	}
	slices.Sort(names)

	switch a.method {
	case MethodMin:
		low := 1.0
		for _, name := range names {
			low = math.Min(low, model.ClampConfidence(mapped[name].Confidence))
		}
		res.Overall = low
	case MethodWeighted:
		var sum, total float64
		for _, name := range names {
			w, ok := a.weights[name]
			if !ok {
				w = 1
			}
			sum += w * model.ClampConfidence(mapped[name].Confidence)
			total += w
		}
		if total > 0 {
			res.Overall = sum / total
		}
	default:
		var sum float64
		for _, name := range names {
			sum += model.ClampConfidence(mapped[name].Confidence)
		}
		res.Overall = sum / float64(len(names))
	}
	res.Overall = model.ClampConfidence(res.Overall)

	for _, field := range a.critical {
		f, ok := mapped[field]
		if !ok {
			continue
		}
		if model.ClampConfidence(f.Confidence) < a.threshold {
			res.LowCriticalFields = append(res.LowCriticalFields, field)
		}
	}
	res.CriticalFieldLow = len(res.LowCriticalFields) > 0
	return res
}
