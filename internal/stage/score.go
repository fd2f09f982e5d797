package stage

import (
	"context"

	"github.com/sells-group/docflow/internal/confidence"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/routing"
)

// ConfidenceCalculator aggregates mapped-field confidence.
type ConfidenceCalculator struct {
	Aggregator *confidence.Aggregator
}

func (s ConfidenceCalculator) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	res := s.Aggregator.Aggregate(view.MappedFields)
	return OutputFunc(func(rc *model.RunContext) {
		rc.OverallConfidence = res.Overall
		rc.CriticalFieldLow = res.CriticalFieldLow
		rc.LowCriticalFields = res.LowCriticalFields
	}), nil
}

// RoutingDecider assigns the review tier. Documents flagged for manual
// handling by an earlier stage always get MANUAL_REQUIRED.
type RoutingDecider struct {
	Engine *routing.Engine
}

func (s RoutingDecider) Execute(_ context.Context, view *model.RunContext) (Output, error) {
	decision := model.RoutingManualRequired
	if view.ManualReason == "" {
		decision = s.Engine.Decide(view.OverallConfidence, view.CriticalFieldLow)
	}
	return OutputFunc(func(rc *model.RunContext) { rc.RoutingDecision = decision }), nil
}
