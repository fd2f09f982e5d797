// Package routing maps a document's aggregate confidence to a review tier.
package routing

import (
	"math"

	"github.com/sells-group/docflow/internal/model"
)

// Default thresholds for the review tiers.
const (
	DefaultAutoApproveThreshold = 0.95
	DefaultQuickReviewThreshold = 0.80
)

// Thresholds are the lower bounds (inclusive) of the AUTO_APPROVE and
// QUICK_REVIEW tiers. Anything below QuickReview goes to FULL_REVIEW.
type Thresholds struct {
	AutoApprove float64 `json:"auto_approve" yaml:"auto_approve"`
	QuickReview float64 `json:"quick_review" yaml:"quick_review"`
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoApprove: DefaultAutoApproveThreshold,
		QuickReview: DefaultQuickReviewThreshold,
	}
}

// Validate requires 0 < QuickReview < AutoApprove <= 1.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.QuickReview) || t.QuickReview <= 0 || t.QuickReview > 1 {
		return model.NewConfigError("routing thresholds", "quick review threshold %v outside (0,1]", t.QuickReview)
	}
	if math.IsNaN(t.AutoApprove) || t.AutoApprove > 1 || t.AutoApprove <= t.QuickReview {
		return model.NewConfigError("routing thresholds", "auto approve threshold %v must be above quick review threshold %v and at most 1", t.AutoApprove, t.QuickReview)
	}
	return nil
}

// Engine decides review tiers against a fixed set of thresholds. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	t Thresholds
}

// NewEngine validates t and returns an Engine.
func NewEngine(t Thresholds) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Engine{t: t}, nil
}

// Thresholds returns the engine's tier boundaries.
func (e *Engine) Thresholds() Thresholds {
	return e.t
}

// Decide maps (confidence, criticalLow) to a tier:
//
//	criticalLow                -> FULL_REVIEW
//	confidence >= AutoApprove  -> AUTO_APPROVE
//	confidence >= QuickReview  -> QUICK_REVIEW
//	otherwise                  -> FULL_REVIEW
//
// A NaN confidence fails every comparison and lands in FULL_REVIEW.
// MANUAL_REQUIRED is never produced here.
func (e *Engine) Decide(confidence float64, criticalLow bool) model.RoutingDecision {
	switch {
	case criticalLow:
		return model.RoutingFullReview
	case confidence >= e.t.AutoApprove:
		return model.RoutingAutoApprove
	case confidence >= e.t.QuickReview:
		return model.RoutingQuickReview
	default:
		return model.RoutingFullReview
	}
}

var defaultEngine = &Engine{t: DefaultThresholds()}

// Decide applies the default thresholds (0.95 / 0.80).
func Decide(confidence float64, criticalLow bool) model.RoutingDecision {
	return defaultEngine.Decide(confidence, criticalLow)
}
