package model

import "github.com/rotisserie/eris"

// RoutingDecision is the review tier assigned to a processed document.
type RoutingDecision string

const (
	RoutingAutoApprove    RoutingDecision = "AUTO_APPROVE"
	RoutingQuickReview    RoutingDecision = "QUICK_REVIEW"
	RoutingFullReview     RoutingDecision = "FULL_REVIEW"
	RoutingManualRequired RoutingDecision = "MANUAL_REQUIRED"
)

// ParseRoutingDecision validates a stored routing decision string.
func ParseRoutingDecision(s string) (RoutingDecision, error) {
	switch d := RoutingDecision(s); d {
	case RoutingAutoApprove, RoutingQuickReview, RoutingFullReview, RoutingManualRequired:
		return d, nil
	case "":
		return "", nil
	default:
		return "", eris.Errorf("model: unknown routing decision %q", s)
	}
}
