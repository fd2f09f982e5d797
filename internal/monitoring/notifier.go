package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/docflow/internal/ruletest"
	"github.com/sells-group/docflow/internal/workflow"
)

// RuleTestNotifier delivers finished rule test reports to the alert webhook.
// It satisfies workflow.ReportSink.
type RuleTestNotifier struct {
	Alerter *Alerter
}

var _ workflow.ReportSink = RuleTestNotifier{}

// Deliver posts the report summary. Webhook errors are returned so the
// delivery activity can retry.
func (n RuleTestNotifier) Deliver(ctx context.Context, req workflow.RuleTestRequest, report *ruletest.Report) error {
	return n.Alerter.Send(ctx, RuleTestAlert(req, report))
}

// RuleTestAlert summarizes a rule test report as an alert. Rejected
// candidates are raised as medium severity, the rest as info.
func RuleTestAlert(req workflow.RuleTestRequest, report *ruletest.Report) Alert {
	s := report.Summary
	severity := "info"
	if s.Recommendation == ruletest.RecommendReject {
		severity = "medium"
	}
	return Alert{
		Type:     AlertRuleTest,
		Severity: severity,
		Message: fmt.Sprintf("Rule %s on %s: %s (%s)",
			report.Candidate.ID, report.Candidate.TargetField, s.Recommendation, s.Reason),
		Details: map[string]any{
			"request_id":   req.RequestID,
			"requested_by": req.RequestedBy,
			"total":        s.Total,
			"improved":     s.Improved,
			"regressed":    s.Regressed,
			"skipped":      len(report.Skipped),
		},
		Timestamp: time.Now().UTC(),
	}
}
