// Package workflow runs rule regression tests as durable Temporal workflows
// so that large samples can be evaluated outside the request that asked for
// them.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
)

// RuleTestWorkflowName is the registered name of RuleTest.
const RuleTestWorkflowName = "RuleTest"

const (
	testTimeout    = 30 * time.Minute
	deliverTimeout = 2 * time.Minute
)

// RuleTestRequest asks for a candidate rule to be tested against history.
type RuleTestRequest struct {
	RequestID   string                `json:"request_id"`
	Candidate   model.MappingRule     `json:"candidate"`
	Filter      ruletest.SampleFilter `json:"filter"`
	RequestedBy string                `json:"requested_by,omitempty"`
}

// RuleTestOutcome is the workflow result. The full report goes to the sink.
type RuleTestOutcome struct {
	RequestID string           `json:"request_id"`
	Summary   ruletest.Summary `json:"summary"`
	Skipped   int              `json:"skipped"`
	Delivered bool             `json:"delivered"`
}

// ReportSink receives finished reports for rendering or for notifying the
// requester.
type ReportSink interface {
	Deliver(ctx context.Context, req RuleTestRequest, report *ruletest.Report) error
}

// DeliverInput is the argument of the DeliverReport activity.
type DeliverInput struct {
	Request RuleTestRequest  `json:"request"`
	Report  *ruletest.Report `json:"report"`
}

// Activities holds the dependencies of the rule test activities.
type Activities struct {
	Tester *ruletest.Tester
	Sink   ReportSink
}

// RunRuleTest pulls the sample and evaluates the candidate. Invalid
// candidates fail without retry.
func (a *Activities) RunRuleTest(ctx context.Context, req RuleTestRequest) (*ruletest.Report, error) {
	log := activity.GetLogger(ctx)
	log.Info("running rule test", "request_id", req.RequestID, "rule_id", req.Candidate.ID)

	report, err := a.Tester.Run(ctx, req.Candidate, req.Filter)
	if err != nil {
		var cfgErr *model.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ConfigError", err)
		}
		return nil, err
	}
	return report, nil
}

// DeliverReport hands a report to the sink. Without a sink it is a no-op.
func (a *Activities) DeliverReport(ctx context.Context, in DeliverInput) (bool, error) {
	if a.Sink == nil {
		return false, nil
	}
	if err := a.Sink.Deliver(ctx, in.Request, in.Report); err != nil {
		return false, eris.Wrapf(err, "workflow: deliver report %s", in.Request.RequestID)
	}
	return true, nil
}

// RuleTest evaluates a candidate rule and delivers the report. A delivery
// failure is logged but does not fail the test.
func RuleTest(ctx workflow.Context, req RuleTestRequest) (RuleTestOutcome, error) {
	log := workflow.GetLogger(ctx)
	var a *Activities

	testCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: testTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	var report ruletest.Report
	if err := workflow.ExecuteActivity(testCtx, a.RunRuleTest, req).Get(ctx, &report); err != nil {
		return RuleTestOutcome{RequestID: req.RequestID}, err
	}

	out := RuleTestOutcome{
		RequestID: req.RequestID,
		Summary:   report.Summary,
		Skipped:   len(report.Skipped),
	}

	deliverCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: deliverTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})
	err := workflow.ExecuteActivity(deliverCtx, a.DeliverReport, DeliverInput{Request: req, Report: &report}).Get(ctx, &out.Delivered)
	if err != nil {
		log.Warn("report delivery failed", "request_id", req.RequestID, "error", err)
	}
	return out, nil
}

// Register adds the workflow and its activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(RuleTest, workflow.RegisterOptions{Name: RuleTestWorkflowName})
	w.RegisterActivity(acts)
}

// NewWorker creates a worker polling taskQueue with the rule test workflow registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, acts)
	return w
}

// Starter is the part of client.Client used to submit workflows.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, wf any, args ...any) (client.WorkflowRun, error)
}

// Submit starts a RuleTest workflow and returns its workflow and run ids.
// A request without an id gets a fresh one; resubmitting an id that is
// still running is rejected by the server.
func Submit(ctx context.Context, c Starter, taskQueue string, req RuleTestRequest) (RuleTestRequest, string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := req.Candidate.Validate(); err != nil {
		return req, "", err
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "ruletest-" + req.RequestID,
		TaskQueue: taskQueue,
	}, RuleTestWorkflowName, req)
	if err != nil {
		return req, "", eris.Wrapf(err, "workflow: start rule test %s", req.RequestID)
	}
	zap.L().Info("rule test submitted",
		zap.String("request_id", req.RequestID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return req, run.GetRunID(), nil
}
