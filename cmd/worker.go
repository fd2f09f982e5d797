package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/monitoring"
	"github.com/sells-group/docflow/internal/ruletest"
	"github.com/sells-group/docflow/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes async rule tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initStoreEnv(cmd.Context(), "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return eris.Wrap(err, "connect to temporal")
		}
		defer c.Close()

		w := workflow.NewWorker(c, cfg.Temporal.TaskQueue, &workflow.Activities{
			Tester: env.Tester(),
			Sink:   reportSink(),
		})

		zap.L().Info("starting worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		return eris.Wrap(w.Run(worker.InterruptCh()), "worker")
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// reportSink posts reports to the alert webhook when one is configured and
// logs them otherwise.
func reportSink() workflow.ReportSink {
	if cfg.Monitoring.WebhookURL != "" {
		return monitoring.RuleTestNotifier{Alerter: monitoring.NewAlerter(cfg.Monitoring)}
	}
	return logSink{}
}

// logSink delivers rule test reports to the structured log.
type logSink struct{}

func (logSink) Deliver(_ context.Context, req workflow.RuleTestRequest, report *ruletest.Report) error {
	s := report.Summary
	zap.L().Info("rule test finished",
		zap.String("request_id", req.RequestID),
		zap.String("requested_by", req.RequestedBy),
		zap.String("rule_id", report.Candidate.ID),
		zap.String("recommendation", string(s.Recommendation)),
		zap.String("reason", s.Reason),
		zap.Int("total", s.Total),
		zap.Int("improved", s.Improved),
		zap.Int("regressed", s.Regressed),
		zap.Int("skipped", len(report.Skipped)),
	)
	return nil
}
