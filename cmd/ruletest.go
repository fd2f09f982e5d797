package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/ruletest"
	"github.com/sells-group/docflow/internal/workflow"
)

var (
	ruletestFile        string
	ruletestRuleID      string
	ruletestSince       time.Duration
	ruletestLimit       int
	ruletestGroundTruth bool
	ruletestAsync       bool
	ruletestFull        bool
)

var ruletestCmd = &cobra.Command{
	Use:   "ruletest",
	Short: "Test a candidate rule against historical documents",
	Long:  "Re-maps stored extractions with and without the candidate rule and recommends adopting, reviewing or rejecting it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		candidate, err := pickCandidate(ruletestFile, ruletestRuleID)
		if err != nil {
			return err
		}
		filter := ruletest.SampleFilter{
			Limit:           ruletestLimit,
			GroundTruthOnly: ruletestGroundTruth,
		}
		if ruletestSince > 0 {
			filter.Since = time.Now().Add(-ruletestSince).UTC()
		}

		if ruletestAsync {
			if err := cfg.Validate("worker"); err != nil {
				return err
			}
			c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
			if err != nil {
				return eris.Wrap(err, "connect to temporal")
			}
			defer c.Close()

			req, runID, err := workflow.Submit(ctx, c, cfg.Temporal.TaskQueue, workflow.RuleTestRequest{
				Candidate: candidate,
				Filter:    filter,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted rule test %s (run %s)\n", req.RequestID, runID)
			return nil
		}

		env, err := initStoreEnv(ctx, "ruletest")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Tester().Run(ctx, candidate, filter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if ruletestFull {
			return enc.Encode(report)
		}
		return enc.Encode(struct {
			RuleID  string           `json:"rule_id"`
			Summary ruletest.Summary `json:"summary"`
			Skipped int              `json:"skipped"`
		}{candidate.ID, report.Summary, len(report.Skipped)})
	},
}

func init() {
	ruletestCmd.Flags().StringVar(&ruletestFile, "rules", "", "YAML rule file holding the candidate (required)")
	ruletestCmd.Flags().StringVar(&ruletestRuleID, "rule", "", "candidate rule id when the file holds several")
	ruletestCmd.Flags().DurationVar(&ruletestSince, "since", 0, "only documents processed within this window")
	ruletestCmd.Flags().IntVar(&ruletestLimit, "limit", 0, "sample size (default from config)")
	ruletestCmd.Flags().BoolVar(&ruletestGroundTruth, "ground-truth-only", false, "only documents with reviewer corrections")
	ruletestCmd.Flags().BoolVar(&ruletestAsync, "async", false, "submit as a Temporal workflow instead of running inline")
	ruletestCmd.Flags().BoolVar(&ruletestFull, "full", false, "print every per-document result")
	_ = ruletestCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(ruletestCmd)
}

// pickCandidate loads the rule file and returns the rule with id, or the only
// rule when id is empty.
func pickCandidate(path, id string) (model.MappingRule, error) {
	rules, err := mapping.LoadRulesFile(path)
	if err != nil {
		return model.MappingRule{}, err
	}
	if id == "" {
		if len(rules) != 1 {
			return model.MappingRule{}, eris.Errorf("rule file %s holds %d rules; pick one with --rule", path, len(rules))
		}
		return rules[0], nil
	}
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
	}
	return model.MappingRule{}, eris.Errorf("rule %s not in %s", id, path)
}
