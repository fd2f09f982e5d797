package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
)

var (
	resolveTemplate string
	resolveCompany  string
	resolveFormat   string
	resolveRuleFile string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the effective mapping configuration for a template, company and format",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := mappingKey(resolveTemplate, resolveCompany, resolveFormat)

		var (
			resolved *model.ResolvedMappingConfig
			err      error
		)
		if resolveRuleFile != "" {
			// Offline: resolve straight from a rule file, no store needed.
			var rules []model.MappingRule
			if rules, err = mapping.LoadRulesFile(resolveRuleFile); err != nil {
				return err
			}
			resolved, err = mapping.ResolveRules(key, rules, time.Now().UTC())
		} else {
			env, initErr := initStoreEnv(cmd.Context(), "resolve")
			if initErr != nil {
				return initErr
			}
			defer env.Close()
			resolved, err = env.Resolver.Resolve(cmd.Context(), key)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resolved)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveTemplate, "template", "", "template id (required)")
	resolveCmd.Flags().StringVar(&resolveCompany, "company", "", "company id")
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "", "format id")
	resolveCmd.Flags().StringVar(&resolveRuleFile, "rules", "", "resolve from a YAML rule file instead of the store")
	_ = resolveCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(resolveCmd)
}
