package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evaluatorsCmd = &cobra.Command{
	Use:   "evaluators",
	Short: "Evaluator configurations",
}

var evaluatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the evaluator configs of a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := requireProject()
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		configs, err := apiClient().ListEvaluators(ctx, project)
		if err != nil {
			return fmt.Errorf("failed to list evaluators: %w", err)
		}
		return writer(cmd).Print(evaluatorListView{Evaluators: configs})
	},
}

func init() {
	evaluatorsCmd.AddCommand(evaluatorsListCmd)
}
