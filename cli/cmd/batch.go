package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DhavalThkkar/langfuse/cli/internal/client"
	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Historical batch evaluations",
	Long:  "Commands for creating and inspecting batch evaluation runs.",
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue an evaluation of selected observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := requireProject()
		if err != nil {
			return err
		}

		pairs, _ := cmd.Flags().GetStringArray("evaluator")
		evaluators, err := parseEvaluators(pairs)
		if err != nil {
			return err
		}

		queryFile, _ := cmd.Flags().GetString("query-file")
		query, err := loadQuery(queryFile)
		if err != nil {
			return err
		}
		if search, _ := cmd.Flags().GetString("search"); search != "" {
			query.SearchQuery = search
			mode, _ := cmd.Flags().GetString("search-mode")
			query.SearchType = batchaction.SearchModeToType(mode)
		}
		user, _ := cmd.Flags().GetString("user")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := apiClient().CreateRunEvaluation(ctx, project, client.CreateRequest{
			UserID: user,
			Query:  query,
			Config: batchaction.RunEvaluationConfig{Evaluators: evaluators},
		})
		if err != nil {
			return fmt.Errorf("failed to create batch action: %w", err)
		}

		w := writer(cmd)
		w.Success("Queued batch action %s", resp.ID)
		w.Info("Status: %s", resp.Status)
		return nil
	},
}

var batchGetCmd = &cobra.Command{
	Use:   "get <batch-action-id>",
	Short: "Show a batch action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := requireProject()
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		job, err := apiClient().GetBatchAction(ctx, project, args[0])
		if err != nil {
			return fmt.Errorf("failed to get batch action: %w", err)
		}
		return writer(cmd).Print(jobView{job})
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch actions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := requireProject()
		if err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := apiClient().ListBatchActions(ctx, project, page, limit)
		if err != nil {
			return fmt.Errorf("failed to list batch actions: %w", err)
		}
		return writer(cmd).Print(jobListView{BatchActions: resp.BatchActions, TotalCount: resp.TotalCount})
	},
}

func init() {
	batchCreateCmd.Flags().StringArrayP("evaluator", "e", nil, "Evaluator as <config-id>=<name> (repeatable)")
	batchCreateCmd.Flags().String("query-file", "", "JSON file with the observation query (filter, searchQuery, searchType)")
	batchCreateCmd.Flags().String("search", "", "Full-text search over observations")
	batchCreateCmd.Flags().String("search-mode", "id", "Search mode (id, metadata_fulltext, metadata_fulltext_input, metadata_fulltext_output)")
	batchCreateCmd.Flags().String("user", "", "User recorded as the requester")
	batchCreateCmd.MarkFlagRequired("evaluator")

	batchListCmd.Flags().Int("page", 0, "Page number (0-based)")
	batchListCmd.Flags().Int("limit", 50, "Page size")

	batchCmd.AddCommand(batchCreateCmd)
	batchCmd.AddCommand(batchGetCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchRunFileCmd)
}

// parseEvaluators reads <id>=<name> pairs. A bare id uses the id as name.
func parseEvaluators(args []string) ([]batchaction.EvaluatorRef, error) {
	refs := make([]batchaction.EvaluatorRef, 0, len(args))
	for _, arg := range args {
		id, name, ok := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if !ok {
			name = id
		}
		name = strings.TrimSpace(name)
		if id == "" || name == "" {
			return nil, fmt.Errorf("invalid evaluator %q: want <config-id>=<name>", arg)
		}
		refs = append(refs, batchaction.EvaluatorRef{EvaluatorConfigID: id, EvaluatorName: name})
	}
	return refs, nil
}

// loadQuery reads a Query from a JSON file. An empty path selects everything.
func loadQuery(path string) (batchaction.Query, error) {
	var q batchaction.Query
	if path == "" {
		return q, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return q, fmt.Errorf("failed to read query file: %w", err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, fmt.Errorf("failed to parse query file %s: %w", path, err)
	}
	return q, nil
}
