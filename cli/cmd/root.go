// Package cmd contains CLI commands.
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/DhavalThkkar/langfuse/cli/internal/client"
	"github.com/DhavalThkkar/langfuse/cli/internal/config"
	"github.com/DhavalThkkar/langfuse/cli/internal/output"
)

var (
	cfg       *config.Config
	format    string
	apiURL    string
	projectID string
	verbose   bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "langfuse",
	Short: "Langfuse batch evaluation CLI",
	Long: `Run evaluators over historical observations and track the runs.

Examples:
  # List the evaluators of a project
  langfuse evaluators list -p proj-1

  # Evaluate every production observation with two evaluators
  langfuse batch create -p proj-1 -e eval-1=quality -e eval-2=toxicity \
    --query-file production.json

  # Follow a run
  langfuse batch get -p proj-1 <batch-action-id>

  # Evaluate an exported observation file locally
  langfuse batch run-file events.jsonl --evaluators evaluators.json
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.DefaultConfig()
		if format != "" {
			cfg.Format = format
		}
		if apiURL != "" {
			cfg.APIURL = apiURL
		}
		if projectID != "" {
			cfg.ProjectID = projectID
		}
		cfg.Verbose = cfg.Verbose || verbose
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Batch action API base URL")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(evaluatorsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("langfuse version 0.1.0")
	},
}

func writer(cmd *cobra.Command) *output.Writer {
	return output.NewWriterTo(cfg.Format, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func apiClient() *client.Client {
	return client.New(cfg.APIURL, cfg.Timeout)
}

func requireProject() (string, error) {
	if cfg.ProjectID == "" {
		return "", errors.New("project id is required (--project or LANGFUSE_PROJECT_ID)")
	}
	return cfg.ProjectID, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}
