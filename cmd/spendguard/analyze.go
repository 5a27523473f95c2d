package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full pipeline once and print the results as JSON",
		Long: `Run detection, diagnosis, and recommendation for one tenant and window,
then print the session's anomalies, verdicts, and recommendations.`,
		RunE: runAnalyze,
	}
	cmd.Flags().String("tenant", "", "Tenant short code")
	cmd.Flags().Int("window", 30, "Analysis window in days")
	cmd.Flags().String("fixture", "", "YAML fixture file (offline mode)")
	cmd.Flags().Bool("model-reasoning", false, "Use model-phrased recommendation reasoning")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	window, _ := cmd.Flags().GetInt("window")
	fixture, _ := cmd.Flags().GetString("fixture")
	useModel, _ := cmd.Flags().GetBool("model-reasoning")

	core, _, cleanup, err := buildCore(cmd, fixture)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	sessionID, summary, err := core.Analyze(ctx, tenant, window, "")
	if err != nil {
		return err
	}

	anomalies, verdicts, err := core.Anomalies(sessionID)
	if err != nil {
		return err
	}
	recs, recSummary, err := core.Recommend(ctx, sessionID, useModel)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"summary":           summary,
		"anomalies":         anomalies,
		"verdicts":          verdicts,
		"recommendations":   recs,
		"recommend_summary": recSummary,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
