package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/recourse/internal/complaint"
)

var runCaseFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single complaint case from a JSON file",
	Long: `Run reads a complaint case from a JSON file, processes it through the
full pipeline (redaction, triage, context enrichment, resolution,
finalization) and prints the resulting case record to stdout.

The input file carries the raw complaint:

  {
    "case_id": "CASE-2024-001",
    "customer_id": "CUST-1001",
    "order_id": "ORD-5001",
    "email_subject": "Defective jacket",
    "email_body": "The jacket I received has a broken zipper...",
    "channel": "email",
    "received_at": "2024-06-01T10:00:00Z"
  }`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runCaseFile, "case", "", "path to the case JSON file (required)")
	_ = runCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "cmd.run")
	defer span.End()

	data, err := os.ReadFile(runCaseFile)
	if err != nil {
		return fmt.Errorf("reading case file: %w", err)
	}

	var input complaint.CaseInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("parsing case file: %w", err)
	}

	rec, err := complaint.NewCaseRecord(input)
	if err != nil {
		return fmt.Errorf("invalid case input: %w", err)
	}
	span.SetAttributes(attribute.String("case.id", rec.Input.CaseID))

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.pipeline.Run(ctx, rec); err != nil {
		return fmt.Errorf("processing case %s: %w", rec.Input.CaseID, err)
	}

	log.Info().
		Str("case_id", rec.Input.CaseID).
		Str("decision", string(rec.Resolution.Decision)).
		Str("status", string(rec.Finalize.Status)).
		Bool("hitl_required", rec.Resolution.HITLRequired).
		Msg("case processed")

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding case record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
