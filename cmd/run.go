package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runInput  string
	runOutput string
	runLimit  int
	runReport bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile every facility in an input file",
	Long: `Reads facilities from a CSV, JSON, or XLSX file (columns name, address,
phone, id), resolves each one across the configured sources, and writes one
reconciled record per input row.

Examples:
  facility-cli run --input gyms.csv --output records.json
  facility-cli run --input gyms.xlsx --output records.xlsx --limit 20 --report`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		entities, err := readEntities(runInput)
		if err != nil {
			return eris.Wrap(err, "run: read input")
		}
		if runLimit > 0 && runLimit < len(entities) {
			entities = entities[:runLimit]
		}
		if len(entities) == 0 {
			return eris.New("run: input has no facilities")
		}
		zap.L().Info("loaded input", zap.String("path", runInput), zap.Int("entities", len(entities)))

		env, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Run(ctx, entities)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", res.RunID),
			zap.Int("records", len(res.Records)),
			zap.Int("unresolved", res.Unresolved),
			zap.Int("dlq_enqueued", res.DLQEnqueued),
			zap.Int("failed_batches", res.Batch.FailedBatches),
		)

		if runReport {
			fmt.Fprintln(os.Stderr, env.Engine.Report())
		}

		if runOutput == "" {
			return writeRecords(os.Stdout, formatJSON, res.Records)
		}
		return saveRecords(runOutput, res.Records)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "facility list (.csv, .json, or .xlsx) (required)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output file (.json, .csv, or .xlsx); stdout JSON when empty")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max facilities to process (0 = all)")
	runCmd.Flags().BoolVar(&runReport, "report", false, "print the performance report to stderr")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
