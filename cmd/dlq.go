package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-cli/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered facilities",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("dlq"); err != nil {
			return err
		}

		st, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run dead letter entries that are due",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "dlq")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := env.Engine.RetryDLQ(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq retry")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, rate_limited, permanent, exhausted)")
	dlqListCmd.Flags().Int("limit", 50, "max entries to display")
	dlqListCmd.Flags().Bool("json", false, "print entries as JSON")
	dlqRetryCmd.Flags().Int("limit", 20, "max entries to retry")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatDLQList writes a tabular list of dead letter entries to out.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFACILITY\tERROR_TYPE\tRETRIES\tNEXT_RETRY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t----------\t-------\t----------\t-----")

	for _, e := range entries {
		name := []rune(e.Entity.Name)
		if len(name) > 24 {
			name = append(name[:21], []rune("...")...)
		}
		msg := []rune(e.Error)
		if len(msg) > 60 {
			msg = append(msg[:57], []rune("...")...)
		}
		next := e.NextRetryAt.Format("2006-01-02 15:04")
		if !e.CanRetry() {
			next = "exhausted"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			string(name),
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			next,
			string(msg),
		)
	}
	_ = w.Flush()
}
