package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}
		writeRunTable(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run's batch outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}
		writeRunDetail(os.Stdout, run)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		writeRunSummary(os.Stdout, summarizeRuns(runs, cutoff))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "only runs in this status (running, complete, cancelled, failed)")
	runsListCmd.Flags().Int("limit", 50, "max runs to list")
	runsShowCmd.Flags().Bool("json", false, "print the raw run as JSON")
	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "only runs started within this window (0 for all)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// requireStore opens the store and fails when the driver is "none".
func requireStore(cmd *cobra.Command) (store.Store, error) {
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.Errorf("%s requires a store (store.driver must be postgres or sqlite)", cmd.CommandPath())
	}
	return st, nil
}

// runSummary aggregates finished and in-flight runs.
type runSummary struct {
	Runs         int
	ByStatus     map[model.RunStatus]int
	Entities     int
	Batches      int
	Failed       int
	Degraded     int
	Fallbacks    int
	ProcessingMs int64
	timed        int
}

// BatchSuccessRate is the share of batches that succeeded, or 0 with no batches.
func (s runSummary) BatchSuccessRate() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Batches-s.Failed) / float64(s.Batches)
}

// AvgProcessing is the mean processing time over runs that recorded stats.
func (s runSummary) AvgProcessing() time.Duration {
	if s.timed == 0 {
		return 0
	}
	return time.Duration(s.ProcessingMs/int64(s.timed)) * time.Millisecond
}

// summarizeRuns folds runs created at or after cutoff.
func summarizeRuns(runs []model.Run, cutoff time.Time) runSummary {
	s := runSummary{ByStatus: make(map[model.RunStatus]int)}
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		s.Runs++
		s.ByStatus[r.Status]++
		s.Entities += r.Entities
		if r.Stats == nil {
			continue
		}
		s.Batches += r.Stats.TotalBatches
		s.Failed += r.Stats.FailedBatches
		s.Degraded += r.Stats.Degraded
		s.Fallbacks += r.Stats.Fallbacks
		s.ProcessingMs += r.Stats.ProcessingTimeMs
		s.timed++
	}
	return s
}

func writeRunTable(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tENTITIES\tBATCHES OK\tDEGRADED\tSTARTED\tTOOK")
	for _, r := range runs {
		batches, degraded, took := "-", "-", "-"
		if r.Stats != nil {
			batches = fmt.Sprintf("%d/%d", r.Stats.SuccessfulBatches, r.Stats.TotalBatches)
			degraded = fmt.Sprint(r.Stats.Degraded)
			took = (time.Duration(r.Stats.ProcessingTimeMs) * time.Millisecond).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.Status, r.Entities, batches, degraded,
			r.CreatedAt.Format("2006-01-02 15:04"), took)
	}
	_ = w.Flush()
}

func writeRunDetail(out io.Writer, r *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "Entities:\t%d\n", r.Entities)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", r.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", r.UpdatedAt.Format(time.RFC3339))
	if s := r.Stats; s != nil {
		_, _ = fmt.Fprintf(w, "Batches:\t%d total, %d ok, %d failed\n", s.TotalBatches, s.SuccessfulBatches, s.FailedBatches)
		_, _ = fmt.Fprintf(w, "Avg batch size:\t%.1f\n", s.AverageBatchSize)
		_, _ = fmt.Fprintf(w, "Degraded records:\t%d\n", s.Degraded)
		_, _ = fmt.Fprintf(w, "Fallback records:\t%d\n", s.Fallbacks)
		_, _ = fmt.Fprintf(w, "Processing:\t%s\n", time.Duration(s.ProcessingTimeMs)*time.Millisecond)
	}
	_ = w.Flush()
}

func writeRunSummary(out io.Writer, s runSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", s.Runs)
	for _, st := range []model.RunStatus{model.RunStatusComplete, model.RunStatusRunning, model.RunStatusCancelled, model.RunStatusFailed} {
		if n := s.ByStatus[st]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Entities:\t%d\n", s.Entities)
	_, _ = fmt.Fprintf(w, "Batch success:\t%.1f%%\n", s.BatchSuccessRate()*100)
	_, _ = fmt.Fprintf(w, "Degraded records:\t%d\n", s.Degraded)
	_, _ = fmt.Fprintf(w, "Fallback records:\t%d\n", s.Fallbacks)
	if d := s.AvgProcessing(); d > 0 {
		_, _ = fmt.Fprintf(w, "Avg processing:\t%s\n", d.Round(100*time.Millisecond))
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
