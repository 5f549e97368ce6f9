package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/facility-cli/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the configured adapters and fallback strategies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		formatCatalog(os.Stdout, cat, cfg.Jina.Key != "", cfg.Anthropic.Key != "", cfg.Store.Driver != "none")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// formatCatalog writes the catalog with each entry's effective state.
func formatCatalog(out io.Writer, cat source.Catalog, hasJina, hasLLM, hasStore bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ADAPTER\tKIND\tCONFIDENCE\tSTATE")
	for _, a := range cat.Adapters {
		state := "enabled"
		switch {
		case !a.IsEnabled():
			state = "disabled"
		case a.Kind == source.KindJina && !hasJina:
			state = "no api key"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", a.Name, a.Kind, a.Confidence, state)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STRATEGY\tPRIORITY\tSTATE")
	for _, s := range cat.Strategies {
		state := "enabled"
		switch {
		case !s.IsEnabled():
			state = "disabled"
		case s.Name == source.StrategyJinaSearch && !hasJina:
			state = "no api key"
		case s.Name == source.StrategyLLMExtract && !hasLLM:
			state = "no api key"
		case s.Name == source.StrategyStoredRecord && !hasStore:
			state = "no store"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", s.Name, s.Priority, state)
	}
	_ = w.Flush()
}
