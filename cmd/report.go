package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reportAddr string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the performance report of a running server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := reportAddr
		if addr == "" {
			addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		return fetchReport(cmd.Context(), http.DefaultClient, addr, os.Stdout)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportAddr, "addr", "", "server base URL (default http://localhost:<server.port>)")
	rootCmd.AddCommand(reportCmd)
}

// fetchReport copies GET <addr>/report to out.
func fetchReport(ctx context.Context, hc *http.Client, addr string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/report", nil)
	if err != nil {
		return eris.Wrap(err, "report: create request")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return eris.Wrap(err, "report: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("report: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return eris.Wrap(err, "report: read body")
	}
	return nil
}
