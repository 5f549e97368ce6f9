package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/config"
)

var cfg *config.Config

var (
	configPath  string
	catalogPath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "facility-cli",
	Short: "Multi-source facility record reconciliation",
	Long: `Looks facilities up across several search sources, cross-validates their
answers, and writes one reconciled record per facility.

Settings come from config.yaml (or --config) and FACILITY_* environment
variables, e.g. FACILITY_JINA_KEY, FACILITY_ANTHROPIC_KEY, FACILITY_STORE_DRIVER.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyOverrides(c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

// applyOverrides copies persistent flag values over the loaded config.
func applyOverrides(c *config.Config) {
	if catalogPath != "" {
		c.Sources.CatalogPath = catalogPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	pf.StringVar(&catalogPath, "catalog", "", "source catalog file (overrides sources.catalog_path)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
