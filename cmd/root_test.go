package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "serve", "report", "runs", "dlq", "sources"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "facility-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.Contains(t, rootCmd.Long, "FACILITY_")
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "catalog", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestApplyOverrides(t *testing.T) {
	defer func() { catalogPath, logLevel = "", "" }()

	c := config.Defaults()
	applyOverrides(c)
	assert.Equal(t, "sources.yaml", c.Sources.CatalogPath)
	assert.Equal(t, "info", c.Log.Level)

	catalogPath, logLevel = "gyms-sources.yaml", "debug"
	applyOverrides(c)
	assert.Equal(t, "gyms-sources.yaml", c.Sources.CatalogPath)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("input")
	require.NotNil(t, flag, "run command should have --input flag")

	for _, name := range []string{"output", "limit", "report"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "0", runCmd.Flags().Lookup("limit").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDLQCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range dlqCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["retry"])
	assert.Equal(t, "20", dlqRetryCmd.Flags().Lookup("limit").DefValue)
}
