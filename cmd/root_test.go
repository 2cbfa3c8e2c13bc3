package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"valuate", "dcf", "signals", "simulate", "weights", "multiples", "migrate", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "valuation-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestValuateCommand_Flags(t *testing.T) {
	require.NotNil(t, valuateCmd.Flags().Lookup("input"))
	flag := valuateCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
}

func TestDCFCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "save", "activate", "xlsx", "format"} {
		assert.NotNil(t, dcfCmd.Flags().Lookup(name), "dcf should have --%s flag", name)
	}
}

func TestSignalsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range signalsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"summary", "confirm", "dismiss", "history"} {
		assert.True(t, names[name], "signals should have subcommand %q", name)
	}
	assert.NotNil(t, signalsDismissCmd.Flags().Lookup("reason"))
}

func TestSimulateCommand_Flags(t *testing.T) {
	flag := simulateCmd.Flags().Lookup("iterations")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, simulateCmd.Flags().Lookup("seed"))
	assert.NotNil(t, simulateCmd.Flags().Lookup("parallel"))
}

func TestWeightsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range weightsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["set"])
	assert.True(t, names["show"])
	assert.NotNil(t, weightsSetCmd.Flags().Lookup("company"))
	assert.NotNil(t, weightsShowCmd.Flags().Lookup("company"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
