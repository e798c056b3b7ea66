package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	expected := []string{
		"version",
		"run",
		"serve",
		"index",
		"memory",
	}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestRootCommand_HelpOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "complaint")
	assert.Contains(t, output, "run")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "index")
}

func TestVersionVars_HaveDefaults(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "none", Commit)
	assert.Equal(t, "unknown", BuildDate)
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	tests := []struct {
		name     string
		flagName string
	}{
		{"config flag", "config"},
		{"verbose flag", "verbose"},
		{"log-level flag", "log-level"},
		{"log-format flag", "log-format"},
		{"otel flag", "otel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.flagName)
			assert.NotNil(t, flag, "flag %q should be registered", tt.flagName)
		})
	}
}

func TestRootCommand_UseAndShort(t *testing.T) {
	assert.Equal(t, "recourse", rootCmd.Use)
	assert.Equal(t, "LLM-driven complaint resolution with deterministic guardrails", rootCmd.Short)
}

func TestRunCmd_RequiresCaseFlag(t *testing.T) {
	flag := runCmd.Flags().Lookup("case")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestIndexCmd_DocsDirDefault(t *testing.T) {
	flag := indexCmd.Flags().Lookup("docs-dir")
	require.NotNil(t, flag)
	assert.Equal(t, "docs/policies", flag.DefValue)
}

func TestMemoryCmd_RequiresOneArg(t *testing.T) {
	require.NotNil(t, memoryCmd.Args)
	assert.Error(t, memoryCmd.Args(memoryCmd, []string{}))
	assert.NoError(t, memoryCmd.Args(memoryCmd, []string{"CUST-1001"}))
}

func TestMemoryCmd_LimitDefault(t *testing.T) {
	flag := memoryCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestResolvedVersion_ReturnsExplicitVersion(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3", resolvedVersion())
}

func TestPackageLevelTracer_IsNotNil(t *testing.T) {
	assert.NotNil(t, tracer, "package-level tracer should be initialized")
}
