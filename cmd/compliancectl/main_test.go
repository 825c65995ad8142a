package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepCmd_RejectsBadAsOf(t *testing.T) {
	cmd := newSweepCmd(&rootFlags{})
	cmd.SetArgs([]string{"--as-of", "yesterday"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--as-of")
}

func TestCommandsRejectArgs(t *testing.T) {
	for _, cmd := range []interface {
		SetArgs([]string)
		Execute() error
	}{
		newSweepCmd(&rootFlags{}),
		newStatsCmd(&rootFlags{}),
		newMigrateCmd(&rootFlags{}),
	} {
		cmd.SetArgs([]string{"extra"})
		assert.Error(t, cmd.Execute())
	}
}

func TestLookupCommandsCheckArgCount(t *testing.T) {
	tests := []struct {
		name string
		cmd  *cobra.Command
		args []string
	}{
		{"activity missing id", newActivityCmd(&rootFlags{}), []string{"form"}},
		{"activity extra", newActivityCmd(&rootFlags{}), []string{"form", "f1", "x"}},
		{"inbox missing user", newInboxCmd(&rootFlags{}), nil},
		{"inbox extra", newInboxCmd(&rootFlags{}), []string{"u1", "u2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cmd.SetArgs(tt.args)
			tt.cmd.SetOut(&bytes.Buffer{})
			tt.cmd.SetErr(&bytes.Buffer{})
			err := tt.cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "arg(s)")
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"accepted": 2}))
	assert.JSONEq(t, `{"accepted":2}`, buf.String())
}
