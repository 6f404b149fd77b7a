package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestCompareInProcess(t *testing.T) {
	out := execute(t, "compare", "--users", "4", "--text", "Abc")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, []string{"slow", "3", "12", "4"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"memo", "3", "3", "1"}, strings.Fields(lines[2]))
	require.Equal(t, []string{"nonreactive", "0", "3", "1"}, strings.Fields(lines[3]))
}

func TestRunPrintsRows(t *testing.T) {
	out := execute(t, "run", "--users", "3", "--mode", "memo", "--field", "name", "--text", "Zed", "--add", "Dee:Libra")
	require.Contains(t, out, "list renders: 4")
	require.Contains(t, out, "Zed")
	require.Contains(t, out, "Libra")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", "--mode", "fast"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestWatchRequiresAddr(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"watch"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}
