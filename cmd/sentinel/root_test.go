package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"serve", "cycle", "collect", "test-connection", "task-status", "register-hosts"}, names)
}

func TestCollectCommand_RejectsUnknownSource(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"collect", "mainframe"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mainframe")
}

func TestCollectCommand_RequiresSource(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"collect"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"events": 3}))

	assert.Equal(t, "{\n  \"events\": 3\n}\n", buf.String())
}
