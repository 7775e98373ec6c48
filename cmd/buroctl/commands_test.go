package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"created": 3}))
	assert.Equal(t, "{\n  \"created\": 3\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printJSON(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestQueryCmd_RequiresCedula(t *testing.T) {
	cmd := queryCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestSetup_RejectsMemoryDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	_, err := setup(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=postgres")
}
