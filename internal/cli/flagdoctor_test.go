package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/jitctl/internal/config"
)

func TestValidateFlags(t *testing.T) {
	globals := &Globals{Format: "text", Quiet: true, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Error(t, validateFlags(globals))

	globals = &Globals{Format: "ndjson", Quiet: true, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.NoError(t, validateFlags(globals))

	cfg := config.Default()
	cfg.Helpers.Debugger.Path = ""
	stdout := &bytes.Buffer{}
	globals = &Globals{Format: "ndjson", Stdout: stdout, Stderr: &bytes.Buffer{}, Config: cfg}
	require.Error(t, validateFlags(globals))
	require.Contains(t, stdout.String(), `"code":"INVALID_CONFIG"`)
	require.Contains(t, stdout.String(), "helpers.debugger.path")
}
