package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/jitctl/internal/subprocess"
	"github.com/vburojevic/jitctl/internal/tunnel"
)

// syncBuffer is a bytes.Buffer safe to read while a command writes to it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeStubPymobiledevice3 installs a fake pymobiledevice3 answering the
// process list and mount calls, and returns its directory
func writeStubPymobiledevice3(t *testing.T) string {
	t.Helper()
	stubDir := t.TempDir()

	script := `#!/bin/sh
if [ "$#" -ge 2 ] && [ "$1" = "processes" ] && [ "$2" = "pgrep" ]; then
  echo "2025-12-15 10:00:00 host pymobiledevice3[123] INFO 4321 Delta"
  echo "2025-12-15 10:00:00 host pymobiledevice3[123] INFO 4400 /private/var/containers/Bundle/Application/X/DeltaWidget.appex/DeltaWidget"
  exit 0
fi

if [ "$#" -ge 2 ] && [ "$1" = "mounter" ] && [ "$2" = "auto-mount" ]; then
  echo "DeveloperDiskImage already mounted"
  exit 1
fi

echo "stub: unsupported pymobiledevice3 args: $*" >&2
exit 2
`
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "pymobiledevice3"), []byte(script), 0o755))
	return stubDir
}

func TestPsCmd_WithStubHelper(t *testing.T) {
	stubDir := writeStubPymobiledevice3(t)

	globals, stdout, _ := testGlobals("ndjson")
	// the helper is only found through the PATH override
	globals.EnvPath = stubDir

	cmd := &PsCmd{Device: "ABCD1234", Name: "Delta"}
	require.NoError(t, cmd.run(context.Background(), globals))

	records := decodeLines(t, stdout.String())
	require.Len(t, records, 1)
	assert.Equal(t, "processes", records[0]["type"])
	assert.Equal(t, "Delta", records[0]["query"])
	procs := records[0]["processes"].([]any)
	require.Len(t, procs, 2)
	first := procs[0].(map[string]any)
	assert.EqualValues(t, 4321, first["pid"])
	assert.Equal(t, "Delta", first["name"])
}

func TestPsCmd_ExactFiltersByName(t *testing.T) {
	stubDir := writeStubPymobiledevice3(t)
	t.Setenv("PATH", stubDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	globals, stdout, _ := testGlobals("text")
	cmd := &PsCmd{Device: "ABCD1234", Name: "DeltaWidget", Exact: true}
	require.NoError(t, cmd.run(context.Background(), globals))

	out := stdout.String()
	assert.Contains(t, out, "4400")
	assert.NotContains(t, out, "4321")
}

func TestPsCmd_MissingHelper(t *testing.T) {
	globals, stdout, _ := testGlobals("ndjson")
	globals.EnvPath = t.TempDir()

	err := (&PsCmd{Device: "ABCD1234"}).run(context.Background(), globals)
	require.Error(t, err)

	records := decodeLines(t, stdout.String())
	require.Len(t, records, 1)
	assert.Equal(t, "error", records[0]["type"])
	assert.Equal(t, "DEPENDENCY_MISSING", records[0]["code"])
	assert.Contains(t, records[0]["message"], "could not list processes on device ABCD1234")
}

func TestMountCmd_AlreadyMounted(t *testing.T) {
	stubDir := writeStubPymobiledevice3(t)
	t.Setenv("PATH", stubDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	globals, stdout, _ := testGlobals("ndjson")
	require.NoError(t, (&MountCmd{Device: "ABCD1234"}).run(context.Background(), globals))

	records := decodeLines(t, stdout.String())
	require.Len(t, records, 1)
	assert.Equal(t, "mount", records[0]["type"])
	assert.Equal(t, "already_mounted", records[0]["outcome"])
}

func TestTunnelCmd_ReportsEndpointThenClosedTunnel(t *testing.T) {
	sp := subprocess.NewFakeSpawner(map[string]subprocess.FakeScript{
		tunnel.HelperName: {
			Output:   []string{"Interface: utun4", "--rsd fd00::1 58783", "Device is not connected"},
			Exit:     true,
			ExitCode: 1,
		},
	})
	globals, stdout, _ := fakeGlobals(t, "ndjson", sp)

	err := (&TunnelCmd{Device: "ABCD1234"}).run(context.Background(), globals)
	require.Error(t, err)

	records := decodeLines(t, stdout())
	require.Len(t, records, 2)
	assert.Equal(t, "tunnel", records[0]["type"])
	assert.Equal(t, "fd00::1", records[0]["address"])
	assert.EqualValues(t, 58783, records[0]["port"])

	assert.Equal(t, "error", records[1]["type"])
	assert.Equal(t, "DEVICE_NOT_CONNECTED", records[1]["code"])
	assert.Contains(t, records[1]["message"], "tunnel to device ABCD1234 closed")
	assert.Empty(t, sp.Alive())
}

func TestTunnelCmd_StopsOnCancel(t *testing.T) {
	sp := subprocess.NewFakeSpawner(map[string]subprocess.FakeScript{
		tunnel.HelperName: {Output: []string{"--rsd fd00::1 58783"}},
	})
	globals, _, _ := fakeGlobals(t, "ndjson", sp)
	stdout := &syncBuffer{}
	globals.Stdout = stdout

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&TunnelCmd{Device: "ABCD1234"}).run(ctx, globals) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), `"type":"tunnel"`)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"tunnel"}, recordTypes(decodeLines(t, stdout.String())))
	assert.Empty(t, sp.Alive())
}
