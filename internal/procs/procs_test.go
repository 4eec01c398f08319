package procs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

var helper = subprocess.Spec{
	Path: "pymobiledevice3",
	Args: []string{"processes", "pgrep", "{name}", "--udid", "{udid}"},
}

func fakeResolver(script subprocess.FakeScript) (*Resolver, *subprocess.FakeSpawner) {
	sp := subprocess.NewFakeSpawner(map[string]subprocess.FakeScript{HelperName: script})
	return &Resolver{Spawner: sp, Helper: helper}, sp
}

func TestResolve_FirstMatchingEntryWins(t *testing.T) {
	r, sp := fakeResolver(subprocess.FakeScript{
		Output: []string{
			"INFO 100 DeltaHelper",
			"INFO 4321 Delta",
			"INFO 4400 Delta",
		},
		Exit: true,
	})

	pid, found, err := r.Resolve(context.Background(), "Delta", "ABCD1234")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 4321, pid)
	require.Equal(t, []string{"processes", "pgrep", "Delta", "--udid", "ABCD1234"}, sp.Specs()[0].Args)
	require.Empty(t, sp.Alive())
}

func TestResolve_MatchesExecutablePath(t *testing.T) {
	r, _ := fakeResolver(subprocess.FakeScript{
		Output: []string{"2025-01-01 10:00:00 mac pymobiledevice3.cli.processes[1] INFO 77 /private/var/containers/Bundle/Application/X/Delta.app/Delta"},
		Exit:   true,
	})

	pid, found, err := r.Resolve(context.Background(), "Delta", "ABCD1234")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 77, pid)
}

func TestResolve_AbsentIsNotAnError(t *testing.T) {
	r, _ := fakeResolver(subprocess.FakeScript{Output: []string{"INFO 1 launchd"}, Exit: true})

	_, found, err := r.Resolve(context.Background(), "Delta", "ABCD1234")
	require.NoError(t, err)
	require.False(t, found)
}

func TestList_ReturnsEveryEntry(t *testing.T) {
	r, _ := fakeResolver(subprocess.FakeScript{
		Output: []string{"INFO 1 launchd", "noise", "INFO 4321 Delta"},
		Exit:   true,
	})

	entries, err := r.List(context.Background(), "", "ABCD1234")
	require.NoError(t, err)
	require.Equal(t, []domain.ProcessEntry{{PID: 1, Name: "launchd"}, {PID: 4321, Name: "Delta"}}, entries)
}

func TestList_Failures(t *testing.T) {
	r, _ := fakeResolver(subprocess.FakeScript{Output: []string{"ERROR Device is not connected"}, Exit: true})
	_, err := r.List(context.Background(), "Delta", "ABCD1234")
	require.ErrorIs(t, err, domain.ErrDeviceNotConnected)

	r, _ = fakeResolver(subprocess.FakeScript{Output: []string{"usage error"}, Exit: true, ExitCode: 2})
	_, err = r.List(context.Background(), "Delta", "ABCD1234")
	require.ErrorIs(t, err, domain.ErrProcessFailure)

	r, sp := fakeResolver(subprocess.FakeScript{Output: []string{"listing"}})
	r.Timeout = 50 * time.Millisecond
	_, err = r.List(context.Background(), "Delta", "ABCD1234")
	require.ErrorIs(t, err, domain.ErrProcessTimeout)
	require.Empty(t, sp.Alive())
}

func TestResolve_WithStubHelper(t *testing.T) {
	stubDir := t.TempDir()

	// Stub pymobiledevice3 processes pgrep <name> --udid <udid>
	script := `#!/bin/sh
set -eu

if [ "$#" -ge 5 ] && [ "$1" = "processes" ] && [ "$2" = "pgrep" ] && [ "$4" = "--udid" ] && [ "$5" = "ABCD1234" ]; then
  echo "INFO 4321 $3"
  exit 0
fi

echo "stub: unsupported args: $*" >&2
exit 1
`
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "pymobiledevice3"), []byte(script), 0o755))

	sp := &subprocess.ExecSpawner{Env: []string{"PATH=" + stubDir + string(os.PathListSeparator) + os.Getenv("PATH")}}
	r := &Resolver{Spawner: sp, Helper: helper}

	pid, found, err := r.Resolve(context.Background(), "Delta", "ABCD1234")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 4321, pid)

	_, err = r.List(context.Background(), "Delta", "OTHER")
	require.ErrorIs(t, err, domain.ErrProcessFailure)
}
