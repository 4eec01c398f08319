package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/jitctl/internal/domain"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) Line(helper string, _ int, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, helper+": "+line)
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestExecSpawner_CapturesMergedOutputAndExitCode(t *testing.T) {
	ctx := testContext(t)
	sink := &recordingSink{}
	sp := &ExecSpawner{Sink: sink}

	sess, err := sp.Spawn(ctx, Spec{Name: "probe", Path: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
	require.NoError(t, err)
	defer sess.Terminate()

	code, err := sess.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Equal(t, 3, ExitCode(sess))

	// the reader may still be draining right after exit
	require.Eventually(t, func() bool { return sess.Transcript().Closed() }, 2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"out", "err"}, sess.Transcript().Lines())
	require.ElementsMatch(t, []string{"probe: out", "probe: err"}, sink.all())
}

func TestExecSpawner_WriteReachesStdin(t *testing.T) {
	ctx := testContext(t)
	sp := &ExecSpawner{}

	sess, err := sp.Spawn(ctx, Spec{Name: "echo", Path: "cat"})
	require.NoError(t, err)
	defer sess.Terminate()

	require.NoError(t, sess.Write(ctx, []byte("process attach --pid 42\n")))
	require.NoError(t, sess.Transcript().WaitLines(ctx, 1))
	require.Equal(t, "process attach --pid 42", sess.Transcript().Lines()[0])

	require.NoError(t, sess.Terminate())
	require.True(t, Exited(sess))
	require.ErrorIs(t, sess.Write(ctx, []byte("more\n")), ErrExited)
}

func TestExecSpawner_PTYDoesNotEchoInput(t *testing.T) {
	ctx := testContext(t)
	sp := &ExecSpawner{}

	sess, err := sp.Spawn(ctx, Spec{Name: "debugger", Path: "cat", PTY: true})
	require.NoError(t, err)
	defer sess.Terminate()

	require.NoError(t, sess.Write(ctx, []byte("platform select remote-ios\n")))
	require.NoError(t, sess.Transcript().WaitLines(ctx, 1))
	require.NoError(t, sess.Write(ctx, []byte("process connect\n")))
	require.NoError(t, sess.Transcript().WaitLines(ctx, 2))

	// only cat's own output, no copy of the input from the terminal
	require.Equal(t, []string{"platform select remote-ios", "process connect"}, sess.Transcript().Lines())
}

func TestExecSpawner_TerminateKillsRunningHelper(t *testing.T) {
	ctx := testContext(t)
	sp := &ExecSpawner{}

	sess, err := sp.Spawn(ctx, Spec{Name: "tunnel", Path: "sh", Args: []string{"-c", "echo ready; sleep 30"}})
	require.NoError(t, err)
	require.NoError(t, sess.Transcript().WaitLines(ctx, 1))
	require.False(t, Exited(sess))

	start := time.Now()
	require.NoError(t, sess.Terminate())
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, Exited(sess))
	require.True(t, sess.Transcript().Closed())

	// repeated calls are no-ops
	require.NoError(t, sess.Terminate())
}

func TestExecSpawner_ResolvesHelperOnOverridePath(t *testing.T) {
	ctx := testContext(t)
	stubDir := t.TempDir()
	script := "#!/bin/sh\necho \"stub $*\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "pymobiledevice3"), []byte(script), 0o755))

	sp := &ExecSpawner{Env: []string{"PATH=" + stubDir + string(os.PathListSeparator) + os.Getenv("PATH")}}
	sess, err := sp.Spawn(ctx, Spec{Name: "tunnel", Path: "pymobiledevice3", Args: []string{"lockdown", "start-tunnel"}})
	require.NoError(t, err)
	defer sess.Terminate()

	_, err = sess.Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Transcript().Closed() }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "stub lockdown start-tunnel", sess.Transcript().LastLine())
}

func TestExecSpawner_MissingHelperIsDependencyMissing(t *testing.T) {
	ctx := testContext(t)
	sp := &ExecSpawner{Env: []string{"PATH=" + t.TempDir()}}

	_, err := sp.Spawn(ctx, Spec{Name: "tunnel", Path: "pymobiledevice3-not-installed"})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrDependencyMissing)
	require.True(t, strings.Contains(err.Error(), "pymobiledevice3-not-installed"))
}

func TestFakeSpawner_RepliesAndRecordsInputs(t *testing.T) {
	ctx := testContext(t)
	sp := NewFakeSpawner(map[string]FakeScript{
		"debugger": {
			Output: []string{"(lldb) "},
			Replies: []FakeReply{
				{Match: "process attach", Lines: []string{"Process 42 stopped"}},
				{Match: "quit", Exit: true},
			},
		},
	})

	sess, err := sp.Spawn(ctx, Spec{Name: "debugger", Path: "lldb"})
	require.NoError(t, err)
	require.NoError(t, sess.Write(ctx, []byte("process attach --pid 42\n")))
	require.Equal(t, "Process 42 stopped", sess.Transcript().LastLine())

	require.NoError(t, sess.Write(ctx, []byte("quit\n")))
	require.True(t, Exited(sess))
	require.ErrorIs(t, sess.Write(ctx, []byte("again\n")), ErrExited)

	fake := sp.Session("debugger")
	require.Equal(t, []string{"process attach --pid 42", "quit"}, fake.Inputs())
	require.Empty(t, sp.Alive())

	_, err = sp.Spawn(ctx, Spec{Name: "unknown"})
	require.Error(t, err)
}
