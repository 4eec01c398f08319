package lldb

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

var endpoint = domain.DebugEndpoint{Address: "fe80::1", Port: 58784}

// echo mimics the debugger on a terminal: the command line is echoed after
// the prompt, followed by the command's own output.
func echo(cmd string, lines ...string) subprocess.FakeReply {
	return subprocess.FakeReply{Match: cmd, Lines: append([]string{"(lldb) " + cmd}, lines...)}
}

func happyReplies(pid string) []subprocess.FakeReply {
	return []subprocess.FakeReply{
		echo(CmdPlatformSelect, "  Platform: remote-ios", " Connected: no"),
		echo(CmdConnect),
		echo(CmdMinimalLoad),
		echo(CmdAttach, "Process "+pid+" stopped", "* thread #1, stop reason = signal SIGSTOP"),
		echo(CmdContinue, "Process "+pid+" resuming"),
		echo(CmdDetach, "Process "+pid+" detached"),
	}
}

func startSession(t *testing.T, script subprocess.FakeScript) (*Session, *subprocess.FakeSpawner) {
	t.Helper()
	sp := subprocess.NewFakeSpawner(map[string]subprocess.FakeScript{HelperName: script})
	l := &Launcher{
		Spawner:        sp,
		Helper:         subprocess.Spec{Path: "lldb", PTY: true},
		CommandTimeout: 2 * time.Second,
		AttachTimeout:  2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	}
	s, err := l.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, sp
}

func TestAttachAndDetach(t *testing.T) {
	s, sp := startSession(t, subprocess.FakeScript{Replies: happyReplies("4321")})
	ctx := context.Background()

	require.NoError(t, s.Attach(ctx, endpoint, 4321))
	require.True(t, s.Attached())

	require.NoError(t, s.Detach(ctx))

	require.Equal(t, []string{
		"platform select remote-ios",
		"process connect connect://[fe80::1]:58784",
		"settings set target.memory-module-load-level minimal",
		"process attach --pid 4321",
		"process continue",
		"process detach",
	}, sp.Session(HelperName).Inputs())
}

func TestAttach_FailureMarkerWinsOverExitStatus(t *testing.T) {
	s, sp := startSession(t, subprocess.FakeScript{Replies: []subprocess.FakeReply{
		echo(CmdPlatformSelect, "  Platform: remote-ios"),
		echo(CmdConnect),
		echo(CmdMinimalLoad),
		echo(CmdAttach, "error: attach failed: no such process"),
	}})

	err := s.Attach(context.Background(), endpoint, 4321)
	require.ErrorIs(t, err, domain.ErrAttachFailure)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, "error: attach failed: no such process", de.Detail)
	require.False(t, s.Attached())

	// the debugger itself is still running and would exit 0
	require.False(t, subprocess.Exited(sp.Session(HelperName)))
}

func TestAttach_SDKMissingIsNotFatal(t *testing.T) {
	replies := happyReplies("7")
	replies[0] = echo(CmdPlatformSelect, "error: no SDK found for remote-ios")
	s, _ := startSession(t, subprocess.FakeScript{Replies: replies})

	require.NoError(t, s.Attach(context.Background(), endpoint, 7))
}

func TestAttach_ConnectErrorIsUnexpectedOutput(t *testing.T) {
	s, sp := startSession(t, subprocess.FakeScript{Replies: []subprocess.FakeReply{
		echo(CmdPlatformSelect, "  Platform: remote-ios"),
		echo(CmdConnect, "error: failed to get reply to handshake packet"),
	}})

	err := s.Attach(context.Background(), endpoint, 4321)
	require.ErrorIs(t, err, domain.ErrUnexpectedOutput)
	require.Len(t, sp.Session(HelperName).Inputs(), 2)
}

func TestAttach_DebuggerCrashFailsFast(t *testing.T) {
	s, _ := startSession(t, subprocess.FakeScript{Replies: []subprocess.FakeReply{
		echo(CmdPlatformSelect, "  Platform: remote-ios"),
		echo(CmdConnect),
		echo(CmdMinimalLoad),
		{Match: CmdAttach, Lines: []string{"Segmentation fault"}, Exit: true, ExitCode: 139},
	}})

	start := time.Now()
	err := s.Attach(context.Background(), endpoint, 4321)
	require.ErrorIs(t, err, domain.ErrProcessFailure)
	require.Less(t, time.Since(start), time.Second)
}

func TestDetach_RequiresAttach(t *testing.T) {
	s, sp := startSession(t, subprocess.FakeScript{Replies: happyReplies("1")})
	require.ErrorIs(t, s.Detach(context.Background()), domain.ErrProcessNotRunning)
	require.Empty(t, sp.Session(HelperName).Inputs())
}

func TestSendCommand_ReturnsOnlyOutputSinceCommand(t *testing.T) {
	s, _ := startSession(t, subprocess.FakeScript{
		Output:  []string{"(lldb) command source ~/.lldbinit", "banner"},
		Replies: []subprocess.FakeReply{echo("version", "lldb-1600.0.36.3")},
	})

	out, err := s.SendCommand(context.Background(), "version", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "(lldb) version\nlldb-1600.0.36.3\n", out)
}

func TestSendCommand_KeepsPollingUntilPatternAppears(t *testing.T) {
	s, sp := startSession(t, subprocess.FakeScript{
		Replies: []subprocess.FakeReply{echo("process attach --pid 9")},
	})
	fake := sp.Session(HelperName)
	go func() {
		// a slow attach: output is stable for several polls before the
		// stop notice arrives
		time.Sleep(100 * time.Millisecond)
		fake.Emit("Process 9 stopped")
	}()

	out, err := s.SendCommand(context.Background(), "process attach --pid 9", 2*time.Second, regexp.MustCompile("Process 9 stopped"))
	require.NoError(t, err)
	require.Contains(t, out, "Process 9 stopped")
}

func TestSendCommand_TimeoutCarriesTranscript(t *testing.T) {
	s, _ := startSession(t, subprocess.FakeScript{
		Output: []string{"(lldb) "},
		// no reply at all: not even a new line appears
	})

	_, err := s.SendCommand(context.Background(), "process continue", 50*time.Millisecond, nil)
	require.ErrorIs(t, err, domain.ErrProcessTimeout)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Contains(t, de.Transcript, "(lldb)")
}

func TestSendCommand_PatternNeverMatchingTimesOut(t *testing.T) {
	s, _ := startSession(t, subprocess.FakeScript{
		Replies: []subprocess.FakeReply{echo("process continue", "error: Process must be launched.")},
	})

	_, err := s.SendCommand(context.Background(), "process continue", 100*time.Millisecond, regexp.MustCompile("resuming"))
	require.ErrorIs(t, err, domain.ErrProcessTimeout)
}

// writeSlowDebugger installs a debugger stub that answers each command only
// after a delay, so the reply arrives well after the next poll
func writeSlowDebugger(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
while read -r line; do
  case "$line" in
    "platform select"*) echo "  Platform: remote-ios" ;;
    "process connect"*) sleep 0.5; echo "error: failed to connect" ;;
    *) echo "unknown: $line" ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "lldb")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func startSlowDebugger(t *testing.T) *Session {
	t.Helper()
	l := &Launcher{
		Spawner:        &subprocess.ExecSpawner{},
		Helper:         subprocess.Spec{Path: writeSlowDebugger(t), PTY: true},
		CommandTimeout: 5 * time.Second,
		AttachTimeout:  5 * time.Second,
		PollInterval:   50 * time.Millisecond,
	}
	s, err := l.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSendCommand_WaitsForDelayedReplyOnTerminal(t *testing.T) {
	s := startSlowDebugger(t)

	out, err := s.SendCommand(context.Background(), "process connect connect://[fe80::1]:1", 5*time.Second, nil)
	require.NoError(t, err)
	require.Contains(t, out, "error: failed to connect")
	require.NotContains(t, out, "process connect")
}

func TestAttach_DelayedConnectErrorIsUnexpectedOutput(t *testing.T) {
	s := startSlowDebugger(t)

	start := time.Now()
	err := s.Attach(context.Background(), domain.DebugEndpoint{Address: "fe80::1", Port: 1}, 4321)
	require.ErrorIs(t, err, domain.ErrUnexpectedOutput)
	require.Less(t, time.Since(start), 4*time.Second)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, "error: failed to connect", de.Detail)
}
