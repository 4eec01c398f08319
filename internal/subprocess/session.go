// Package subprocess spawns external helper programs and exposes their
// output as a growing transcript.
package subprocess

import (
	"context"
	"errors"
	"strings"
)

// ErrExited is returned when writing to a helper that is no longer running.
var ErrExited = errors.New("helper process has exited")

// Spec describes a helper invocation.
type Spec struct {
	// Name labels the helper in logs and errors ("tunnel", "debugger", ...).
	Name string
	Path string
	Args []string
	// Env entries are appended to the inherited environment and win over it.
	Env []string
	// PTY runs the helper on a pseudo terminal instead of pipes.
	PTY bool
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Session is a running helper process.
type Session interface {
	Name() string
	PID() int
	// Transcript holds stdout and stderr merged, in arrival order.
	Transcript() *Transcript
	// Write waits until stdin accepts input, bounded by ctx, then writes p.
	Write(ctx context.Context, p []byte) error
	// Terminate kills the helper and releases its descriptors. It is safe to
	// call any number of times.
	Terminate() error
	// Wait blocks until the helper exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
	// Done is closed once the helper has exited.
	Done() <-chan struct{}
}

// Spawner starts helper processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Session, error)
}

// Exited reports whether s has already exited, without blocking.
func Exited(s Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code of an exited session, or -1 if it is still
// running.
func ExitCode(s Session) int {
	if !Exited(s) {
		return -1
	}
	code, _ := s.Wait(context.Background())
	return code
}
