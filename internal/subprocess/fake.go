package subprocess

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// FakeReply is a recorded response to one stdin line.
type FakeReply struct {
	// Match is compared against the received line (without newline) by
	// prefix. The first matching reply that has not been used wins.
	Match string
	Lines []string
	// Exit makes the helper exit with ExitCode after printing Lines.
	Exit     bool
	ExitCode int
	// Repeat allows the reply to match more than once.
	Repeat bool
}

// FakeScript replays the recorded behaviour of one helper.
type FakeScript struct {
	// Output is printed as soon as the helper starts.
	Output []string
	// Exit makes the helper exit with ExitCode right after Output.
	Exit     bool
	ExitCode int
	Replies  []FakeReply
	// SpawnErr makes Spawn fail.
	SpawnErr error
}

// FakeSpawner is a Spawner that replays scripts keyed by Spec.Name. It
// records every spawned session so tests can assert on cleanup.
type FakeSpawner struct {
	mu       sync.Mutex
	scripts  map[string]FakeScript
	sessions []*FakeSession
	specs    []Spec
	nextPID  int

	// terminated lists helper names in the order they were first
	// terminated.
	terminated []string
}

// NewFakeSpawner returns a spawner that replays scripts.
func NewFakeSpawner(scripts map[string]FakeScript) *FakeSpawner {
	return &FakeSpawner{scripts: scripts, nextPID: 1000}
}

// Spawn implements Spawner.
func (f *FakeSpawner) Spawn(ctx context.Context, spec Spec) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	script, ok := f.scripts[spec.Name]
	f.specs = append(f.specs, spec)
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("fake: no script for helper %q", spec.Name)
	}
	if script.SpawnErr != nil {
		f.mu.Unlock()
		return nil, script.SpawnErr
	}
	f.nextPID++
	s := &FakeSession{
		spawner:    f,
		name:       spec.Name,
		pid:        f.nextPID,
		spec:       spec,
		transcript: NewTranscript(),
		done:       make(chan struct{}),
		replies:    append([]FakeReply(nil), script.Replies...),
		used:       make([]bool, len(script.Replies)),
	}
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()

	s.Emit(script.Output...)
	if script.Exit {
		s.Exit(script.ExitCode)
	}
	return s, nil
}

// Sessions returns every session spawned so far, in spawn order.
func (f *FakeSpawner) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// Session returns the most recent session of the named helper, or nil.
func (f *FakeSpawner) Session(name string) *FakeSession {
	s, _, ok := lo.FindLastIndexOf(f.Sessions(), func(s *FakeSession) bool { return s.name == name })
	if !ok {
		return nil
	}
	return s
}

// Specs returns every spec passed to Spawn.
func (f *FakeSpawner) Specs() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Spec(nil), f.specs...)
}

// TerminationOrder returns helper names in the order Terminate was first
// called on them.
func (f *FakeSpawner) TerminationOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

// Alive returns the sessions that were neither terminated nor exited.
func (f *FakeSpawner) Alive() []*FakeSession {
	return lo.Filter(f.Sessions(), func(s *FakeSession, _ int) bool {
		return !Exited(s)
	})
}

// FakeSession is a scripted helper.
type FakeSession struct {
	spawner    *FakeSpawner
	name       string
	pid        int
	spec       Spec
	transcript *Transcript
	done       chan struct{}

	mu         sync.Mutex
	replies    []FakeReply
	used       []bool
	inputs     []string
	pending    string
	exitCode   int
	exited     bool
	terminated int
}

func (s *FakeSession) Name() string            { return s.name }
func (s *FakeSession) PID() int                { return s.pid }
func (s *FakeSession) Spec() Spec              { return s.spec }
func (s *FakeSession) Transcript() *Transcript { return s.transcript }
func (s *FakeSession) Done() <-chan struct{}   { return s.done }

// Emit appends lines to the helper's output as if it printed them.
func (s *FakeSession) Emit(lines ...string) {
	for _, l := range lines {
		s.transcript.Append([]byte(l + "\n"))
	}
}

// Exit makes the helper exit with code. Exiting twice is a no-op.
func (s *FakeSession) Exit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLocked(code)
}

func (s *FakeSession) exitLocked(code int) {
	if s.exited {
		return
	}
	s.exited = true
	s.exitCode = code
	s.transcript.Close()
	close(s.done)
}

// Write records stdin and answers every complete line from the reply table.
func (s *FakeSession) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return ErrExited
	}

	data := s.pending + string(p)
	parts := strings.Split(data, "\n")
	s.pending = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		s.inputs = append(s.inputs, line)
		for i, r := range s.replies {
			if s.used[i] || !strings.HasPrefix(line, r.Match) {
				continue
			}
			if !r.Repeat {
				s.used[i] = true
			}
			s.Emit(r.Lines...)
			if r.Exit {
				s.exitLocked(r.ExitCode)
				return nil
			}
			break
		}
	}
	return nil
}

// Terminate implements Session.
func (s *FakeSession) Terminate() error {
	s.mu.Lock()
	s.terminated++
	first := s.terminated == 1
	s.exitLocked(-1)
	s.mu.Unlock()

	if first {
		s.spawner.mu.Lock()
		s.spawner.terminated = append(s.spawner.terminated, s.name)
		s.spawner.mu.Unlock()
	}
	return nil
}

// Wait implements Session.
func (s *FakeSession) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Inputs returns every line written to stdin.
func (s *FakeSession) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

// Terminated reports how many times Terminate was called.
func (s *FakeSession) Terminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
