package subprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/vburojevic/jitctl/internal/domain"
)

const (
	readChunkSize = 4096
	// terminateGrace bounds how long Terminate waits for the killed helper
	// and its output reader; SIGKILL makes this near-instant in practice.
	terminateGrace = 2 * time.Second
	// pollSlice is the longest a single poll(2) call blocks while waiting for
	// stdin to become writable, so ctx is re-checked regularly.
	pollSlice = 50 * time.Millisecond
)

// ExecSpawner starts real helper processes.
type ExecSpawner struct {
	Log  *zap.Logger
	Sink LineSink
	// Env is appended to every helper's environment, after Spec.Env.
	Env []string
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	sink := s.Sink
	if sink == nil {
		sink = NopSink{}
	}

	env := append(append(os.Environ(), spec.Env...), s.Env...)
	path, err := lookPath(spec.Path, env)
	if err != nil {
		return nil, &domain.Error{
			Kind:   domain.KindDependencyMissing,
			Detail: fmt.Sprintf("%s helper %q not found", spec.Name, spec.Path),
			Err:    err,
		}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = env

	sess := &execSession{
		name:       spec.Name,
		cmd:        cmd,
		transcript: NewTranscript(),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		log:        log.With(zap.String("helper", spec.Name)),
		sink:       sink,
	}

	if spec.PTY {
		ptmx, err := startPTY(cmd)
		if err != nil {
			return nil, fmt.Errorf("start %s helper: %w", spec.Name, err)
		}
		sess.stdin, sess.output = ptmx, ptmx
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		outR, outW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			return nil, err
		}
		cmd.Stdin = stdinR
		cmd.Stdout = outW
		cmd.Stderr = outW
		if err := cmd.Start(); err != nil {
			lo.ForEach([]*os.File{stdinR, stdinW, outR, outW}, func(f *os.File, _ int) { f.Close() })
			return nil, fmt.Errorf("start %s helper: %w", spec.Name, err)
		}
		// the child holds its own copies now
		stdinR.Close()
		outW.Close()
		sess.stdin, sess.output = stdinW, outR
	}

	sess.pid = cmd.Process.Pid
	sess.log = sess.log.With(zap.Int("pid", sess.pid))
	sess.log.Debug("spawned helper", zap.String("command", spec.String()))

	go sess.readOutput()
	go sess.wait()
	return sess, nil
}

// lookPath resolves a bare helper name against the PATH the helper will
// actually run with, which may differ from ours when an override is set.
func lookPath(file string, env []string) (string, error) {
	if strings.Contains(file, string(filepath.Separator)) {
		return exec.LookPath(file)
	}
	pathEnv := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			pathEnv = v
		}
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		if p, err := exec.LookPath(filepath.Join(dir, file)); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", file, exec.ErrNotFound)
}

type execSession struct {
	name       string
	pid        int
	cmd        *exec.Cmd
	stdin      *os.File
	output     *os.File
	transcript *Transcript
	log        *zap.Logger
	sink       LineSink

	done       chan struct{}
	readerDone chan struct{}
	exitCode   int
	waitErr    error

	writeMu  sync.Mutex
	termOnce sync.Once
	termErr  error
}

func (s *execSession) Name() string            { return s.name }
func (s *execSession) PID() int                { return s.pid }
func (s *execSession) Transcript() *Transcript { return s.transcript }
func (s *execSession) Done() <-chan struct{}   { return s.done }

func (s *execSession) readOutput() {
	defer close(s.readerDone)
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.output.Read(buf)
		if n > 0 {
			for _, line := range s.transcript.Append(buf[:n]) {
				s.sink.Line(s.name, s.pid, line)
			}
		}
		if err != nil {
			// EOF for pipes, EIO for a pty whose child went away
			break
		}
	}
	for _, line := range s.transcript.Close() {
		s.sink.Line(s.name, s.pid, line)
	}
}

func (s *execSession) wait() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
			s.waitErr = err
		}
	}
	s.exitCode = code
	s.log.Debug("helper exited", zap.Int("exit_code", code))
	close(s.done)
}

func (s *execSession) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.done:
		return s.exitCode, s.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (s *execSession) Write(ctx context.Context, p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if Exited(s) {
		return ErrExited
	}
	if err := waitWritable(ctx, s.stdin); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		// unblocks a write stuck on a full pipe
		_ = s.stdin.SetWriteDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		_ = s.stdin.SetWriteDeadline(time.Time{})
	}()

	if _, err := s.stdin.Write(p); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return ErrExited
		}
		return fmt.Errorf("write to %s helper: %w", s.name, err)
	}
	return nil
}

// waitWritable polls fd for POLLOUT in short slices until it is writable or
// ctx ends.
func waitWritable(ctx context.Context, f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	for {
		var ready bool
		var pollErr error
		ctrlErr := rc.Control(func(fd uintptr) {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			n, err := unix.Poll(fds, int(pollSlice/time.Millisecond))
			if err != nil {
				if err != unix.EINTR {
					pollErr = err
				}
				return
			}
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				pollErr = ErrExited
				return
			}
			ready = n > 0 && fds[0].Revents&unix.POLLOUT != 0
		})
		if ctrlErr != nil {
			return ctrlErr
		}
		if pollErr != nil {
			return pollErr
		}
		if ready {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *execSession) Terminate() error {
	s.termOnce.Do(func() {
		exited := Exited(s)
		if !exited {
			s.log.Debug("terminating helper")
		}
		// the helper may have forked (python entry points do), so the whole
		// process group goes, even when the leader already exited
		if err := unix.Kill(-s.pid, unix.SIGKILL); err != nil && err != unix.ESRCH && !exited {
			if kerr := s.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				s.termErr = fmt.Errorf("kill %s helper: %w", s.name, kerr)
			}
		}

		select {
		case <-s.done:
		case <-time.After(terminateGrace):
			s.log.Warn("helper did not exit after kill")
		}

		// closing the read side unblocks the reader if a grandchild still
		// holds the write side open
		closers := lo.Uniq([]*os.File{s.stdin, s.output})
		select {
		case <-s.readerDone:
		case <-time.After(terminateGrace):
		}
		for _, f := range closers {
			if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.termErr == nil {
				s.termErr = err
			}
		}
		select {
		case <-s.readerDone:
		case <-time.After(terminateGrace):
			s.log.Warn("helper output reader did not stop")
		}
	})
	return s.termErr
}
