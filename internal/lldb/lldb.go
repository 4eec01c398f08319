// Package lldb drives an interactive debugger helper over its stdin with a
// scripted command/response protocol.
//
// The debugger reports exit status 0 whether or not a command worked, so
// every outcome is decided by the markers in the command's response text.
package lldb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/race"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// HelperName labels the debugger helper.
const HelperName = "debugger"

const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultAttachTimeout  = 30 * time.Second
	DefaultPollInterval   = 200 * time.Millisecond
)

// Debugger commands, in the order a run issues them.
const (
	CmdPlatformSelect = "platform select remote-ios"
	CmdConnect        = "process connect"
	CmdMinimalLoad    = "settings set target.memory-module-load-level minimal"
	CmdAttach         = "process attach --pid"
	CmdContinue       = "process continue"
	CmdDetach         = "process detach"
)

var platformRe = regexp.MustCompile(regexp.QuoteMeta(extract.PlatformSelectedMarker) + "|" + regexp.QuoteMeta(extract.SDKMissingMarker))

// Launcher starts debugger sessions.
type Launcher struct {
	Spawner subprocess.Spawner
	Helper  subprocess.Spec
	// CommandTimeout bounds each command except the attach itself.
	CommandTimeout time.Duration
	AttachTimeout  time.Duration
	PollInterval   time.Duration
	Clock          clock.Clock
	Log            *zap.Logger
}

// Start spawns the debugger helper.
func (l *Launcher) Start(ctx context.Context) (*Session, error) {
	spec := l.Helper
	spec.Name = HelperName
	sess, err := l.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, subprocess.StepError(nil, 0, err)
	}

	s := &Session{
		sess:           sess,
		clock:          l.Clock,
		log:            l.Log,
		commandTimeout: l.CommandTimeout,
		attachTimeout:  l.AttachTimeout,
		poll:           l.PollInterval,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.commandTimeout <= 0 {
		s.commandTimeout = DefaultCommandTimeout
	}
	if s.attachTimeout <= 0 {
		s.attachTimeout = DefaultAttachTimeout
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	s.log = s.log.With(zap.String("helper", HelperName), zap.Int("pid", sess.PID()))
	return s, nil
}

// Session is a running debugger.
type Session struct {
	sess           subprocess.Session
	clock          clock.Clock
	log            *zap.Logger
	commandTimeout time.Duration
	attachTimeout  time.Duration
	poll           time.Duration

	// cmdMu serialises commands: one is fully resolved before the next is
	// written.
	cmdMu sync.Mutex

	pid      atomic.Int64
	attached atomic.Bool
}

// Helper returns the underlying helper process.
func (s *Session) Helper() subprocess.Session { return s.sess }

// Attached reports whether an attach succeeded.
func (s *Session) Attached() bool { return s.attached.Load() }

// Close terminates the debugger helper.
func (s *Session) Close() error { return s.sess.Terminate() }

// SendCommand writes one command and returns the output it produced.
//
// The write waits until stdin accepts input. After at least one new output
// line appears, the transcript is polled until it stops changing between two
// polls and, if expect is set, matches expect. Only output produced after
// the command was written is returned. The whole exchange is bounded by
// timeout.
func (s *Session) SendCommand(ctx context.Context, text string, timeout time.Duration, expect *regexp.Regexp) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	tr := s.sess.Transcript()
	out, err := race.WithDeadline(ctx, s.clock, timeout, func(ctx context.Context) (string, error) {
		offset, lines := tr.Len(), tr.LineCount()

		if err := s.sess.Write(ctx, []byte(text+"\n")); err != nil {
			if errors.Is(err, subprocess.ErrExited) {
				return "", s.exitedError()
			}
			return "", err
		}
		if err := tr.WaitLines(ctx, lines+1); err != nil {
			if errors.Is(err, io.EOF) {
				return "", s.exitedError()
			}
			return "", err
		}

		ticker := s.clock.Ticker(s.poll)
		defer ticker.Stop()
		prev := tr.Len()
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			cur := tr.Len()
			if cur == prev {
				out := tr.Since(offset)
				if expect == nil || expect.MatchString(out) {
					return out, nil
				}
			}
			prev = cur
		}
	})
	if err != nil {
		s.log.Debug("debugger command failed", zap.String("command", text), zap.Error(err))
		return "", subprocess.StepError(s.sess, timeout, err)
	}
	s.log.Debug("debugger command done", zap.String("command", text), zap.Int("bytes", len(out)))
	return out, nil
}

// Attach connects the debugger to the debug server and attaches to pid,
// which enables JIT for that process.
func (s *Session) Attach(ctx context.Context, ep domain.DebugEndpoint, pid int) error {
	_, err := race.FirstOf(ctx,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, s.attach(ctx, ep, pid) },
		race.Watch[struct{}](s.sess.Done(), s.exitedError),
	)
	return err
}

func (s *Session) attach(ctx context.Context, ep domain.DebugEndpoint, pid int) error {
	out, err := s.SendCommand(ctx, CmdPlatformSelect, s.commandTimeout, platformRe)
	if err != nil {
		return err
	}
	if strings.Contains(out, extract.SDKMissingMarker) {
		s.log.Warn("debugger has no SDK for the remote platform, continuing")
	}

	out, err = s.SendCommand(ctx, CmdConnect+" "+ep.ConnectURL(), s.commandTimeout, nil)
	if err != nil {
		return err
	}
	if line, ok := markerLine(out, extract.ErrorMarker); ok {
		return &domain.Error{Kind: domain.KindUnexpectedOutput, Detail: line, Transcript: s.sess.Transcript().String()}
	}

	if _, err := s.SendCommand(ctx, CmdMinimalLoad, s.commandTimeout, nil); err != nil {
		return err
	}

	attachRe := regexp.MustCompile(regexp.QuoteMeta(extract.AttachFailedMarker) + "|" + regexp.QuoteMeta(extract.ProcessStopped(pid)))
	out, err = s.SendCommand(ctx, fmt.Sprintf("%s %d", CmdAttach, pid), s.attachTimeout, attachRe)
	if err != nil {
		return err
	}
	if line, ok := markerLine(out, extract.AttachFailedMarker); ok {
		return &domain.Error{Kind: domain.KindAttachFailure, Detail: line, Transcript: s.sess.Transcript().String()}
	}

	s.pid.Store(int64(pid))
	s.attached.Store(true)
	s.log.Info("attached", zap.Int("target_pid", pid))
	return nil
}

// Detach resumes the attached process and detaches from it.
func (s *Session) Detach(ctx context.Context) error {
	if !s.attached.Load() {
		return &domain.Error{Kind: domain.KindProcessNotRunning, Detail: "debugger is not attached"}
	}
	_, err := race.FirstOf(ctx,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, s.detach(ctx) },
		race.Watch[struct{}](s.sess.Done(), s.exitedError),
	)
	return err
}

func (s *Session) detach(ctx context.Context) error {
	pid := int(s.pid.Load())
	resuming := regexp.MustCompile(regexp.QuoteMeta(extract.ProcessResuming(pid)))
	if _, err := s.SendCommand(ctx, CmdContinue, s.commandTimeout, resuming); err != nil {
		return err
	}
	detached := regexp.MustCompile(regexp.QuoteMeta(extract.ProcessDetached(pid)))
	if _, err := s.SendCommand(ctx, CmdDetach, s.commandTimeout, detached); err != nil {
		return err
	}
	s.log.Info("detached", zap.Int("target_pid", pid))
	return nil
}

func (s *Session) exitedError() error {
	return &domain.Error{
		Kind:       domain.KindProcessFailure,
		Detail:     "debugger exited: " + s.sess.Transcript().LastLine(),
		ExitCode:   subprocess.ExitCode(s.sess),
		Transcript: s.sess.Transcript().String(),
	}
}

// markerLine returns the first line of out containing marker.
func markerLine(out, marker string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}
