// Package jit runs the JIT enablement pipeline: support image, tunnel, debug
// server, optional PID resolution, then debugger attach and detach.
package jit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/debugserver"
	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/lldb"
	"github.com/vburojevic/jitctl/internal/mount"
	"github.com/vburojevic/jitctl/internal/procs"
	"github.com/vburojevic/jitctl/internal/session"
	"github.com/vburojevic/jitctl/internal/subprocess"
	"github.com/vburojevic/jitctl/internal/tunnel"
)

// DefaultDetachTimeout bounds the best-effort detach during teardown.
const DefaultDetachTimeout = 10 * time.Second

// Helpers are the invocation templates of every external helper.
type Helpers struct {
	Tunnel      subprocess.Spec
	DebugServer subprocess.Spec
	Processes   subprocess.Spec
	Mounter     subprocess.Spec
	// Info is optional; an empty Path skips the device version probe.
	Info     subprocess.Spec
	Debugger subprocess.Spec
}

// Timeouts bound each step. Zero values use the component defaults.
type Timeouts struct {
	Tunnel      time.Duration
	DebugServer time.Duration
	Resolve     time.Duration
	Mount       time.Duration
	Info        time.Duration
	Command     time.Duration
	Attach      time.Duration
	Detach      time.Duration
}

// Request is one JIT enablement run.
type Request struct {
	DeviceID string
	Target   domain.TargetProcess
	// EnvOverride is installed as PATH for every helper when set. It is
	// passed through unmodified.
	EnvOverride string
}

// Orchestrator runs requests. It holds no per-run state and may run
// several requests concurrently.
type Orchestrator struct {
	Spawner      subprocess.Spawner
	Helpers      Helpers
	Timeouts     Timeouts
	PollInterval time.Duration
	SkipMount    bool
	Clock        clock.Clock
	Log          *zap.Logger
	Observer     Observer
}

// closer is a pipeline resource torn down when a run ends.
type closer struct {
	name    string
	session subprocess.Session
	close   func() error
}

type run struct {
	o       *Orchestrator
	req     Request
	log     *zap.Logger
	obs     Observer
	tracker *session.Tracker
	spawner subprocess.Spawner
	closers []closer
}

// Run executes the pipeline for req. Whatever the outcome, every helper it
// started has been terminated when Run returns. The returned result is
// never nil; the error is nil on success and a *domain.Error otherwise.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.RunEnd, error) {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	obs := o.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	tracker := session.NewTracker(o.Clock, req.DeviceID, req.Target.String())
	r := &run{
		o:       o,
		req:     req,
		log:     log.With(zap.String("run_id", tracker.RunID()), zap.String("device", req.DeviceID)),
		obs:     obs,
		tracker: tracker,
	}
	r.spawner = &runSpawner{
		Spawner: o.Spawner,
		path:    req.EnvOverride,
		onSpawn: r.helperSpawned,
	}

	err := r.execute(ctx)
	if err != nil {
		r.enter(domain.StateFailed, err.Error())
	} else {
		r.enter(domain.StateCompleted, "")
	}
	r.teardown()

	end := tracker.Finish()
	if err != nil {
		r.log.Info("jit enablement failed", zap.Error(err))
		return end, err
	}
	r.log.Info("jit enabled", zap.Int("target_pid", end.Summary.PID), zap.Int64("duration_ms", end.Summary.DurationMS))
	return end, nil
}

func (r *run) execute(ctx context.Context) error {
	o, req := r.o, r.req

	if !o.SkipMount {
		r.enter(domain.StatePreparingSupportImage, "")
		prep := &mount.Preparer{
			Spawner:     r.spawner,
			Mounter:     o.Helpers.Mounter,
			Info:        o.Helpers.Info,
			Timeout:     o.Timeouts.Mount,
			InfoTimeout: o.Timeouts.Info,
			Clock:       o.Clock,
			Log:         r.log,
		}
		if _, err := prep.Prepare(ctx, req.DeviceID); err != nil {
			return domain.Annotate(err, "could not prepare device %s", req.DeviceID)
		}
	}

	r.enter(domain.StateEstablishingTunnel, "")
	est := &tunnel.Establisher{
		Spawner: r.spawner,
		Helper:  o.Helpers.Tunnel,
		Timeout: o.Timeouts.Tunnel,
		Clock:   o.Clock,
		Log:     r.log,
	}
	tun, err := est.Start(ctx, req.DeviceID)
	if err != nil {
		return domain.Annotate(err, "could not connect to device %s", req.DeviceID)
	}
	r.track(tunnel.HelperName, tun.Session(), tun.Close)
	r.tracker.RecordTunnel(tun.Endpoint)
	r.obs.TunnelReady(domain.NewTunnelReady(r.tracker.RunID(), tun.Endpoint))

	r.enter(domain.StateStartingDebugServer, tun.Endpoint.String())
	launcher := &debugserver.Launcher{
		Spawner: r.spawner,
		Helper:  o.Helpers.DebugServer,
		Timeout: o.Timeouts.DebugServer,
		Clock:   o.Clock,
		Log:     r.log,
	}
	srv, err := launcher.Start(ctx, tun.Endpoint)
	if err != nil {
		return domain.Annotate(err, "could not start debug server on device %s", req.DeviceID)
	}
	r.track(debugserver.HelperName, srv.Session(), srv.Close)
	r.tracker.RecordDebugPort(srv.Endpoint.Port)
	r.obs.DebugServerReady(domain.NewDebugServerReady(r.tracker.RunID(), srv.Endpoint))

	pid := req.Target.PID
	if !req.Target.ByPID() {
		r.enter(domain.StateResolvingProcess, req.Target.Name)
		resolver := &procs.Resolver{
			Spawner: r.spawner,
			Helper:  o.Helpers.Processes,
			Timeout: o.Timeouts.Resolve,
			Clock:   o.Clock,
			Log:     r.log,
		}
		found, ok, err := resolver.Resolve(ctx, req.Target.Name, req.DeviceID)
		if err != nil {
			return domain.Annotate(err, "could not list processes on device %s", req.DeviceID)
		}
		if !ok {
			return domain.Annotate(
				domain.NewError(domain.KindProcessNotRunning, fmt.Sprintf("no process named %q", req.Target.Name)),
				"could not find %s", req.Target.Name)
		}
		pid = found
		r.obs.ProcessResolved(domain.NewProcessResolved(r.tracker.RunID(), pid, req.Target.Name))
	}
	r.tracker.RecordPID(pid)

	r.enter(domain.StateAttaching, fmt.Sprintf("pid %d", pid))
	dbg := &lldb.Launcher{
		Spawner:        r.spawner,
		Helper:         o.Helpers.Debugger,
		CommandTimeout: o.Timeouts.Command,
		AttachTimeout:  o.Timeouts.Attach,
		PollInterval:   o.PollInterval,
		Clock:          o.Clock,
		Log:            r.log,
	}
	debugger, err := dbg.Start(ctx)
	if err != nil {
		return domain.Annotate(err, "could not start debugger")
	}
	r.track(lldb.HelperName, debugger.Helper(), debugger.Close)

	if err := debugger.Attach(ctx, srv.Endpoint, pid); err != nil {
		return domain.Annotate(err, "could not attach to %s", req.Target)
	}
	r.enter(domain.StateAttached, fmt.Sprintf("pid %d", pid))

	// once attached the device must be left clean, so a cancelled caller
	// does not stop the detach
	r.enter(domain.StateDetaching, "")
	dctx, cancel := r.detachContext(ctx)
	defer cancel()
	if err := debugger.Detach(dctx); err != nil {
		return domain.Annotate(err, "could not detach from %s", req.Target)
	}
	return nil
}

// teardown closes every resource in reverse creation order. Errors are
// logged, never returned.
func (r *run) teardown() {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
		r.helperClosed(c.session)
	}
	r.closers = nil

	for _, err := range multierr.Errors(errs) {
		r.log.Warn("teardown", zap.Error(err))
	}
}

func (r *run) detachContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.o.Timeouts.Detach
	if timeout <= 0 {
		timeout = DefaultDetachTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (r *run) track(name string, s subprocess.Session, close func() error) {
	r.closers = append(r.closers, closer{name: name, session: s, close: close})
}

func (r *run) enter(state domain.State, detail string) {
	change, err := r.tracker.Transition(state, detail)
	if err != nil {
		r.log.Error("state transition rejected", zap.Error(err))
		return
	}
	r.log.Debug("state", zap.String("state", string(state)), zap.String("previous", string(change.Previous)), zap.Int64("elapsed_ms", change.ElapsedMS))
	r.obs.StateChanged(change)
}

func (r *run) helperSpawned(s subprocess.Session) {
	r.obs.HelperChanged(&domain.HelperDebug{
		Type:          "helper_debug",
		SchemaVersion: domain.SchemaVersion,
		RunID:         r.tracker.RunID(),
		Helper:        s.Name(),
		PID:           s.PID(),
		Action:        "spawn",
	})
}

func (r *run) helperClosed(s subprocess.Session) {
	code := subprocess.ExitCode(s)
	r.obs.HelperChanged(&domain.HelperDebug{
		Type:          "helper_debug",
		SchemaVersion: domain.SchemaVersion,
		RunID:         r.tracker.RunID(),
		Helper:        s.Name(),
		PID:           s.PID(),
		Action:        "terminate",
		ExitCode:      &code,
		LastLine:      s.Transcript().LastLine(),
	})
}

// runSpawner installs the run's PATH override on every helper and reports
// each spawn.
type runSpawner struct {
	subprocess.Spawner
	path    string
	onSpawn func(subprocess.Session)
}

func (s *runSpawner) Spawn(ctx context.Context, spec subprocess.Spec) (subprocess.Session, error) {
	if s.path != "" {
		spec.Env = append(append([]string(nil), spec.Env...), "PATH="+s.path)
	}
	sess, err := s.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	if s.onSpawn != nil {
		s.onSpawn(sess)
	}
	return sess, nil
}
