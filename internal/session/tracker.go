package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/vburojevic/jitctl/internal/domain"
)

// order is the linear progression of a run. Steps may be skipped but never
// revisited.
var order = []domain.State{
	domain.StateIdle,
	domain.StatePreparingSupportImage,
	domain.StateEstablishingTunnel,
	domain.StateStartingDebugServer,
	domain.StateResolvingProcess,
	domain.StateAttaching,
	domain.StateAttached,
	domain.StateDetaching,
	domain.StateCompleted,
}

func rank(s domain.State) int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return -1
}

// Tracker records the state transitions of one orchestration run and the
// time spent in each state
type Tracker struct {
	mu        sync.Mutex
	clock     clock.Clock
	runID     string
	device    string
	target    string
	state     domain.State
	startedAt time.Time
	enteredAt time.Time
	steps     map[domain.State]int64
	history   []*domain.StateChange

	pid       int
	tunnel    *domain.TunnelEndpoint
	debugPort int
}

// NewTracker creates a tracker for a run against device and target, in the
// idle state
func NewTracker(clk clock.Clock, device, target string) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &Tracker{
		clock:     clk,
		runID:     uuid.NewString(),
		device:    device,
		target:    target,
		state:     domain.StateIdle,
		startedAt: now,
		enteredAt: now,
		steps:     make(map[domain.State]int64),
	}
}

// RunID returns the identifier stamped on every event of the run
func (t *Tracker) RunID() string { return t.runID }

// State returns the current state
func (t *Tracker) State() domain.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the run to next and returns the event describing the
// change. Failed is reachable from every non-terminal state; every other
// state must come later in the run than the current one.
func (t *Tracker) Transition(next domain.State, detail string) (*domain.StateChange, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return nil, fmt.Errorf("run %s already %s", t.runID, t.state)
	}
	if next != domain.StateFailed && rank(next) <= rank(t.state) {
		return nil, fmt.Errorf("invalid transition %s -> %s", t.state, next)
	}

	now := t.clock.Now()
	elapsed := now.Sub(t.enteredAt)
	t.steps[t.state] += elapsed.Milliseconds()

	change := domain.NewStateChange(t.runID, next, t.state, elapsed, detail)
	change.Timestamp = now.UTC().Format(time.RFC3339)
	change.Device = t.device
	change.Target = t.target

	t.state = next
	t.enteredAt = now
	t.history = append(t.history, change)
	return change, nil
}

// RecordTunnel stores the tunnel endpoint for the summary
func (t *Tracker) RecordTunnel(ep domain.TunnelEndpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tunnel = &ep
}

// RecordDebugPort stores the debug server port for the summary
func (t *Tracker) RecordDebugPort(port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debugPort = port
}

// RecordPID stores the target PID for the summary
func (t *Tracker) RecordPID(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
}

// History returns every transition so far
func (t *Tracker) History() []*domain.StateChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.StateChange(nil), t.history...)
}

// Summary returns statistics for the run so far
func (t *Tracker) Summary() domain.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	steps := make(map[domain.State]int64, len(t.steps))
	for s, ms := range t.steps {
		if s == domain.StateIdle {
			continue
		}
		steps[s] = ms
	}
	return domain.RunSummary{
		DurationMS: t.clock.Now().Sub(t.startedAt).Milliseconds(),
		Steps:      steps,
		PID:        t.pid,
		Tunnel:     t.tunnel,
		DebugPort:  t.debugPort,
	}
}

// Finish returns the result event for the run's current state
func (t *Tracker) Finish() *domain.RunEnd {
	return domain.NewRunEnd(t.runID, t.State(), t.Summary())
}
