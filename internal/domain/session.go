package domain

import "time"

// SchemaVersion is stamped on every emitted event.
const SchemaVersion = 1

// StateChange is emitted when a run moves to a new state
type StateChange struct {
	Type          string `json:"type"`               // "state"
	SchemaVersion int    `json:"schemaVersion"`      // 1
	RunID         string `json:"run_id"`             // Run identifier
	State         State  `json:"state"`              // New state
	Previous      State  `json:"previous,omitempty"` // State that was left
	ElapsedMS     int64  `json:"elapsed_ms"`         // Time spent in the previous state
	Detail        string `json:"detail,omitempty"`   // e.g. the tunnel endpoint
	Timestamp     string `json:"timestamp"`          // ISO8601 timestamp
	Device        string `json:"device,omitempty"`   // Device UDID
	Target        string `json:"target,omitempty"`   // Target process as given
}

// RunEnd is emitted once when a run completes or fails
type RunEnd struct {
	Type          string     `json:"type"`          // "result"
	SchemaVersion int        `json:"schemaVersion"` // 1
	RunID         string     `json:"run_id"`
	Success       bool       `json:"success"`
	FinalState    State      `json:"final_state"`
	Summary       RunSummary `json:"summary"`
}

// RunSummary contains statistics about a finished run
type RunSummary struct {
	DurationMS int64           `json:"duration_ms"`
	Steps      map[State]int64 `json:"steps_ms"`
	PID        int             `json:"pid,omitempty"`
	Tunnel     *TunnelEndpoint `json:"tunnel,omitempty"`
	DebugPort  int             `json:"debug_port,omitempty"`
}

// NewStateChange creates a new StateChange event
func NewStateChange(runID string, state, previous State, elapsed time.Duration, detail string) *StateChange {
	return &StateChange{
		Type:          "state",
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		State:         state,
		Previous:      previous,
		ElapsedMS:     elapsed.Milliseconds(),
		Detail:        detail,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// NewRunEnd creates a new RunEnd event
func NewRunEnd(runID string, final State, summary RunSummary) *RunEnd {
	return &RunEnd{
		Type:          "result",
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Success:       final == StateCompleted,
		FinalState:    final,
		Summary:       summary,
	}
}

// TunnelReady is emitted once the tunnel endpoint is known
type TunnelReady struct {
	Type          string `json:"type"`          // "tunnel"
	SchemaVersion int    `json:"schemaVersion"` // 1
	RunID         string `json:"run_id,omitempty"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
}

// DebugServerReady is emitted once the debug server is listening
type DebugServerReady struct {
	Type          string `json:"type"`          // "debug_server"
	SchemaVersion int    `json:"schemaVersion"` // 1
	RunID         string `json:"run_id,omitempty"`
	Port          int    `json:"port"`
	URL           string `json:"url"`
}

// ProcessResolved is emitted when a process name was resolved to a PID
type ProcessResolved struct {
	Type          string `json:"type"`          // "process"
	SchemaVersion int    `json:"schemaVersion"` // 1
	RunID         string `json:"run_id,omitempty"`
	PID           int    `json:"pid"`
	Name          string `json:"name"`
}

// NewTunnelReady creates a new TunnelReady event
func NewTunnelReady(runID string, ep TunnelEndpoint) *TunnelReady {
	return &TunnelReady{Type: "tunnel", SchemaVersion: SchemaVersion, RunID: runID, Address: ep.Address, Port: ep.Port}
}

// NewDebugServerReady creates a new DebugServerReady event
func NewDebugServerReady(runID string, ep DebugEndpoint) *DebugServerReady {
	return &DebugServerReady{Type: "debug_server", SchemaVersion: SchemaVersion, RunID: runID, Port: ep.Port, URL: ep.ConnectURL()}
}

// NewProcessResolved creates a new ProcessResolved event
func NewProcessResolved(runID string, pid int, name string) *ProcessResolved {
	return &ProcessResolved{Type: "process", SchemaVersion: SchemaVersion, RunID: runID, PID: pid, Name: name}
}
