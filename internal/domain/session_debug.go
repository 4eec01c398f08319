package domain

// HelperDebug is an optional verbose event describing a helper lifecycle step.
type HelperDebug struct {
	Type          string `json:"type"` // helper_debug
	SchemaVersion int    `json:"schemaVersion"`
	RunID         string `json:"run_id,omitempty"`
	Helper        string `json:"helper"`
	PID           int    `json:"pid,omitempty"`
	Action        string `json:"action"` // spawn, terminate
	ExitCode      *int   `json:"exit_code,omitempty"`
	LastLine      string `json:"last_line,omitempty"`
}
