package output

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/vburojevic/jitctl/internal/domain"
)

// SchemaVersion is the version of every NDJSON record
const SchemaVersion = domain.SchemaVersion

// transcriptTailLines bounds the transcript carried by an error record
const transcriptTailLines = 5

// ErrorOutput is the NDJSON error record
type ErrorOutput struct {
	Type          string   `json:"type"`
	SchemaVersion int      `json:"schemaVersion"`
	RunID         string   `json:"run_id,omitempty"`
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	Hint          string   `json:"hint,omitempty"`
	ExitCode      *int     `json:"exit_code,omitempty"`
	LastLine      string   `json:"last_line,omitempty"`
	Transcript    []string `json:"transcript,omitempty"`
}

// ProcessList is the NDJSON record of "jitctl ps"
type ProcessList struct {
	Type          string                `json:"type"`
	SchemaVersion int                   `json:"schemaVersion"`
	Device        string                `json:"device"`
	Query         string                `json:"query,omitempty"`
	Processes     []domain.ProcessEntry `json:"processes"`
}

// MountResult is the NDJSON record of "jitctl mount"
type MountResult struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Device        string `json:"device"`
	Outcome       string `json:"outcome"`
}

// NDJSONWriter writes one JSON object per line. It is safe for concurrent
// use.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a writer on w
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

// Write encodes v as one line
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func (w *NDJSONWriter) WriteState(e *domain.StateChange) error            { return w.Write(e) }
func (w *NDJSONWriter) WriteTunnel(e *domain.TunnelReady) error           { return w.Write(e) }
func (w *NDJSONWriter) WriteDebugServer(e *domain.DebugServerReady) error { return w.Write(e) }
func (w *NDJSONWriter) WriteProcess(e *domain.ProcessResolved) error      { return w.Write(e) }
func (w *NDJSONWriter) WriteResult(e *domain.RunEnd) error                { return w.Write(e) }
func (w *NDJSONWriter) WriteHelperDebug(e *domain.HelperDebug) error      { return w.Write(e) }

// WriteError writes an error record with a machine code and optional hint
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		out.Hint = hint[0]
	}
	return w.Write(out)
}

// WriteFailure writes the error record of a pipeline failure, including the
// tail of the failing helper's transcript
func (w *NDJSONWriter) WriteFailure(runID string, err *domain.Error) error {
	return w.Write(NewErrorOutput(runID, err))
}

// WriteProcessList writes the result of a process lookup
func (w *NDJSONWriter) WriteProcessList(device, query string, entries []domain.ProcessEntry) error {
	if entries == nil {
		entries = []domain.ProcessEntry{}
	}
	return w.Write(&ProcessList{
		Type:          "processes",
		SchemaVersion: SchemaVersion,
		Device:        device,
		Query:         query,
		Processes:     entries,
	})
}

// WriteMount writes the outcome of a support image step
func (w *NDJSONWriter) WriteMount(device, outcome string) error {
	return w.Write(&MountResult{
		Type:          "mount",
		SchemaVersion: SchemaVersion,
		Device:        device,
		Outcome:       outcome,
	})
}

// NewErrorOutput converts a pipeline error into its NDJSON record
func NewErrorOutput(runID string, err *domain.Error) *ErrorOutput {
	out := &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Code:          string(err.Kind),
		Message:       err.Error(),
		Hint:          err.Hint(),
		Transcript:    TranscriptTail(err.Transcript, transcriptTailLines),
	}
	if err.Kind == domain.KindProcessFailure || err.Kind == domain.KindProcessTimeout {
		code := err.ExitCode
		out.ExitCode = &code
	}
	if n := len(out.Transcript); n > 0 {
		out.LastLine = out.Transcript[n-1]
	}
	return out
}

// TranscriptTail returns the last n non-empty lines of a transcript
func TranscriptTail(transcript string, n int) []string {
	var lines []string
	for _, l := range strings.Split(transcript, "\n") {
		if l = strings.TrimRight(l, "\r \t"); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
