package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/jitctl/internal/domain"
)

// EventWriter renders pipeline events in one output format
type EventWriter interface {
	WriteState(*domain.StateChange) error
	WriteTunnel(*domain.TunnelReady) error
	WriteDebugServer(*domain.DebugServerReady) error
	WriteProcess(*domain.ProcessResolved) error
	WriteResult(*domain.RunEnd) error
	WriteHelperDebug(*domain.HelperDebug) error
	WriteFailure(runID string, err *domain.Error) error
	WriteProcessList(device, query string, entries []domain.ProcessEntry) error
	WriteMount(device, outcome string) error
}

var (
	_ EventWriter = (*NDJSONWriter)(nil)
	_ EventWriter = (*TextWriter)(nil)
)

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type textStyles struct {
	step    lipgloss.Style
	detail  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	hint    lipgloss.Style
}

// TextWriter renders events for humans. Errors go to errOut.
type TextWriter struct {
	out    io.Writer
	errOut io.Writer
	styled bool
	styles textStyles
}

// NewTextWriter creates a text writer, styled when out is a terminal
func NewTextWriter(out, errOut io.Writer) *TextWriter {
	return newTextWriter(out, errOut, IsTerminal(out))
}

func newTextWriter(out, errOut io.Writer, styled bool) *TextWriter {
	r := lipgloss.NewRenderer(out)
	return &TextWriter{
		out:    out,
		errOut: errOut,
		styled: styled,
		styles: textStyles{
			step:    r.NewStyle().Bold(true),
			detail:  r.NewStyle().Faint(true),
			success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
			failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			hint:    r.NewStyle().Foreground(lipgloss.Color("3")),
		},
	}
}

func (w *TextWriter) paint(s lipgloss.Style, text string) string {
	if !w.styled {
		return text
	}
	return s.Render(text)
}

func (w *TextWriter) WriteState(e *domain.StateChange) error {
	// the result line covers terminal states
	if e.State.Terminal() {
		return nil
	}
	line := "→ " + w.paint(w.styles.step, e.State.Label())
	if e.Detail != "" {
		line += " " + w.paint(w.styles.detail, "("+e.Detail+")")
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

func (w *TextWriter) WriteTunnel(e *domain.TunnelReady) error {
	ep := domain.TunnelEndpoint{Address: e.Address, Port: e.Port}
	_, err := fmt.Fprintf(w.out, "  tunnel ready at %s\n", ep)
	return err
}

func (w *TextWriter) WriteDebugServer(e *domain.DebugServerReady) error {
	_, err := fmt.Fprintf(w.out, "  debug server listening on port %d\n", e.Port)
	return err
}

func (w *TextWriter) WriteProcess(e *domain.ProcessResolved) error {
	_, err := fmt.Fprintf(w.out, "  found %s (pid %d)\n", e.Name, e.PID)
	return err
}

func (w *TextWriter) WriteResult(e *domain.RunEnd) error {
	took := (time.Duration(e.Summary.DurationMS) * time.Millisecond).Round(100 * time.Millisecond)
	var line string
	if e.Success {
		line = w.paint(w.styles.success, "✓ JIT enabled") + fmt.Sprintf(" for pid %d in %s", e.Summary.PID, took)
	} else {
		line = w.paint(w.styles.failure, "✗ JIT enablement failed") + fmt.Sprintf(" after %s", took)
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

func (w *TextWriter) WriteHelperDebug(e *domain.HelperDebug) error {
	line := fmt.Sprintf("  [%s] %s pid %d", e.Helper, e.Action, e.PID)
	if e.ExitCode != nil {
		line += " exit " + strconv.Itoa(*e.ExitCode)
	}
	if e.LastLine != "" {
		line += ": " + e.LastLine
	}
	_, err := fmt.Fprintln(w.errOut, w.paint(w.styles.detail, line))
	return err
}

// WriteFailure prints the error, its hint and the helper output that led
// to it
func (w *TextWriter) WriteFailure(_ string, e *domain.Error) error {
	fmt.Fprintf(w.errOut, "%s %s\n", w.paint(w.styles.failure, "Error ["+string(e.Kind)+"]:"), e.Error())
	if hint := e.Hint(); hint != "" {
		fmt.Fprintf(w.errOut, "  %s %s\n", w.paint(w.styles.hint, "hint:"), hint)
	}
	tail := TranscriptTail(e.Transcript, transcriptTailLines)
	if len(tail) > 0 {
		fmt.Fprintln(w.errOut, "  helper output:")
	}
	for _, l := range tail {
		if _, err := fmt.Fprintln(w.errOut, "    "+w.paint(w.styles.detail, l)); err != nil {
			return err
		}
	}
	return nil
}

// WriteProcessList prints a PID/NAME table
func (w *TextWriter) WriteProcessList(device, query string, entries []domain.ProcessEntry) error {
	if len(entries) == 0 {
		msg := fmt.Sprintf("No processes on %s", device)
		if query != "" {
			msg = fmt.Sprintf("No process matching %q on %s", query, device)
		}
		_, err := fmt.Fprintln(w.out, msg)
		return err
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("PID", "NAME")
	for _, e := range entries {
		if err := table.Append([]string{strconv.Itoa(e.PID), e.Name}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (w *TextWriter) WriteMount(device, outcome string) error {
	msg := "developer disk image mounted"
	if outcome == "already_mounted" {
		msg = "developer disk image already mounted"
	}
	_, err := fmt.Fprintf(w.out, "%s %s on %s\n", w.paint(w.styles.success, "✓"), msg, device)
	return err
}
