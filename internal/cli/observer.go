package cli

import (
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/jit"
	"github.com/vburojevic/jitctl/internal/output"
)

// eventObserver writes run events as they happen. Quiet drops progress
// events; helper lifecycle events are only written when verbose.
type eventObserver struct {
	w       output.EventWriter
	quiet   bool
	verbose bool
	log     *zap.Logger
}

var _ jit.Observer = (*eventObserver)(nil)

func newEventObserver(globals *Globals, w output.EventWriter) *eventObserver {
	return &eventObserver{w: w, quiet: globals.Quiet, verbose: globals.Verbose, log: globals.Logger()}
}

func (o *eventObserver) write(kind string, err error) {
	if err != nil {
		o.log.Warn("write event", zap.String("type", kind), zap.Error(err))
	}
}

func (o *eventObserver) StateChanged(e *domain.StateChange) {
	if o.quiet {
		return
	}
	o.write("state", o.w.WriteState(e))
}

func (o *eventObserver) TunnelReady(e *domain.TunnelReady) {
	if o.quiet {
		return
	}
	o.write("tunnel", o.w.WriteTunnel(e))
}

func (o *eventObserver) DebugServerReady(e *domain.DebugServerReady) {
	if o.quiet {
		return
	}
	o.write("debug_server", o.w.WriteDebugServer(e))
}

func (o *eventObserver) ProcessResolved(e *domain.ProcessResolved) {
	if o.quiet {
		return
	}
	o.write("process", o.w.WriteProcess(e))
}

func (o *eventObserver) HelperChanged(e *domain.HelperDebug) {
	if !o.verbose || o.quiet {
		return
	}
	o.write("helper_debug", o.w.WriteHelperDebug(e))
}
