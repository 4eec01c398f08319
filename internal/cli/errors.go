package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/output"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// outputFailure emits a pipeline error with its kind as the code and the
// tail of the failing helper's output, then returns it unchanged.
func outputFailure(globals *Globals, w output.EventWriter, runID string, err error) error {
	if err == nil {
		return nil
	}
	derr := domain.Classify(err)
	if werr := w.WriteFailure(runID, derr); werr != nil {
		globals.Logger().Warn("write error event", zap.Error(werr))
	}
	return err
}
