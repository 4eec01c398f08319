package subprocess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/race"
)

// Expand returns a copy of s with {key} placeholders in Args replaced by
// vars. Unknown placeholders are left as they are.
func (s Spec) Expand(vars map[string]string) Spec {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := s
	out.Args = make([]string, len(s.Args))
	for i, a := range s.Args {
		out.Args[i] = r.Replace(a)
	}
	out.Env = append([]string(nil), s.Env...)
	return out
}

// drainGrace bounds how long Finish waits for the output reader after exit;
// a grandchild holding the pipe open must not stall a finished step.
const drainGrace = time.Second

// Finish waits for s to exit and returns its exit code and complete output.
func Finish(ctx context.Context, s Session) (int, string, error) {
	code, err := s.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		return -1, "", ctx.Err()
	}
	dctx, cancel := context.WithTimeout(ctx, drainGrace)
	defer cancel()
	_ = s.Transcript().WaitClosed(dctx)
	return code, s.Transcript().String(), nil
}

// StepError converts the error of a bounded helper step into a pipeline
// error that carries the helper's transcript. ErrDeadline becomes
// ProcessTimeout and context errors become Cancelled.
func StepError(s Session, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var transcript string
	if s != nil {
		transcript = s.Transcript().String()
	}
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		if de.Transcript == "" && transcript != "" {
			cp := *de
			cp.Transcript = transcript
			return &cp
		}
		return de
	case errors.Is(err, race.ErrDeadline):
		return &domain.Error{
			Kind:       domain.KindProcessTimeout,
			Detail:     fmt.Sprintf("%s helper gave no result within %s", helperName(s), timeout),
			ExitCode:   -1,
			Transcript: transcript,
			Err:        err,
		}
	case errors.Is(err, context.Canceled):
		return &domain.Error{Kind: domain.KindCancelled, Transcript: transcript, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.Error{Kind: domain.KindProcessTimeout, ExitCode: -1, Transcript: transcript, Err: err}
	}
	e := domain.Classify(err)
	e.Transcript = transcript
	return e
}

func helperName(s Session) string {
	if s == nil {
		return "the"
	}
	return s.Name()
}
