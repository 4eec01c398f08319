// Package procs resolves app processes on the device by name.
package procs

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/race"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// HelperName labels the process list helper.
const HelperName = "processes"

// DefaultTimeout bounds one process list run.
const DefaultTimeout = 10 * time.Second

// Resolver lists processes through the process list helper.
type Resolver struct {
	Spawner subprocess.Spawner
	// Helper is the invocation template; {udid} and {name} are replaced.
	Helper  subprocess.Spec
	Timeout time.Duration
	Clock   clock.Clock
	Log     *zap.Logger
}

// Resolve returns the PID of the first listed process called name. A
// missing process is reported with found=false, not as an error.
func (r *Resolver) Resolve(ctx context.Context, name, deviceID string) (pid int, found bool, err error) {
	entries, err := r.List(ctx, name, deviceID)
	if err != nil {
		return 0, false, err
	}
	entry, ok := lo.Find(entries, func(e domain.ProcessEntry) bool {
		return extract.NameMatches(e.Name, name)
	})
	if !ok {
		return 0, false, nil
	}
	return entry.PID, true, nil
}

// List runs the helper and returns every entry it printed, in order. The
// name is only passed to the helper as a filter.
func (r *Resolver) List(ctx context.Context, name, deviceID string) ([]domain.ProcessEntry, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	spec := r.Helper.Expand(map[string]string{"udid": deviceID, "name": name})
	spec.Name = HelperName
	sess, err := r.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, subprocess.StepError(nil, timeout, err)
	}
	defer sess.Terminate()

	entries, err := race.WithDeadline(ctx, r.Clock, timeout, func(ctx context.Context) ([]domain.ProcessEntry, error) {
		code, out, err := subprocess.Finish(ctx, sess)
		if err != nil {
			return nil, err
		}
		entries := parse(out)
		if code != 0 && len(entries) == 0 {
			return nil, extract.Failure(out, code, domain.KindProcessFailure)
		}
		// a clean run can still carry a failure marker instead of entries
		if kind, line, ok := extract.MarkerKind(out); ok && len(entries) == 0 {
			return nil, &domain.Error{Kind: kind, Detail: line, ExitCode: code, Transcript: out}
		}
		return entries, nil
	})
	if err != nil {
		return nil, subprocess.StepError(sess, timeout, err)
	}
	log.Debug("listed processes", zap.String("filter", name), zap.Int("count", len(entries)))
	return entries, nil
}

func parse(out string) []domain.ProcessEntry {
	return lo.FilterMap(strings.Split(out, "\n"), func(line string, _ int) (domain.ProcessEntry, bool) {
		return extract.ProcessEntry(strings.TrimRight(line, "\r"))
	})
}
