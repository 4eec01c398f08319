// Package tunnel starts the long-lived helper that opens a secure tunnel to
// a device and reports the address its services are reachable on.
package tunnel

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/race"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// HelperName labels the tunnel helper in logs and transcripts.
const HelperName = "tunnel"

// DefaultTimeout bounds the wait for the tunnel address.
const DefaultTimeout = 20 * time.Second

// Establisher starts tunnels.
type Establisher struct {
	Spawner subprocess.Spawner
	// Helper is the invocation template; {udid} is replaced by the device.
	Helper  subprocess.Spec
	Timeout time.Duration
	Clock   clock.Clock
	Log     *zap.Logger
}

// Tunnel is an established tunnel. Its endpoint is only valid until Close.
type Tunnel struct {
	Endpoint domain.TunnelEndpoint
	session  subprocess.Session
}

// Session returns the helper keeping the tunnel open.
func (t *Tunnel) Session() subprocess.Session { return t.session }

// Done is closed when the tunnel helper exits.
func (t *Tunnel) Done() <-chan struct{} { return t.session.Done() }

// Close terminates the tunnel helper, invalidating the endpoint.
func (t *Tunnel) Close() error { return t.session.Terminate() }

// Start spawns the tunnel helper for deviceID and waits until it prints the
// tunnel endpoint. On any failure the helper is terminated before returning.
func (e *Establisher) Start(ctx context.Context, deviceID string) (*Tunnel, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	spec := e.Helper.Expand(map[string]string{"udid": deviceID})
	spec.Name = HelperName
	sess, err := e.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, subprocess.StepError(nil, timeout, err)
	}

	ep, err := race.WithDeadline(ctx, e.Clock, timeout, func(ctx context.Context) (domain.TunnelEndpoint, error) {
		return scan(ctx, sess)
	})
	if err != nil {
		if terr := sess.Terminate(); terr != nil {
			log.Warn("failed to terminate tunnel helper", zap.Error(terr))
		}
		return nil, subprocess.StepError(sess, timeout, err)
	}

	log.Debug("tunnel established", zap.String("device", deviceID), zap.Stringer("endpoint", ep))
	return &Tunnel{Endpoint: ep, session: sess}, nil
}

// scan reads the helper's lines from the start until one carries the
// endpoint. Returning drops the cursor; the helper keeps running and its
// later output still lands in the transcript.
func scan(ctx context.Context, sess subprocess.Session) (domain.TunnelEndpoint, error) {
	cur := sess.Transcript().Cursor()
	for {
		line, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			code, werr := sess.Wait(ctx)
			if werr != nil && ctx.Err() != nil {
				return domain.TunnelEndpoint{}, ctx.Err()
			}
			return domain.TunnelEndpoint{}, extract.Failure(sess.Transcript().String(), code, domain.KindUnexpectedOutput)
		}
		if err != nil {
			return domain.TunnelEndpoint{}, err
		}
		if ep, ok := extract.TunnelEndpoint(line); ok {
			return ep, nil
		}
	}
}
