// Package debugserver starts the remote debug server inside an established
// tunnel.
package debugserver

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/race"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// HelperName labels the debug server helper.
const HelperName = "debugserver"

// DefaultTimeout bounds the debug server helper run.
const DefaultTimeout = 10 * time.Second

// Launcher starts debug servers.
type Launcher struct {
	Spawner subprocess.Spawner
	// Helper is the invocation template; {address} and {port} are replaced
	// by the tunnel endpoint.
	Helper  subprocess.Spec
	Timeout time.Duration
	Clock   clock.Clock
	Log     *zap.Logger
}

// Server is a started debug server.
type Server struct {
	Endpoint domain.DebugEndpoint
	session  subprocess.Session
}

// Session returns the helper that started the server.
func (s *Server) Session() subprocess.Session { return s.session }

// Close terminates the helper if it is still running.
func (s *Server) Close() error { return s.session.Terminate() }

// Start runs the debug server helper against the tunnel to completion and
// parses the connect URL it prints.
func (l *Launcher) Start(ctx context.Context, tun domain.TunnelEndpoint) (*Server, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}

	spec := l.Helper.Expand(map[string]string{
		"address": tun.Address,
		"port":    strconv.Itoa(tun.Port),
	})
	spec.Name = HelperName
	sess, err := l.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, subprocess.StepError(nil, timeout, err)
	}

	port, err := race.WithDeadline(ctx, l.Clock, timeout, func(ctx context.Context) (int, error) {
		code, out, err := subprocess.Finish(ctx, sess)
		if err != nil {
			return 0, err
		}
		if port, ok := extract.DebugPort(out); ok {
			return port, nil
		}
		return 0, extract.Failure(out, code, domain.KindUnexpectedOutput)
	})
	if err != nil {
		if terr := sess.Terminate(); terr != nil {
			log.Warn("failed to terminate debug server helper", zap.Error(terr))
		}
		return nil, subprocess.StepError(sess, timeout, err)
	}

	ep := domain.DebugEndpoint{Address: tun.Address, Port: port}
	log.Debug("debug server started", zap.String("url", ep.ConnectURL()))
	return &Server{Endpoint: ep, session: sess}, nil
}
