package cli

import (
	"context"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/subprocess"
	"github.com/vburojevic/jitctl/internal/tunnel"
)

// TunnelCmd opens a tunnel and keeps it open until interrupted, so other
// tools can use the printed endpoint
type TunnelCmd struct {
	Device string `short:"d" env:"JITCTL_DEVICE" help:"Device UDID"`
}

// Run executes the tunnel command
func (c *TunnelCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	if err := requireDevice(globals, c.Device); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *TunnelCmd) run(ctx context.Context, globals *Globals) error {
	w := globals.Writer()
	spawner, flush := globals.newSpawner()
	defer flush()

	est := &tunnel.Establisher{
		Spawner: spawner,
		Helper:  globals.pathEnv(helperSpec(globals.config().Helpers.Tunnel)),
		Timeout: globals.config().Timeouts.Tunnel,
		Clock:   globals.clk(),
		Log:     globals.Logger(),
	}
	tun, err := est.Start(ctx, c.Device)
	if err != nil {
		return outputFailure(globals, w, "", domain.Annotate(err, "could not connect to device %s", c.Device))
	}
	defer tun.Close()

	if err := w.WriteTunnel(domain.NewTunnelReady("", tun.Endpoint)); err != nil {
		return err
	}
	globals.Debug("tunnel open at %s, waiting for interrupt", tun.Endpoint)

	select {
	case <-ctx.Done():
		return nil
	case <-tun.Done():
		return outputFailure(globals, w, "", closedTunnelError(c.Device, tun.Session()))
	}
}

// closedTunnelError describes a tunnel helper that exited on its own
func closedTunnelError(device string, sess subprocess.Session) error {
	err := extract.Failure(sess.Transcript().String(), subprocess.ExitCode(sess), domain.KindProcessFailure)
	return domain.Annotate(err, "tunnel to device %s closed", device)
}
