package cli

import (
	"context"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/mount"
)

// MountCmd mounts the developer disk image, which the debug server needs
type MountCmd struct {
	Device string `short:"d" env:"JITCTL_DEVICE" help:"Device UDID"`
}

// Run executes the mount command
func (c *MountCmd) Run(globals *Globals) error {
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

func (c *MountCmd) run(ctx context.Context, globals *Globals) error {
	w := globals.Writer()
	spawner, flush := globals.newSpawner()
	defer flush()

	cfg := globals.config()
	prep := &mount.Preparer{
		Spawner:     spawner,
		Mounter:     globals.pathEnv(helperSpec(cfg.Helpers.Mounter)),
		Info:        globals.pathEnv(helperSpec(cfg.Helpers.Info)),
		Timeout:     cfg.Timeouts.Mount,
		InfoTimeout: cfg.Timeouts.Info,
		Clock:       globals.clk(),
		Log:         globals.Logger(),
	}
	outcome, err := prep.Prepare(ctx, c.Device)
	if err != nil {
		return outputFailure(globals, w, "", domain.Annotate(err, "could not prepare device %s", c.Device))
	}
	return w.WriteMount(c.Device, string(outcome))
}
