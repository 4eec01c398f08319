package cli

import (
	"context"

	"github.com/samber/lo"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/extract"
	"github.com/vburojevic/jitctl/internal/procs"
)

// PsCmd lists the processes running on a device
type PsCmd struct {
	Device string `short:"d" env:"JITCTL_DEVICE" help:"Device UDID"`
	Name   string `arg:"" optional:"" help:"Only list processes matching this name"`
	Exact  bool   `help:"Only list processes whose name or executable equals NAME"`
}

// Run executes the ps command
func (c *PsCmd) Run(globals *Globals) error {
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

func (c *PsCmd) run(ctx context.Context, globals *Globals) error {
	w := globals.Writer()
	spawner, flush := globals.newSpawner()
	defer flush()

	resolver := &procs.Resolver{
		Spawner: spawner,
		Helper:  globals.pathEnv(helperSpec(globals.config().Helpers.Processes)),
		Timeout: globals.config().Timeouts.Resolve,
		Clock:   globals.clk(),
		Log:     globals.Logger(),
	}
	entries, err := resolver.List(ctx, c.Name, c.Device)
	if err != nil {
		return outputFailure(globals, w, "", domain.Annotate(err, "could not list processes on device %s", c.Device))
	}
	if c.Exact && c.Name != "" {
		entries = lo.Filter(entries, func(e domain.ProcessEntry, _ int) bool {
			return extract.NameMatches(e.Name, c.Name)
		})
	}
	return w.WriteProcessList(c.Device, c.Name, entries)
}
