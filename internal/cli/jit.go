package cli

import (
	"context"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/jit"
)

// JitCmd enables JIT for an app running on a device
type JitCmd struct {
	Device    string `short:"d" env:"JITCTL_DEVICE" help:"Device UDID"`
	Target    string `arg:"" help:"Process name or PID of the app"`
	SkipMount bool   `default:"${skip_mount}" help:"Skip mounting the developer disk image"`
}

// Run executes the jit command
func (c *JitCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	if err := requireDevice(globals, c.Device); err != nil {
		return err
	}
	target, err := domain.ParseTarget(c.Target)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_TARGET", err.Error(), "pass the app's process name or its PID")
	}

	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals, target)
}

func (c *JitCmd) run(ctx context.Context, globals *Globals, target domain.TargetProcess) error {
	w := globals.Writer()
	spawner, flush := globals.newSpawner()
	defer flush()

	cfg := globals.config()
	orch := &jit.Orchestrator{
		Spawner:      spawner,
		Helpers:      globals.helpers(),
		Timeouts:     globals.timeouts(),
		PollInterval: cfg.PollInterval,
		SkipMount:    c.SkipMount,
		Clock:        globals.clk(),
		Log:          globals.Logger(),
		Observer:     newEventObserver(globals, w),
	}

	globals.Debug("enabling JIT for %s on %s", target, c.Device)
	end, err := orch.Run(ctx, jit.Request{
		DeviceID:    c.Device,
		Target:      target,
		EnvOverride: globals.envPath(),
	})
	if err != nil {
		outputFailure(globals, w, end.RunID, err)
	}
	if werr := w.WriteResult(end); werr != nil && err == nil {
		return werr
	}
	return err
}
