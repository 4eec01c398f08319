// Package cli implements the jitctl commands.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/jitctl/internal/config"
	"github.com/vburojevic/jitctl/internal/jit"
	"github.com/vburojevic/jitctl/internal/output"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// Build information, set via ldflags
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command model
type CLI struct {
	Format  string `short:"f" default:"${format}" enum:"ndjson,text" help:"Output format (ndjson or text)"`
	Quiet   bool   `short:"q" default:"${quiet}" help:"Only print the result or error"`
	Verbose bool   `short:"v" default:"${verbose}" help:"Log helper activity and output to stderr"`
	EnvPath string `name:"env-path" default:"${env_path}" help:"PATH used for every helper, e.g. a virtualenv bin directory"`

	Jit        JitCmd        `cmd:"" help:"Enable JIT for an app running on a device"`
	Tunnel     TunnelCmd     `cmd:"" help:"Open a tunnel to a device and keep it open"`
	Ps         PsCmd         `cmd:"" help:"List processes running on a device"`
	Mount      MountCmd      `cmd:"" help:"Mount the developer disk image on a device"`
	Config     ConfigCmd     `cmd:"" help:"Show or generate configuration"`
	Schema     SchemaCmd     `cmd:"" help:"Print the JSON Schema of every NDJSON record"`
	Completion CompletionCmd `cmd:"" help:"Generate shell completions"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// KongVars exposes config values as flag defaults, so flags override the
// config file and environment
func KongVars(cfg *config.Config) kong.Vars {
	if cfg == nil {
		cfg = config.Default()
	}
	return kong.Vars{
		"format":     cfg.Format,
		"quiet":      strconv.FormatBool(cfg.Quiet),
		"verbose":    strconv.FormatBool(cfg.Verbose),
		"env_path":   cfg.EnvPath,
		"skip_mount": strconv.FormatBool(cfg.SkipMount),
	}
}

// Globals holds state shared by every command
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	EnvPath string
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *zap.Logger
	clock  clock.Clock
	// spawner replaces the real helper launcher in tests
	spawner subprocess.Spawner
}

// NewGlobalsWithConfig creates globals from parsed flags and loaded config
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet,
		Verbose: c.Verbose,
		EnvPath: c.EnvPath,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
}

// Debug logs a formatted message when verbose is on
func (g *Globals) Debug(format string, args ...interface{}) {
	g.Logger().Sugar().Debugf(format, args...)
}

// Logger returns the process logger, built on first use
func (g *Globals) Logger() *zap.Logger {
	if g.logger == nil {
		g.logger = newLogger(g)
	}
	return g.logger
}

func (g *Globals) config() *config.Config {
	if g.Config == nil {
		g.Config = config.Default()
	}
	return g.Config
}

func (g *Globals) clk() clock.Clock {
	if g.clock == nil {
		g.clock = clock.New()
	}
	return g.clock
}

// Writer returns the event writer for the selected format
func (g *Globals) Writer() output.EventWriter {
	if g.Format == "text" {
		return output.NewTextWriter(g.Stdout, g.Stderr)
	}
	return output.NewNDJSONWriter(g.Stdout)
}

// newSpawner returns the helper launcher and a func that flushes its
// output log
func (g *Globals) newSpawner() (subprocess.Spawner, func()) {
	if g.spawner != nil {
		return g.spawner, func() {}
	}
	if !g.Verbose {
		return &subprocess.ExecSpawner{Log: g.Logger()}, func() {}
	}
	sink := subprocess.NewLogSink(g.Logger().Named("helper"), 0)
	return &subprocess.ExecSpawner{Log: g.Logger(), Sink: sink}, sink.Close
}

// envPath is the PATH override of the run, the flag winning over config
func (g *Globals) envPath() string {
	if g.EnvPath != "" {
		return g.EnvPath
	}
	return g.config().EnvPath
}

func helperSpec(h config.HelperConfig) subprocess.Spec {
	return subprocess.Spec{
		Path: h.Path,
		Args: append([]string(nil), h.Args...),
		PTY:  h.PTY,
	}
}

func (g *Globals) helpers() jit.Helpers {
	h := g.config().Helpers
	return jit.Helpers{
		Tunnel:      helperSpec(h.Tunnel),
		DebugServer: helperSpec(h.DebugServer),
		Processes:   helperSpec(h.Processes),
		Mounter:     helperSpec(h.Mounter),
		Info:        helperSpec(h.Info),
		Debugger:    helperSpec(h.Debugger),
	}
}

func (g *Globals) timeouts() jit.Timeouts {
	t := g.config().Timeouts
	return jit.Timeouts{
		Tunnel:      t.Tunnel,
		DebugServer: t.DebugServer,
		Resolve:     t.Resolve,
		Mount:       t.Mount,
		Info:        t.Info,
		Command:     t.Command,
		Attach:      t.Attach,
		Detach:      t.Detach,
	}
}

// pathEnv applies the PATH override to a single-helper command
func (g *Globals) pathEnv(spec subprocess.Spec) subprocess.Spec {
	if p := g.envPath(); p != "" {
		spec.Env = append(append([]string(nil), spec.Env...), "PATH="+p)
	}
	return spec
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// requireDevice rejects an empty device identifier
func requireDevice(globals *Globals, device string) error {
	if device == "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "a device UDID is required", "pass --device or set JITCTL_DEVICE")
	}
	return nil
}
