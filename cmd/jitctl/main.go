package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/jitctl/internal/cli"
	"github.com/vburojevic/jitctl/internal/config"
)

const quickStart = `jitctl - enable JIT for apps on iOS 17+ devices

Quick start:
  jitctl mount -d UDID                  Mount the developer disk image
  jitctl ps -d UDID Delta               Find the app's process
  jitctl jit -d UDID Delta              Enable JIT by process name
  jitctl jit -d UDID 4321               Enable JIT by PID

For help:
  jitctl --help                         All commands and flags
  jitctl schema                         JSON Schema of every NDJSON record
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; flags given on the command line win
	ctx := kong.Parse(&c,
		kong.Name("jitctl"),
		kong.Description("Enable JIT on iOS 17+ devices by briefly attaching a debugger through a developer tunnel"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		cli.KongVars(cfg),
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
