package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vburojevic/jitctl/internal/config"
	"github.com/vburojevic/jitctl/internal/output"
)

// ConfigCmd groups the configuration commands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is used"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print an annotated sample config file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// ConfigOutput is the NDJSON record of "config show"
type ConfigOutput struct {
	Type          string         `json:"type"`
	SchemaVersion int            `json:"schemaVersion"`
	File          string         `json:"file,omitempty"`
	Config        *config.Config `json:"config"`
}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.config()
	file := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(&ConfigOutput{
			Type:          "config",
			SchemaVersion: output.SchemaVersion,
			File:          file,
			Config:        cfg,
		})
	}

	out := globals.Stdout
	fmt.Fprintln(out, "Current Configuration:")
	if file != "" {
		fmt.Fprintf(out, "  (from %s)\n", file)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  format:        %s\n", cfg.Format)
	fmt.Fprintf(out, "  quiet:         %t\n", cfg.Quiet)
	fmt.Fprintf(out, "  verbose:       %t\n", cfg.Verbose)
	fmt.Fprintf(out, "  env_path:      %s\n", cfg.EnvPath)
	fmt.Fprintf(out, "  skip_mount:    %t\n", cfg.SkipMount)
	fmt.Fprintf(out, "  poll_interval: %s\n", cfg.PollInterval)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Helpers:")
	helpers := []struct {
		name string
		h    config.HelperConfig
	}{
		{"tunnel", cfg.Helpers.Tunnel},
		{"debugserver", cfg.Helpers.DebugServer},
		{"processes", cfg.Helpers.Processes},
		{"mounter", cfg.Helpers.Mounter},
		{"info", cfg.Helpers.Info},
		{"debugger", cfg.Helpers.Debugger},
	}
	for _, h := range helpers {
		cmdline := strings.TrimSpace(h.h.Path + " " + strings.Join(h.h.Args, " "))
		if h.h.Path == "" {
			cmdline = "(disabled)"
		}
		if h.h.PTY {
			cmdline += " [pty]"
		}
		fmt.Fprintf(out, "  %-12s %s\n", h.name+":", cmdline)
	}
	fmt.Fprintln(out)

	t := cfg.Timeouts
	fmt.Fprintln(out, "Timeouts:")
	fmt.Fprintf(out, "  tunnel:      %s\n", t.Tunnel)
	fmt.Fprintf(out, "  debugserver: %s\n", t.DebugServer)
	fmt.Fprintf(out, "  resolve:     %s\n", t.Resolve)
	fmt.Fprintf(out, "  mount:       %s\n", t.Mount)
	fmt.Fprintf(out, "  info:        %s\n", t.Info)
	fmt.Fprintf(out, "  command:     %s\n", t.Command)
	fmt.Fprintf(out, "  attach:      %s\n", t.Attach)
	fmt.Fprintf(out, "  detach:      %s\n", t.Detach)
	return nil
}

// ConfigPathCmd shows which config file would be loaded
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	file := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          file,
			"found":         file != "",
		})
	}

	if file == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found")
		fmt.Fprintln(globals.Stdout, "Run 'jitctl config generate > ~/.jitctl.yaml' to create one")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", file)
	return nil
}

// ConfigGenerateCmd prints a sample config file
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	_, err := fmt.Fprint(globals.Stdout, config.Sample)
	return err
}
