package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" json:"format"`
	Quiet   bool   `mapstructure:"quiet" json:"quiet"`
	Verbose bool   `mapstructure:"verbose" json:"verbose"`

	// EnvPath is installed as PATH for every helper when set, e.g. the bin
	// directory of the virtualenv pymobiledevice3 lives in.
	EnvPath      string        `mapstructure:"env_path" json:"env_path"`
	SkipMount    bool          `mapstructure:"skip_mount" json:"skip_mount"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`

	Helpers  HelpersConfig  `mapstructure:"helpers" json:"helpers"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" json:"timeouts"`
}

// HelperConfig is one external helper invocation. Args may contain the
// placeholders {udid}, {address}, {port} and {name}.
type HelperConfig struct {
	Path string   `mapstructure:"path" json:"path"`
	Args []string `mapstructure:"args" json:"args"`
	PTY  bool     `mapstructure:"pty" json:"pty,omitempty"`
}

// HelpersConfig holds every helper the pipeline runs
type HelpersConfig struct {
	Tunnel      HelperConfig `mapstructure:"tunnel" json:"tunnel"`
	DebugServer HelperConfig `mapstructure:"debugserver" json:"debugserver"`
	Processes   HelperConfig `mapstructure:"processes" json:"processes"`
	Mounter     HelperConfig `mapstructure:"mounter" json:"mounter"`
	// Info is optional; an empty path disables the iOS version probe
	Info     HelperConfig `mapstructure:"info" json:"info"`
	Debugger HelperConfig `mapstructure:"debugger" json:"debugger"`
}

// TimeoutsConfig bounds each pipeline step
type TimeoutsConfig struct {
	Tunnel      time.Duration `mapstructure:"tunnel" json:"tunnel"`
	DebugServer time.Duration `mapstructure:"debugserver" json:"debugserver"`
	Resolve     time.Duration `mapstructure:"resolve" json:"resolve"`
	Mount       time.Duration `mapstructure:"mount" json:"mount"`
	Info        time.Duration `mapstructure:"info" json:"info"`
	Command     time.Duration `mapstructure:"command" json:"command"`
	Attach      time.Duration `mapstructure:"attach" json:"attach"`
	Detach      time.Duration `mapstructure:"detach" json:"detach"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:       "ndjson",
		PollInterval: 200 * time.Millisecond,
		Helpers: HelpersConfig{
			Tunnel: HelperConfig{
				Path: "pymobiledevice3",
				Args: []string{"lockdown", "start-tunnel", "--udid", "{udid}"},
			},
			DebugServer: HelperConfig{
				Path: "pymobiledevice3",
				Args: []string{"developer", "debugserver", "start-server", "--rsd", "{address}", "{port}"},
			},
			Processes: HelperConfig{
				Path: "pymobiledevice3",
				Args: []string{"processes", "pgrep", "{name}", "--udid", "{udid}"},
			},
			Mounter: HelperConfig{
				Path: "pymobiledevice3",
				Args: []string{"mounter", "auto-mount", "--udid", "{udid}"},
			},
			Info: HelperConfig{
				Args: []string{"-u", "{udid}", "-x"},
			},
			Debugger: HelperConfig{
				Path: "lldb",
				Args: []string{},
				PTY:  true,
			},
		},
		Timeouts: TimeoutsConfig{
			Tunnel:      20 * time.Second,
			DebugServer: 10 * time.Second,
			Resolve:     10 * time.Second,
			Mount:       60 * time.Second,
			Info:        10 * time.Second,
			Command:     10 * time.Second,
			Attach:      30 * time.Second,
			Detach:      10 * time.Second,
		},
	}
}

// Validate reports settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "ndjson" && c.Format != "text" {
		errs = append(errs, fmt.Errorf("format must be ndjson or text, got %q", c.Format))
	}
	required := map[string]HelperConfig{
		"tunnel":      c.Helpers.Tunnel,
		"debugserver": c.Helpers.DebugServer,
		"processes":   c.Helpers.Processes,
		"debugger":    c.Helpers.Debugger,
	}
	if !c.SkipMount {
		required["mounter"] = c.Helpers.Mounter
	}
	for _, name := range []string{"tunnel", "debugserver", "processes", "mounter", "debugger"} {
		if h, ok := required[name]; ok && strings.TrimSpace(h.Path) == "" {
			errs = append(errs, fmt.Errorf("helpers.%s.path is empty", name))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// setDefaults registers every default so environment variables can
// override keys that no config file sets
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("env_path", cfg.EnvPath)
	v.SetDefault("skip_mount", cfg.SkipMount)
	v.SetDefault("poll_interval", cfg.PollInterval)

	helpers := map[string]HelperConfig{
		"tunnel":      cfg.Helpers.Tunnel,
		"debugserver": cfg.Helpers.DebugServer,
		"processes":   cfg.Helpers.Processes,
		"mounter":     cfg.Helpers.Mounter,
		"info":        cfg.Helpers.Info,
		"debugger":    cfg.Helpers.Debugger,
	}
	for name, h := range helpers {
		v.SetDefault("helpers."+name+".path", h.Path)
		v.SetDefault("helpers."+name+".args", h.Args)
		v.SetDefault("helpers."+name+".pty", h.PTY)
	}

	t := cfg.Timeouts
	v.SetDefault("timeouts.tunnel", t.Tunnel)
	v.SetDefault("timeouts.debugserver", t.DebugServer)
	v.SetDefault("timeouts.resolve", t.Resolve)
	v.SetDefault("timeouts.mount", t.Mount)
	v.SetDefault("timeouts.info", t.Info)
	v.SetDefault("timeouts.command", t.Command)
	v.SetDefault("timeouts.attach", t.Attach)
	v.SetDefault("timeouts.detach", t.Detach)
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and type
	v.SetConfigName("jitctl")
	v.SetConfigType("yaml")

	// Add config paths (in order of precedence, lowest first)
	// 1. System-wide config
	v.AddConfigPath("/etc/jitctl/")
	// 2. User config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "jitctl"))
	}
	// 3. Home directory
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	// 4. Current directory
	v.AddConfigPath(".")

	// Environment variables, e.g. JITCTL_TIMEOUTS_TUNNEL=30s
	v.SetEnvPrefix("JITCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, err
		}
		// Fall back to the dotfile name
		v.SetConfigName(".jitctl")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	for _, name := range []string{"jitctl", ".jitctl"} {
		v := viper.New()
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/jitctl/")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "jitctl"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err == nil {
			return v.ConfigFileUsed()
		}
	}
	return ""
}

// Sample is the annotated config file printed by "config generate"
const Sample = `# jitctl configuration file
# Place at ~/.jitctl.yaml, ~/.config/jitctl/jitctl.yaml or ./jitctl.yaml
# Every key can also be set as JITCTL_<KEY>, e.g. JITCTL_TIMEOUTS_TUNNEL=30s

# Output format: ndjson or text
format: ndjson

# Suppress state events, only print the result
quiet: false

# Log helper activity and output to stderr
verbose: false

# PATH for every helper, e.g. the bin directory of a virtualenv
env_path: ""

# Skip the support image step when it is known to be mounted
skip_mount: false

# How often the debugger transcript is checked for new output
poll_interval: 200ms

# Helper invocations. Args may use {udid}, {address}, {port} and {name}.
helpers:
  tunnel:
    path: pymobiledevice3
    args: [lockdown, start-tunnel, --udid, "{udid}"]
  debugserver:
    path: pymobiledevice3
    args: [developer, debugserver, start-server, --rsd, "{address}", "{port}"]
  processes:
    path: pymobiledevice3
    args: [processes, pgrep, "{name}", --udid, "{udid}"]
  mounter:
    path: pymobiledevice3
    args: [mounter, auto-mount, --udid, "{udid}"]
  # Optional iOS version probe, printing the device values as an XML plist
  info:
    path: ""
    args: [-u, "{udid}", -x]
  debugger:
    path: lldb
    args: []
    pty: true

timeouts:
  tunnel: 20s
  debugserver: 10s
  resolve: 10s
  mount: 60s
  info: 10s
  command: 10s
  attach: 30s
  detach: 10s
`
