// Package extract holds the structural extractors that turn helper output
// into values, and the literal markers the pipeline depends on.
package extract

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/vburojevic/jitctl/internal/domain"
	"github.com/vburojevic/jitctl/internal/subprocess"
)

// Markers printed by the helpers.
const (
	// TunnelMarker precedes the tunnel address and port.
	TunnelMarker = "--rsd"
	// ConnectScheme prefixes the debug server URL.
	ConnectScheme = "connect://"
	// InfoMarker tags process list entries.
	InfoMarker = "INFO"
	// AlreadyMountedMarker is printed when the support image is active.
	AlreadyMountedMarker = "already mounted"

	PlatformSelectedMarker = "Platform: remote-ios"
	SDKMissingMarker       = "no SDK found"
	AttachFailedMarker     = "attach failed"
	ErrorMarker            = "error:"
)

// DependencyMissingMarkers mean a helper could not start its runtime.
var DependencyMissingMarkers = []string{
	"No module named",
	"command not found",
}

// DeviceNotConnectedMarkers mean the device was unreachable.
var DeviceNotConnectedMarkers = []string{
	"Device is not connected",
	"NoDeviceConnectedError",
}

var (
	tunnelRe  = regexp.MustCompile(regexp.QuoteMeta(TunnelMarker) + `\s+(\S+)\s+(\d+)\b`)
	connectRe = regexp.MustCompile(regexp.QuoteMeta(ConnectScheme) + `\[([^\]]*)\]:(\d+)`)
	processRe = regexp.MustCompile(`\b` + InfoMarker + `\b\D*?(\d+)\s+(\S.*?)\s*$`)
)

// TunnelEndpoint extracts the tunnel address and port from one line.
func TunnelEndpoint(line string) (domain.TunnelEndpoint, bool) {
	m := tunnelRe.FindStringSubmatch(line)
	if m == nil {
		return domain.TunnelEndpoint{}, false
	}
	port, ok := parsePort(m[2])
	if !ok {
		return domain.TunnelEndpoint{}, false
	}
	return domain.TunnelEndpoint{Address: m[1], Port: port}, true
}

// DebugURL extracts host and port from the first connect URL in output.
func DebugURL(output string) (host string, port int, ok bool) {
	m := connectRe.FindStringSubmatch(output)
	if m == nil {
		return "", 0, false
	}
	port, ok = parsePort(m[2])
	if !ok {
		return "", 0, false
	}
	return m[1], port, true
}

// DebugPort extracts the port of the first connect URL in output.
func DebugPort(output string) (int, bool) {
	_, port, ok := DebugURL(output)
	return port, ok
}

// ProcessEntry extracts the PID and name from one process list line.
func ProcessEntry(line string) (domain.ProcessEntry, bool) {
	m := processRe.FindStringSubmatch(line)
	if m == nil {
		return domain.ProcessEntry{}, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil || pid <= 0 {
		return domain.ProcessEntry{}, false
	}
	return domain.ProcessEntry{PID: pid, Name: m[2]}, true
}

// NameMatches reports whether a listed process name refers to name. Helpers
// print either the bare executable name or the full executable path.
func NameMatches(listed, name string) bool {
	return listed == name || path.Base(listed) == name
}

// ProcessStopped matches the debugger's stop notice for pid.
func ProcessStopped(pid int) string { return fmt.Sprintf("Process %d stopped", pid) }

// ProcessResuming matches the debugger's resume notice for pid.
func ProcessResuming(pid int) string { return fmt.Sprintf("Process %d resuming", pid) }

// ProcessDetached matches the debugger's detach notice for pid.
func ProcessDetached(pid int) string { return fmt.Sprintf("Process %d detached", pid) }

// MarkerKind looks for the helper-level failure markers in output and
// returns the matching kind and the line that carried it.
func MarkerKind(output string) (domain.ErrorKind, string, bool) {
	for _, line := range strings.Split(output, "\n") {
		for _, m := range DependencyMissingMarkers {
			if strings.Contains(line, m) {
				return domain.KindDependencyMissing, strings.TrimSpace(line), true
			}
		}
		for _, m := range DeviceNotConnectedMarkers {
			if strings.Contains(line, m) {
				return domain.KindDeviceNotConnected, strings.TrimSpace(line), true
			}
		}
	}
	return "", "", false
}

// Failure builds the error for a helper whose output did not yield a value.
// Markers win over the exit code; a clean exit falls back to fallback.
func Failure(output string, exitCode int, fallback domain.ErrorKind) *domain.Error {
	if kind, line, ok := MarkerKind(output); ok {
		return &domain.Error{Kind: kind, Detail: line, ExitCode: exitCode, Transcript: output}
	}
	kind := fallback
	if exitCode != 0 {
		kind = domain.KindProcessFailure
	}
	return &domain.Error{
		Kind:       kind,
		Detail:     subprocess.LastNonEmptyLine(output),
		ExitCode:   exitCode,
		Transcript: output,
	}
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
