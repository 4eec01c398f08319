package cli

import (
	"encoding/json"
	"strings"

	"github.com/samber/lo"

	"github.com/vburojevic/jitctl/internal/domain"
)

// schemaTypes lists every NDJSON record type in output order
var schemaTypes = []string{"state", "tunnel", "debug_server", "process", "result", "error", "helper_debug", "processes", "mount"}

// SchemaCmd outputs JSON Schema for jitctl output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (state,tunnel,debug_server,process,result,error,helper_debug,processes,mount). Default: all"`
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"state":        stateSchema(),
		"tunnel":       tunnelSchema(),
		"debug_server": debugServerSchema(),
		"process":      processSchema(),
		"result":       resultSchema(),
		"error":        errorSchema(),
		"helper_debug": helperDebugSchema(),
		"processes":    processListSchema(),
		"mount":        mountSchema(),
	}

	typesToOutput := schemaTypes
	if len(c.Type) > 0 {
		typesToOutput = lo.Uniq(lo.FilterMap(c.Type, func(t string, _ int) (string, bool) {
			t = strings.ToLower(strings.TrimSpace(t))
			return t, t != ""
		}))
	}

	out := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "jitctl Output Schemas",
		"description": "JSON Schema definitions for all jitctl NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := out["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// record builds an object schema carrying the common type and
// schemaVersion fields
func record(title, description, typ string, props map[string]interface{}, required ...string) map[string]interface{} {
	all := map[string]interface{}{
		"type":          map[string]interface{}{"type": "string", "const": typ},
		"schemaVersion": map[string]interface{}{"type": "integer", "const": domain.SchemaVersion},
	}
	for k, v := range props {
		all[k] = v
	}
	return map[string]interface{}{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  all,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func stateEnum() []string {
	return []string{
		string(domain.StateIdle),
		string(domain.StatePreparingSupportImage),
		string(domain.StateEstablishingTunnel),
		string(domain.StateStartingDebugServer),
		string(domain.StateResolvingProcess),
		string(domain.StateAttaching),
		string(domain.StateAttached),
		string(domain.StateDetaching),
		string(domain.StateCompleted),
		string(domain.StateFailed),
	}
}

func stateSchema() map[string]interface{} {
	return record("State Change", "Emitted when a run enters a new state", "state", map[string]interface{}{
		"run_id": prop("string", "Run identifier shared by every record of the run"),
		"state": map[string]interface{}{
			"type":        "string",
			"enum":        stateEnum(),
			"description": "State entered",
		},
		"previous":   prop("string", "State that was left"),
		"elapsed_ms": prop("integer", "Milliseconds spent in the previous state"),
		"detail":     prop("string", "Step detail, e.g. the tunnel endpoint or target pid"),
		"timestamp": map[string]interface{}{
			"type":        "string",
			"format":      "date-time",
			"description": "ISO8601 timestamp of the transition",
		},
		"device": prop("string", "Device UDID"),
		"target": prop("string", "Target process as given"),
	}, "run_id", "state", "elapsed_ms", "timestamp")
}

func tunnelSchema() map[string]interface{} {
	return record("Tunnel Ready", "Emitted once the tunnel to the device is up", "tunnel", map[string]interface{}{
		"run_id":  prop("string", "Run identifier"),
		"address": prop("string", "Remote service discovery address inside the tunnel"),
		"port":    prop("integer", "Remote service discovery port"),
	}, "address", "port")
}

func debugServerSchema() map[string]interface{} {
	return record("Debug Server Ready", "Emitted once the debug server is listening", "debug_server", map[string]interface{}{
		"run_id": prop("string", "Run identifier"),
		"port":   prop("integer", "Debug server port inside the tunnel"),
		"url":    prop("string", "URL for the debugger's process connect"),
	}, "port", "url")
}

func processSchema() map[string]interface{} {
	return record("Process Resolved", "Emitted when a process name was resolved to a PID", "process", map[string]interface{}{
		"run_id": prop("string", "Run identifier"),
		"pid":    prop("integer", "Process ID on the device"),
		"name":   prop("string", "Process name as given"),
	}, "pid", "name")
}

func resultSchema() map[string]interface{} {
	return record("Run Result", "Emitted once when a run completes or fails", "result", map[string]interface{}{
		"run_id":  prop("string", "Run identifier"),
		"success": prop("boolean", "Whether JIT was enabled"),
		"final_state": map[string]interface{}{
			"type": "string",
			"enum": []string{string(domain.StateCompleted), string(domain.StateFailed)},
		},
		"summary": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"duration_ms": prop("integer", "Total run time"),
				"steps_ms": map[string]interface{}{
					"type":                 "object",
					"description":          "Milliseconds spent per state",
					"additionalProperties": map[string]interface{}{"type": "integer"},
				},
				"pid":        prop("integer", "Target PID"),
				"debug_port": prop("integer", "Debug server port"),
				"tunnel": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"address": prop("string", "Tunnel address"),
						"port":    prop("integer", "Tunnel port"),
					},
				},
			},
			"required": []string{"duration_ms", "steps_ms"},
		},
	}, "run_id", "success", "final_state", "summary")
}

func errorSchema() map[string]interface{} {
	return record("Error", "Emitted when a command fails", "error", map[string]interface{}{
		"run_id": prop("string", "Run identifier, when the failure ended a run"),
		"code": map[string]interface{}{
			"type":        "string",
			"description": "Machine-readable error code: a pipeline error kind or a CLI code such as INVALID_FLAGS",
			"examples": []string{
				string(domain.KindProcessFailure),
				string(domain.KindProcessTimeout),
				string(domain.KindUnexpectedOutput),
				string(domain.KindProcessNotRunning),
				string(domain.KindDependencyMissing),
				string(domain.KindDeviceNotConnected),
				string(domain.KindAttachFailure),
				string(domain.KindUnsupportedVersion),
				string(domain.KindCancelled),
			},
		},
		"message":   prop("string", "Human readable message"),
		"hint":      prop("string", "Suggested remediation"),
		"exit_code": prop("integer", "Helper exit code, -1 when it was killed"),
		"last_line": prop("string", "Last line the failing helper printed"),
		"transcript": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Trailing lines of the failing helper's output",
		},
	}, "code", "message")
}

func helperDebugSchema() map[string]interface{} {
	return record("Helper Debug", "Helper lifecycle event, written with --verbose", "helper_debug", map[string]interface{}{
		"run_id": prop("string", "Run identifier"),
		"helper": prop("string", "Helper role, e.g. tunnel or debugger"),
		"pid":    prop("integer", "Helper process ID"),
		"action": map[string]interface{}{
			"type": "string",
			"enum": []string{"spawn", "terminate"},
		},
		"exit_code": prop("integer", "Exit code after terminate"),
		"last_line": prop("string", "Last line the helper printed"),
	}, "helper", "action")
}

func processListSchema() map[string]interface{} {
	return record("Process List", "Output of jitctl ps", "processes", map[string]interface{}{
		"device": prop("string", "Device UDID"),
		"query":  prop("string", "Name filter passed to the helper"),
		"processes": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid":  prop("integer", "Process ID"),
					"name": prop("string", "Process name or executable path"),
				},
				"required": []string{"pid", "name"},
			},
		},
	}, "device", "processes")
}

func mountSchema() map[string]interface{} {
	return record("Mount Result", "Output of jitctl mount", "mount", map[string]interface{}{
		"device": prop("string", "Device UDID"),
		"outcome": map[string]interface{}{
			"type": "string",
			"enum": []string{"mounted", "already_mounted"},
		},
	}, "device", "outcome")
}
