package cli

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals) error {
	// quiet + text leaves nothing but the exit code; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	if globals != nil && globals.Config != nil {
		if err := globals.Config.Validate(); err != nil {
			return outputErrorCommon(globals, "INVALID_CONFIG", err.Error(), "run 'jitctl config show' and fix the listed keys")
		}
	}
	return nil
}
