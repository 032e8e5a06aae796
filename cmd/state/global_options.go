package state

// GlobalOptions contains global config values that apply for all autowait sub-commands.
type GlobalOptions struct {
	NoColor   bool
	LogFormat string
	LogLevel  string
	Verbose   bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		LogFormat: "text",
		LogLevel:  "info",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["AUTOWAIT_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if val, ok := env["AUTOWAIT_LOG_LEVEL"]; ok {
		result.LogLevel = val
	}
	if env["AUTOWAIT_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value disables colors.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}
