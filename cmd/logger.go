package cmd

import (
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/autowait/cmd/state"
	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/log"
)

func (c *rootCommand) setupLoggers() error {
	gs := c.globalState

	level, err := logrus.ParseLevel(gs.Flags.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", gs.Flags.LogLevel, err)
	}
	if gs.Flags.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	gs.Logger.SetLevel(level)
	gs.Logger.SetOutput(gs.Stderr)

	switch gs.Flags.LogFormat {
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	case "text", "":
		colors := !gs.Flags.NoColor && gs.Stderr.IsTTY
		gs.Logger.SetFormatter(&logrus.TextFormatter{ForceColors: colors, DisableColors: !colors})
		gs.Logger.Debug("Logger format: TEXT")
	default:
		return fmt.Errorf("unsupported log format %q, use text or json", gs.Flags.LogFormat)
	}
	return nil
}

// engineLogger wraps the process logger in a category logger, honouring the
// category filter of the engine options.
func engineLogger(gs *state.GlobalState, opts common.EngineOptions) *log.Logger {
	var filter *regexp.Regexp
	if opts.LogCategories.Valid && opts.LogCategories.String != "" {
		// validated with the rest of the engine options
		filter = regexp.MustCompile(opts.LogCategories.String)
	}
	return log.New(gs.Logger, false, filter)
}
