package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/autowait/cmd/state"
	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/errext"
	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/scenario"
	"github.com/liuxd6825/autowait/storage"
)

// cmdRun handles the `autowait run` sub-command
type cmdRun struct {
	gs *state.GlobalState

	isJSON   bool
	failFast bool
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = c.gs.Ctx
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	interrupted := c.handleSignals(ctx, cancel)

	noColor := c.gs.Flags.NoColor || !c.gs.Stdout.IsTTY

	var (
		results  []*scenario.Result
		firstErr error
		failed   int
	)
	for _, path := range args {
		if interrupted.Load() {
			break
		}
		res, err := c.runFile(ctx, path)
		if interrupted.Load() {
			err = &errext.InterruptError{Reason: errext.AbortRun}
		}
		if res != nil {
			results = append(results, res)
			if !c.isJSON {
				if perr := printResult(c.gs.Stdout, res, noColor); perr != nil {
					return perr
				}
			}
		}
		if err == nil {
			continue
		}
		failed++
		errText, fields := errext.Format(err)
		c.gs.Logger.WithFields(fields).WithField("scenario", path).Error(errText)
		if firstErr == nil {
			firstErr = err
		}
		if c.failFast {
			break
		}
	}

	if interrupted.Load() && firstErr == nil {
		firstErr = &errext.InterruptError{Reason: errext.AbortRun}
		c.gs.Logger.Error(firstErr)
	}

	if c.isJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode the results: %w", err)
		}
		if _, err := fmt.Fprintln(c.gs.Stdout, string(data)); err != nil {
			return err
		}
	}

	if firstErr == nil {
		return nil
	}
	code := exitcodes.ScenarioFailed
	var ecerr errext.HasExitCode
	if errors.As(firstErr, &ecerr) {
		code = ecerr.ExitCode()
	}
	return errext.WithExitCodeIfNone(
		fmt.Errorf("%d of %d scenario(s) failed: %w", failed, len(args), errAlreadyReported), code)
}

// handleSignals cancels ctx on the first SIGINT or SIGTERM. A second one
// exits at once.
func (c *cmdRun) handleSignals(ctx context.Context, cancel func()) *atomic.Bool {
	interrupted := new(atomic.Bool)
	sigC := make(chan os.Signal, 2)
	c.gs.SignalNotify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer c.gs.SignalStop(sigC)
		select {
		case sig := <-sigC:
			c.gs.Logger.WithField("sig", sig).Warn("Stopping autowait in response to signal...")
			interrupted.Store(true)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigC:
			c.gs.Logger.WithField("sig", sig).Error("Aborting autowait in response to signal")
			c.gs.OSExit(int(exitcodes.ExternalAbort))
		case <-c.gs.Ctx.Done():
		}
	}()
	return interrupted
}

func (c *cmdRun) runFile(ctx context.Context, path string) (*scenario.Result, error) {
	data, err := afero.ReadFile(c.gs.FS, path)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(fmt.Errorf("reading scenario: %w", err), exitcodes.InvalidArgs)
	}
	sc, err := scenario.Parse(data, path)
	if err != nil {
		return nil, err
	}

	lookup := c.gs.Lookup()
	opts, err := common.ConsolidateEngineOptions(lookup, sc.Engine)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	c.gs.Logger.Debugf("running %s with %d step(s)", path, len(sc.Steps))
	return scenario.Run(ctx, sc, scenario.Options{
		Logger:    engineLogger(c.gs, opts),
		Lookup:    lookup,
		Persister: &storage.FilePersister{Fs: c.gs.FS},
	})
}

func printResult(w io.Writer, res *scenario.Result, noColor bool) error {
	colors := map[scenario.Status]*color.Color{
		scenario.StatusPassed:  color.New(color.FgGreen),
		scenario.StatusFailed:  color.New(color.FgRed),
		scenario.StatusSkipped: color.New(color.Faint),
		scenario.StatusPending: color.New(color.Faint),
	}
	for _, c := range colors {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	mark := func(s scenario.Status) string {
		switch s {
		case scenario.StatusPassed:
			return colors[s].Sprint("✓")
		case scenario.StatusFailed:
			return colors[s].Sprint("✗")
		default:
			return colors[s].Sprint("-")
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s)\n", mark(res.Status), res.Name, res.Path)
	for _, s := range res.Steps {
		fmt.Fprintf(&sb, "  %s %-16s line %-4d %s\n", mark(s.Status), s.Type, s.Line, s.Duration.Round(time.Millisecond))
		if s.Error != "" {
			fmt.Fprintf(&sb, "      %s\n", colors[scenario.StatusFailed].Sprint(s.Error))
		}
	}
	for _, p := range res.TracePaths {
		fmt.Fprintf(&sb, "  trace: %s\n", p)
	}
	fmt.Fprintf(&sb, "  %d passed, %d failed, %d skipped in %s\n\n",
		res.Passed, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))

	_, err := io.WriteString(w, sb.String())
	return err
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run YAML scenarios",
		Long: `Run YAML scenarios.

Each scenario runs on a fresh page of the in-memory backend. Engine options
come from the AUTOWAIT_* environment variables and the options of the
scenario file, the latter taking precedence.`,
		Example: `  autowait run login.yaml
  AUTOWAIT_POLL_INTERVAL=50ms autowait run --fail-fast flows/*.yaml`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errext.WithExitCodeIfNone(errors.New("run needs at least one scenario file"), exitcodes.InvalidArgs)
			}
			return nil
		},
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.BoolVar(&c.isJSON, "json", false, "print the results as JSON")
	flags.BoolVar(&c.failFast, "fail-fast", false, "stop after the first failing scenario")
	return cmd
}
