package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/autowait/cmd/state"
	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/env"
	"github.com/liuxd6825/autowait/errext"
	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/static"
)

// cmdQuery handles the `autowait query` sub-command
type cmdQuery struct {
	gs *state.GlobalState

	action   string
	url      string
	isJSON   bool
	showHTML bool
}

type queryMatch struct {
	Index      int      `json:"index"`
	Tag        string   `json:"tag"`
	Text       string   `json:"text"`
	HTML       string   `json:"html,omitempty"`
	Actionable bool     `json:"actionable"`
	Unmet      []string `json:"unmet,omitempty"`
}

type queryOutput struct {
	Selector string       `json:"selector"`
	Action   string       `json:"action"`
	Count    int          `json:"count"`
	Matches  []queryMatch `json:"matches"`
}

func (c *cmdQuery) run(cmd *cobra.Command, args []string) error {
	action, err := common.ParseAction(c.action)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidArgs)
	}

	markup, err := afero.ReadFile(c.gs.FS, args[0])
	if err != nil {
		return errext.WithExitCodeIfNone(fmt.Errorf("reading %s: %w", args[0], err), exitcodes.InvalidArgs)
	}

	lookup := c.gs.Lookup()
	opts, err := common.ConsolidateEngineOptions(lookup, common.EngineOptions{})
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	logger := engineLogger(c.gs, opts)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = c.gs.Ctx
	}
	sopts := []static.Option{static.WithLogger(logger)}
	if c.url != "" {
		u, err := url.Parse(c.url)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errext.WithExitCodeIfNone(fmt.Errorf("invalid --url %q", c.url), exitcodes.InvalidArgs)
		}
		sopts = append(sopts, static.WithHandler(u.Scheme+"://"+u.Host, servePage(u.Path, markup)))
	}
	b := common.NewBrowser(static.NewBrowser(sopts...), opts, logger)
	defer func() {
		if cerr := b.Close(ctx); cerr != nil {
			c.gs.Logger.WithError(cerr).Debug("closing the browser")
		}
	}()

	page, err := b.NewPage(ctx, nil)
	if err != nil {
		return err
	}
	if c.url != "" {
		if _, err := page.Goto(ctx, c.url, nil); err != nil {
			return err
		}
	} else if err := page.SetContent(ctx, string(markup)); err != nil {
		return err
	}

	loc, err := page.Locator(args[1], nil)
	if err != nil {
		return err
	}
	reports, err := loc.Inspect(ctx, action)
	if err != nil {
		return err
	}

	out := queryOutput{Selector: loc.String(), Action: string(action), Count: len(reports), Matches: []queryMatch{}}
	headful := env.IsHeadful(lookup)
	for i, r := range reports {
		m := queryMatch{Index: i, Tag: r.Tag, Text: r.InnerText, Actionable: r.Check.Satisfied}
		if headful || c.showHTML {
			m.HTML = r.HTML
		}
		for _, u := range r.Check.Unmet {
			m.Unmet = append(m.Unmet, string(u))
		}
		out.Matches = append(out.Matches, m)
	}

	if c.isJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode the matches: %w", err)
		}
		_, err = fmt.Fprintln(c.gs.Stdout, string(data))
		return err
	}
	return printQuery(c.gs.Stdout, out, c.gs.Flags.NoColor || !c.gs.Stdout.IsTTY)
}

// servePage serves markup at path and 404 everywhere else.
func servePage(path string, markup []byte) http.Handler {
	if path == "" {
		path = "/"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != path {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(markup)
	})
}

func printQuery(w io.Writer, out queryOutput, noColor bool) error {
	green, red := color.New(color.FgGreen), color.New(color.FgRed)
	if noColor {
		green.DisableColor()
		red.DisableColor()
	} else {
		green.EnableColor()
		red.EnableColor()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d match(es) for %q\n", out.Count, out.Selector)
	for _, m := range out.Matches {
		verdict := green.Sprintf("%s: ok", out.Action)
		if !m.Actionable {
			verdict = red.Sprintf("%s: not %s", out.Action, strings.Join(m.Unmet, ", "))
		}
		fmt.Fprintf(&sb, "  [%d] <%s> %q %s\n", m.Index, m.Tag, m.Text, verdict)
		if m.HTML != "" {
			fmt.Fprintf(&sb, "      %s\n", m.HTML)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func getCmdQuery(gs *state.GlobalState) *cobra.Command {
	c := &cmdQuery{gs: gs}

	cmd := &cobra.Command{
		Use:   "query <file.html> <selector>",
		Short: "Resolve a selector against an HTML file",
		Long: `Resolve a selector against an HTML file.

Prints every element the selector matches with its text and whether it is
actionable for the given action. It never waits.`,
		Example: `  autowait query page.html 'role=button[name="Save"]'
  autowait query page.html '#email' --action fill --json`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errext.WithExitCodeIfNone(
					errors.New("query needs an HTML file and a selector"), exitcodes.InvalidArgs)
			}
			return nil
		},
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.action, "action", string(common.ActionClick), "action whose actionability conditions are checked")
	flags.StringVar(&c.url, "url", "", "serve the file at this URL and navigate to it instead of setting the content")
	flags.BoolVar(&c.isJSON, "json", false, "print the matches as JSON")
	flags.BoolVar(&c.showHTML, "html", false, "print the inner HTML of every match")
	return cmd
}
