// Package scenario parses and runs YAML scenarios: a list of page steps
// executed against the in-memory backend with auto-waiting locators.
//
// A scenario file holds either a single document with the steps, or two
// documents: the configuration and then the steps.
//
//	name: login
//	baseURL: http://app.test
//	options:
//	  expectTimeout: 2s
//	---
//	- goto: /login
//	- fill: {selector: "#email", value: ada@example.com}
//	- click: role=button[name="Sign in"]
//	- expect: {selector: "#greeting", toHaveText: Hello Ada}
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/types"
)

// ParseError is a syntax or structure error with its location.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ExitCode implements errext.HasExitCode.
func (e *ParseError) ExitCode() exitcodes.ExitCode { return exitcodes.InvalidConfig }

func wrapParseError(path string, line int, err error) *ParseError {
	return &ParseError{Path: path, Line: line, Message: err.Error()}
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name string
	Path string
	// BaseURL resolves relative URLs of goto steps and route patterns.
	BaseURL string
	// StorageStatePath seeds the browser context with cookies.
	StorageStatePath string
	// Engine overrides the engine options from the environment.
	Engine common.EngineOptions
	// Origin is served with Pages by the backend, without any network.
	Origin string
	Pages  map[string]string
	Steps  []Step
}

// DefaultOrigin serves the pages of a scenario when it names no origin.
const DefaultOrigin = "http://app.test"

type rawOptions struct {
	TestIDAttribute *string         `yaml:"testIdAttribute"`
	Timeout         *types.Duration `yaml:"timeout"`
	ExpectTimeout   *types.Duration `yaml:"expectTimeout"`
	PollInterval    *types.Duration `yaml:"pollInterval"`
	Strict          *bool           `yaml:"strict"`
	SlowMo          *types.Duration `yaml:"slowMo"`
	TracesDir       *string         `yaml:"tracesDir"`
}

func (o rawOptions) engineOptions() common.EngineOptions {
	var eo common.EngineOptions
	if o.TestIDAttribute != nil {
		eo.TestIDAttribute = null.StringFrom(*o.TestIDAttribute)
	}
	if o.Timeout != nil {
		eo.DefaultTimeout = types.NullDurationFrom(o.Timeout.TimeDuration())
	}
	if o.ExpectTimeout != nil {
		eo.ExpectTimeout = types.NullDurationFrom(o.ExpectTimeout.TimeDuration())
	}
	if o.PollInterval != nil {
		eo.PollInterval = types.NullDurationFrom(o.PollInterval.TimeDuration())
	}
	if o.Strict != nil {
		eo.Strict = null.BoolFrom(*o.Strict)
	}
	if o.SlowMo != nil {
		eo.SlowMo = types.NullDurationFrom(o.SlowMo.TimeDuration())
	}
	if o.TracesDir != nil {
		eo.TracesDir = null.StringFrom(*o.TracesDir)
	}
	return eo
}

type rawConfig struct {
	Name         string     `yaml:"name"`
	BaseURL      string     `yaml:"baseURL"`
	StorageState string     `yaml:"storageState"`
	Options      rawOptions `yaml:"options"`
	Serve        struct {
		Origin string            `yaml:"origin"`
		Pages  map[string]string `yaml:"pages"`
	} `yaml:"serve"`
}

// ParseFile reads and parses a scenario file.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data, path)
}

// Parse parses the scenario in data. path is used in error messages.
func Parse(data []byte, path string) (*Scenario, error) {
	docs, err := documents(data, path)
	if err != nil {
		return nil, err
	}

	sc := &Scenario{Path: path}
	switch len(docs) {
	case 0:
		return nil, &ParseError{Path: path, Line: 1, Message: "empty scenario"}
	case 1:
	case 2:
		if err := parseConfig(docs[0], sc); err != nil {
			return nil, err
		}
	default:
		return nil, &ParseError{
			Path: path, Line: docs[2].Line,
			Message: fmt.Sprintf("expected at most 2 documents, got %d", len(docs)),
		}
	}

	steps := docs[len(docs)-1]
	if steps.Kind != yaml.SequenceNode {
		return nil, &ParseError{Path: path, Line: steps.Line, Message: "steps must be a list"}
	}
	for _, n := range steps.Content {
		s, err := parseStep(n, path)
		if err != nil {
			return nil, err
		}
		sc.Steps = append(sc.Steps, s)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(baseName(path), ".yaml")
	}
	return sc, nil
}

func documents(data []byte, path string) ([]*yaml.Node, error) {
	var docs []*yaml.Node
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, &ParseError{Path: path, Message: err.Error()}
		}
		if len(doc.Content) == 0 {
			continue
		}
		docs = append(docs, doc.Content[0])
	}
}

func parseConfig(node *yaml.Node, sc *Scenario) error {
	if node.Kind != yaml.MappingNode {
		return &ParseError{Path: sc.Path, Line: node.Line, Message: "configuration must be a mapping"}
	}
	var cfg rawConfig
	if err := node.Decode(&cfg); err != nil {
		return wrapParseError(sc.Path, node.Line, fmt.Errorf("invalid configuration: %w", err))
	}
	sc.Name = cfg.Name
	sc.BaseURL = cfg.BaseURL
	sc.StorageStatePath = cfg.StorageState
	sc.Engine = cfg.Options.engineOptions()
	sc.Origin = cfg.Serve.Origin
	sc.Pages = cfg.Serve.Pages
	if len(sc.Pages) > 0 && sc.Origin == "" {
		sc.Origin = DefaultOrigin
	}
	if sc.BaseURL == "" {
		sc.BaseURL = sc.Origin
	}
	if err := sc.Engine.Validate(); err != nil {
		return wrapParseError(sc.Path, node.Line, err)
	}
	return nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
