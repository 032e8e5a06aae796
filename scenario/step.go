package scenario

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/autowait/types"
)

// StepType names a step.
type StepType string

// Step types.
const (
	StepGoto            StepType = "goto"
	StepSetContent      StepType = "setContent"
	StepClick           StepType = "click"
	StepFill            StepType = "fill"
	StepPress           StepType = "press"
	StepCheck           StepType = "check"
	StepSelect          StepType = "select"
	StepExpect          StepType = "expect"
	StepWaitForResponse StepType = "waitForResponse"
	StepRoute           StepType = "route"
	StepDialog          StepType = "dialog"
	StepTrace           StepType = "trace"
)

func isStepType(key string) bool {
	switch StepType(key) {
	case StepGoto, StepSetContent, StepClick, StepFill, StepPress, StepCheck, StepSelect,
		StepExpect, StepWaitForResponse, StepRoute, StepDialog, StepTrace:
		return true
	}
	return false
}

// Step is a single scenario step.
type Step interface {
	Type() StepType
	Base() *BaseStep
}

// BaseStep holds the fields every step accepts.
type BaseStep struct {
	StepType StepType `yaml:"-"`
	Line     int      `yaml:"-"`
	// Eval is a JavaScript expression over the step result that must be
	// truthy for the step to pass.
	Eval string `yaml:"eval"`
	// As stores the step result under a name visible to later evals.
	As      string         `yaml:"as"`
	Timeout types.Duration `yaml:"timeout"`
}

// Type implements Step.
func (b *BaseStep) Type() StepType { return b.StepType }

// Base implements Step.
func (b *BaseStep) Base() *BaseStep { return b }

// GotoStep navigates the page.
type GotoStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
}

// SetContentStep replaces the document.
type SetContentStep struct {
	BaseStep `yaml:",inline"`
	HTML     string `yaml:"html"`
}

// ClickStep clicks an element.
type ClickStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Force    bool   `yaml:"force"`
	Trial    bool   `yaml:"trial"`
}

// FillStep fills an input.
type FillStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// PressStep presses a key on an element.
type PressStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Key      string `yaml:"key"`
}

// CheckStep checks or unchecks a checkbox or radio button.
type CheckStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	// Checked defaults to true.
	Checked *bool `yaml:"checked"`
}

// SelectStep selects options of a <select>.
type SelectStep struct {
	BaseStep `yaml:",inline"`
	Selector string   `yaml:"selector"`
	Values   []string `yaml:"values"`
	Labels   []string `yaml:"labels"`
}

// ExpectStep is a retrying assertion on a locator, or on the page when it
// has no selector.
type ExpectStep struct {
	BaseStep  `yaml:",inline"`
	Selector  string `yaml:"selector"`
	Not       bool   `yaml:"not"`
	Assertion string `yaml:"-"`
	Expected  string `yaml:"-"`
	Count     int    `yaml:"-"`
	Attribute string `yaml:"-"`
}

// WaitForResponseStep waits for a response while Trigger runs.
type WaitForResponseStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
	// Status, when set, must equal the response status.
	Status  int  `yaml:"status"`
	Trigger Step `yaml:"-"`
}

// RouteFulfill is the response of a fulfilled route.
type RouteFulfill struct {
	Status      int64             `yaml:"status"`
	Body        string            `yaml:"body"`
	JSON        any               `yaml:"json"`
	ContentType string            `yaml:"contentType"`
	Headers     map[string]string `yaml:"headers"`
}

// RouteContinue overrides parts of a continued request.
type RouteContinue struct {
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

// RouteStep registers a route. Exactly one of Fulfill, Abort and Continue
// is set.
type RouteStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
	Times    int    `yaml:"times"`
	// Context registers the route on the browser context instead of the
	// page.
	Context  bool           `yaml:"context"`
	Fulfill  *RouteFulfill  `yaml:"fulfill"`
	Abort    string         `yaml:"abort"`
	Continue *RouteContinue `yaml:"continue"`
	// Unroute removes the routes of URL instead.
	Unroute bool `yaml:"unroute"`
}

// DialogStep sets how the following dialogs are handled.
type DialogStep struct {
	BaseStep   `yaml:",inline"`
	Action     string `yaml:"action"`
	PromptText string `yaml:"promptText"`
}

// TraceStep starts or stops tracing.
type TraceStep struct {
	BaseStep  `yaml:",inline"`
	Action    string `yaml:"action"`
	Name      string `yaml:"name"`
	Title     string `yaml:"title"`
	Snapshots bool   `yaml:"snapshots"`
	Path      string `yaml:"path"`
}

func parseStep(node *yaml.Node, path string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: path, Line: node.Line, Message: "step must be a mapping"}
	}
	stepType, valueNode := extractStepType(node)
	if stepType == "" {
		return nil, &ParseError{Path: path, Line: node.Line, Message: "unknown step type"}
	}

	s, err := decodeStep(StepType(stepType), valueNode, path)
	if err != nil {
		return nil, err
	}
	// Shared fields may sit next to the step key:
	//   - click: "#go"
	//     timeout: 2s
	if err := node.Decode(s.Base()); err != nil {
		return nil, wrapParseError(path, node.Line, err)
	}
	s.Base().StepType = StepType(stepType)
	s.Base().Line = node.Line
	return s, nil
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

// decodeScalar decodes a mapping into s, or sets the scalar value through
// set.
func decodeScalar(n *yaml.Node, path string, s any, set func(string)) error {
	if n.Kind == yaml.ScalarNode {
		set(n.Value)
		return nil
	}
	if err := n.Decode(s); err != nil {
		return wrapParseError(path, n.Line, err)
	}
	return nil
}

func required(path string, line int, field string, value string) error {
	if value == "" {
		return &ParseError{Path: path, Line: line, Message: fmt.Sprintf("%s is required", field)}
	}
	return nil
}

//nolint:cyclop,funlen
func decodeStep(stepType StepType, n *yaml.Node, path string) (Step, error) {
	switch stepType {
	case StepGoto:
		var s GotoStep
		if err := decodeScalar(n, path, &s, func(v string) { s.URL = v }); err != nil {
			return nil, err
		}
		return &s, required(path, n.Line, "url", s.URL)

	case StepSetContent:
		var s SetContentStep
		if err := decodeScalar(n, path, &s, func(v string) { s.HTML = v }); err != nil {
			return nil, err
		}
		return &s, nil

	case StepClick:
		var s ClickStep
		if err := decodeScalar(n, path, &s, func(v string) { s.Selector = v }); err != nil {
			return nil, err
		}
		return &s, required(path, n.Line, "selector", s.Selector)

	case StepFill:
		var s FillStep
		if err := n.Decode(&s); err != nil {
			return nil, wrapParseError(path, n.Line, err)
		}
		return &s, required(path, n.Line, "selector", s.Selector)

	case StepPress:
		var s PressStep
		if err := n.Decode(&s); err != nil {
			return nil, wrapParseError(path, n.Line, err)
		}
		if err := required(path, n.Line, "selector", s.Selector); err != nil {
			return nil, err
		}
		return &s, required(path, n.Line, "key", s.Key)

	case StepCheck:
		var s CheckStep
		if err := decodeScalar(n, path, &s, func(v string) { s.Selector = v }); err != nil {
			return nil, err
		}
		return &s, required(path, n.Line, "selector", s.Selector)

	case StepSelect:
		var s SelectStep
		if err := n.Decode(&s); err != nil {
			return nil, wrapParseError(path, n.Line, err)
		}
		if len(s.Values)+len(s.Labels) == 0 {
			return nil, &ParseError{Path: path, Line: n.Line, Message: "values or labels are required"}
		}
		return &s, required(path, n.Line, "selector", s.Selector)

	case StepExpect:
		return decodeExpect(n, path)

	case StepWaitForResponse:
		return decodeWaitForResponse(n, path)

	case StepRoute:
		return decodeRoute(n, path)

	case StepDialog:
		var s DialogStep
		if err := decodeScalar(n, path, &s, func(v string) { s.Action = v }); err != nil {
			return nil, err
		}
		if s.Action != "accept" && s.Action != "dismiss" && s.Action != "default" {
			return nil, &ParseError{
				Path: path, Line: n.Line,
				Message: fmt.Sprintf("dialog action must be accept, dismiss or default, got %q", s.Action),
			}
		}
		return &s, nil

	case StepTrace:
		var s TraceStep
		if err := decodeScalar(n, path, &s, func(v string) { s.Action = v }); err != nil {
			return nil, err
		}
		if s.Action != "start" && s.Action != "stop" {
			return nil, &ParseError{
				Path: path, Line: n.Line,
				Message: fmt.Sprintf("trace action must be start or stop, got %q", s.Action),
			}
		}
		return &s, nil
	}

	return nil, &ParseError{Path: path, Line: n.Line, Message: fmt.Sprintf("unknown step type %q", stepType)}
}

var (
	stateAssertions = map[string]bool{
		"toBeVisible": true, "toBeHidden": true, "toBeEnabled": true,
		"toBeDisabled": true, "toBeChecked": true, "toBeEditable": true,
	}
	textAssertions = map[string]bool{
		"toHaveText": true, "toContainText": true, "toHaveValue": true,
	}
	pageAssertions = map[string]bool{"toHaveURL": true, "toHaveTitle": true}
)

func isAssertion(key string) bool {
	return stateAssertions[key] || textAssertions[key] || pageAssertions[key] ||
		key == "toHaveAttribute" || key == "toHaveCount"
}

//nolint:cyclop
func decodeExpect(n *yaml.Node, path string) (Step, error) {
	if n.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: path, Line: n.Line, Message: "expect must be a mapping"}
	}
	var s ExpectStep
	if err := n.Decode(&s); err != nil {
		return nil, wrapParseError(path, n.Line, err)
	}

	var value *yaml.Node
	for i := 0; i < len(n.Content)-1; i += 2 {
		key := n.Content[i].Value
		if !isAssertion(key) {
			continue
		}
		if s.Assertion != "" {
			return nil, &ParseError{
				Path: path, Line: n.Content[i].Line,
				Message: fmt.Sprintf("only one assertion per expect, got %s and %s", s.Assertion, key),
			}
		}
		s.Assertion, value = key, n.Content[i+1]
	}
	if s.Assertion == "" {
		return nil, &ParseError{Path: path, Line: n.Line, Message: "expect has no assertion"}
	}

	page := pageAssertions[s.Assertion]
	if page && s.Selector != "" {
		return nil, &ParseError{
			Path: path, Line: n.Line, Message: s.Assertion + " is a page assertion and takes no selector",
		}
	}
	if !page && s.Selector == "" {
		return nil, &ParseError{Path: path, Line: n.Line, Message: s.Assertion + " needs a selector"}
	}

	var err error
	switch {
	case stateAssertions[s.Assertion]:
		var want bool
		if err = value.Decode(&want); err == nil && !want {
			s.Not = !s.Not
		}
	case s.Assertion == "toHaveCount":
		err = value.Decode(&s.Count)
	case s.Assertion == "toHaveAttribute":
		var attr struct {
			Name  string `yaml:"name"`
			Value string `yaml:"value"`
		}
		if err = value.Decode(&attr); err == nil {
			s.Attribute, s.Expected = attr.Name, attr.Value
			err = required(path, value.Line, "attribute name", attr.Name)
		}
	default:
		err = value.Decode(&s.Expected)
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, wrapParseError(path, value.Line, err)
	}
	return &s, nil
}

func decodeWaitForResponse(n *yaml.Node, path string) (Step, error) {
	var s WaitForResponseStep
	if err := decodeScalar(n, path, &s, func(v string) { s.URL = v }); err != nil {
		return nil, err
	}
	if err := required(path, n.Line, "url", s.URL); err != nil {
		return nil, err
	}
	if n.Kind != yaml.MappingNode {
		return &s, nil
	}
	for i := 0; i < len(n.Content)-1; i += 2 {
		if n.Content[i].Value != "trigger" {
			continue
		}
		trigger, err := parseStep(n.Content[i+1], path)
		if err != nil {
			return nil, err
		}
		if trigger.Type() == StepWaitForResponse {
			return nil, &ParseError{Path: path, Line: trigger.Base().Line, Message: "a trigger can't wait for a response"}
		}
		s.Trigger = trigger
	}
	return &s, nil
}

func decodeRoute(n *yaml.Node, path string) (Step, error) {
	if n.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: path, Line: n.Line, Message: "route must be a mapping"}
	}
	var s RouteStep
	if err := n.Decode(&s); err != nil {
		return nil, wrapParseError(path, n.Line, err)
	}
	if err := required(path, n.Line, "url", s.URL); err != nil {
		return nil, err
	}

	actions := 0
	for _, set := range []bool{s.Fulfill != nil, s.Abort != "", s.Continue != nil, s.Unroute} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return nil, &ParseError{
			Path: path, Line: n.Line, Message: "route needs exactly one of fulfill, abort, continue or unroute",
		}
	}
	return &s, nil
}
