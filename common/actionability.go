package common

import (
	"fmt"
	"strings"
)

// Condition is a single actionability requirement.
type Condition string

// Actionability conditions.
const (
	ConditionAttached       Condition = "attached"
	ConditionVisible        Condition = "visible"
	ConditionStable         Condition = "stable"
	ConditionEnabled        Condition = "enabled"
	ConditionEditable       Condition = "editable"
	ConditionReceivesEvents Condition = "receiving events"
)

// Action names an operation the auto-wait scheduler performs on an element.
type Action string

// Actions.
const (
	ActionClick         Action = "click"
	ActionDblclick      Action = "dblclick"
	ActionTap           Action = "tap"
	ActionHover         Action = "hover"
	ActionCheck         Action = "check"
	ActionUncheck       Action = "uncheck"
	ActionFill          Action = "fill"
	ActionClear         Action = "clear"
	ActionPress         Action = "press"
	ActionType          Action = "type"
	ActionSelectOption  Action = "selectOption"
	ActionSetInputFiles Action = "setInputFiles"
	ActionFocus         Action = "focus"
	ActionScroll        Action = "scrollIntoViewIfNeeded"
	ActionDispatchEvent Action = "dispatchEvent"
	ActionRead          Action = "read"
)

var (
	pointerConditions = []Condition{
		ConditionAttached, ConditionVisible, ConditionStable, ConditionEnabled, ConditionReceivesEvents,
	}
	editConditions = []Condition{
		ConditionAttached, ConditionVisible, ConditionStable, ConditionEnabled, ConditionReceivesEvents, ConditionEditable,
	}
	hoverConditions = []Condition{
		ConditionAttached, ConditionVisible, ConditionStable, ConditionReceivesEvents,
	}
	keyboardConditions = []Condition{ConditionAttached, ConditionVisible, ConditionEnabled}
	scrollConditions   = []Condition{ConditionAttached, ConditionVisible, ConditionStable}
	attachedConditions = []Condition{ConditionAttached}
)

var knownActions = []Action{
	ActionClick, ActionDblclick, ActionTap, ActionHover, ActionCheck, ActionUncheck,
	ActionFill, ActionClear, ActionPress, ActionType, ActionSelectOption,
	ActionSetInputFiles, ActionFocus, ActionScroll, ActionDispatchEvent, ActionRead,
}

// ParseAction returns the Action named s.
func ParseAction(s string) (Action, error) {
	for _, a := range knownActions {
		if string(a) == s {
			return a, nil
		}
	}
	names := make([]string, len(knownActions))
	for i, a := range knownActions {
		names[i] = string(a)
	}
	return "", fmt.Errorf("unknown action %q, expected one of %s", s, strings.Join(names, ", "))
}

// Conditions returns the conditions an element must satisfy before the
// action can run.
func (a Action) Conditions() []Condition {
	switch a {
	case ActionClick, ActionDblclick, ActionTap, ActionCheck, ActionUncheck:
		return pointerConditions
	case ActionFill, ActionType, ActionClear:
		return editConditions
	case ActionHover:
		return hoverConditions
	case ActionPress, ActionSelectOption:
		return keyboardConditions
	case ActionScroll:
		return scrollConditions
	default:
		return attachedConditions
	}
}

// CheckResult is the outcome of a single actionability check.
type CheckResult struct {
	Satisfied bool
	Unmet     []Condition
	// Box is the element's bounding box, if it has one.
	Box Rect
}

// Checker evaluates actionability. A Checker remembers the boxes it saw on
// the previous tick to decide stability, so a new one is used per wait.
type Checker struct {
	last map[NodeID]Rect
}

// NewChecker returns a Checker with no history.
func NewChecker() *Checker {
	return &Checker{last: make(map[NodeID]Rect)}
}

// Check evaluates the conditions of action against the element.
func (c *Checker) Check(doc Document, id NodeID, action Action) CheckResult {
	return c.CheckConditions(doc, id, action.Conditions())
}

// CheckConditions evaluates the given conditions against the element.
//
//nolint:cyclop
func (c *Checker) CheckConditions(doc Document, id NodeID, conds []Condition) CheckResult {
	var res CheckResult

	n, attached := doc.Node(id)
	if !attached {
		delete(c.last, id)
		res.Unmet = []Condition{ConditionAttached}
		return res
	}
	box, hasBox := doc.BoundingBox(id)
	if hasBox {
		res.Box = box
	}

	for _, cond := range conds {
		ok := true
		switch cond {
		case ConditionAttached:
		case ConditionVisible:
			ok = !n.Hidden && hasBox && !box.Empty()
		case ConditionStable:
			prev, seen := c.last[id]
			ok = hasBox && seen && prev == box
		case ConditionEnabled:
			ok = isEnabled(doc, n)
		case ConditionEditable:
			ok = isEditable(doc, n)
		case ConditionReceivesEvents:
			ok = hasBox && receivesEvents(doc, id, box)
		}
		if !ok {
			res.Unmet = append(res.Unmet, cond)
		}
	}
	if hasBox {
		c.last[id] = box
	} else {
		delete(c.last, id)
	}

	res.Satisfied = len(res.Unmet) == 0
	return res
}

// receivesEvents reports whether a hit test at the centre of the box lands
// on the element or one of its descendants.
func receivesEvents(doc Document, id NodeID, box Rect) bool {
	if box.Empty() {
		return false
	}
	hit, ok := doc.HitTest(box.Center())
	if !ok {
		return false
	}
	return hit == id || doc.Contains(id, hit)
}

var disableableTags = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true,
	"option": true, "optgroup": true, "fieldset": true,
}

// isEnabled follows the HTML rules for disabled form controls plus
// aria-disabled on the element or an ancestor.
func isEnabled(doc Document, n NodeInfo) bool {
	if _, ok := n.Attr("disabled"); ok && disableableTags[n.Tag] {
		return false
	}
	child := n
	for cur := n; cur.Parent != ""; {
		if v, ok := cur.Attr("aria-disabled"); ok && strings.EqualFold(v, "true") {
			return false
		}
		parent, ok := doc.Node(cur.Parent)
		if !ok || parent.Kind != ElementNode {
			break
		}
		if _, dis := parent.Attr("disabled"); dis && parent.Tag == "fieldset" && disableableTags[n.Tag] {
			if !inFirstLegend(doc, parent, child) {
				return false
			}
		}
		child, cur = parent, parent
	}
	return true
}

// inFirstLegend reports whether child is the first <legend> of fieldset,
// whose contents stay enabled.
func inFirstLegend(doc Document, fieldset, child NodeInfo) bool {
	if child.Tag != "legend" {
		return false
	}
	for _, id := range doc.Children(fieldset.ID) {
		if c, ok := doc.Node(id); ok && c.Tag == "legend" {
			return id == child.ID
		}
	}
	return false
}

var textInputTypes = map[string]bool{
	"": true, "text": true, "password": true, "email": true, "number": true,
	"search": true, "tel": true, "url": true, "date": true, "time": true,
	"datetime-local": true, "month": true, "week": true,
}

func isEditable(doc Document, n NodeInfo) bool {
	if !isEnabled(doc, n) {
		return false
	}
	if _, ok := n.Attr("readonly"); ok && (n.Tag == "input" || n.Tag == "textarea") {
		return false
	}
	if v, ok := n.Attr("aria-readonly"); ok && strings.EqualFold(v, "true") {
		return false
	}
	switch n.Tag {
	case "textarea":
		return true
	case "input":
		return textInputTypes[strings.ToLower(n.Attrs["type"])]
	}
	return isContentEditable(doc, n)
}

func isContentEditable(doc Document, n NodeInfo) bool {
	for cur, ok := n, true; ok && cur.Kind == ElementNode; cur, ok = doc.Node(cur.Parent) {
		if v, has := cur.Attr("contenteditable"); has {
			return !strings.EqualFold(v, "false")
		}
		if cur.Parent == "" {
			break
		}
	}
	return false
}
