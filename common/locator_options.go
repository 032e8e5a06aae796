package common

import (
	"fmt"
	"time"
)

// LocatorBaseOptions are shared by every waiting action.
type LocatorBaseOptions struct {
	// Force skips every actionability check but attached.
	Force bool `json:"force"`
	// Timeout of the action. Zero means the default timeout and NoTimeout
	// waits forever.
	Timeout time.Duration `json:"timeout"`
}

// LocatorBasePointerOptions are shared by pointer actions.
type LocatorBasePointerOptions struct {
	LocatorBaseOptions
	// Position is relative to the top-left corner of the element's box.
	// The centre is used if nil.
	Position *Position `json:"position"`
	// Trial performs the actionability checks without the action.
	Trial bool `json:"trial"`
}

// Position is a point in CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LocatorClickOptions struct {
	LocatorBasePointerOptions
	Button     string   `json:"button"`
	ClickCount int64    `json:"clickCount"`
	Modifiers  []string `json:"modifiers"`
}

type LocatorDblclickOptions struct {
	LocatorBasePointerOptions
	Modifiers []string `json:"modifiers"`
}

type LocatorHoverOptions struct {
	LocatorBasePointerOptions
	Modifiers []string `json:"modifiers"`
}

type LocatorTapOptions struct {
	LocatorBasePointerOptions
	Modifiers []string `json:"modifiers"`
}

type LocatorCheckOptions struct {
	LocatorBasePointerOptions
}

type LocatorFillOptions struct {
	LocatorBaseOptions
}

type LocatorPressOptions struct {
	LocatorBaseOptions
	Delay time.Duration `json:"delay"`
}

type LocatorTypeOptions struct {
	LocatorBaseOptions
	// Delay between key presses.
	Delay time.Duration `json:"delay"`
}

type LocatorSelectOptionOptions struct {
	LocatorBaseOptions
}

type LocatorSetInputFilesOptions struct {
	LocatorBaseOptions
}

// LocatorReadOptions are options of the reads that wait for the element to
// be attached.
type LocatorReadOptions struct {
	Timeout time.Duration `json:"timeout"`
}

// SelectOption picks an <option> by value, label or index. Unset fields
// are ignored.
type SelectOption struct {
	Value *string `json:"value"`
	Label *string `json:"label"`
	Index *int    `json:"index"`
}

// ElementState is the state awaited by Locator.WaitFor.
type ElementState string

// Element states.
const (
	StateAttached ElementState = "attached"
	StateDetached ElementState = "detached"
	StateVisible  ElementState = "visible"
	StateHidden   ElementState = "hidden"
)

// LocatorWaitForOptions are options for Locator.WaitFor.
type LocatorWaitForOptions struct {
	// State defaults to visible.
	State   ElementState  `json:"state"`
	Timeout time.Duration `json:"timeout"`
}

func (o *LocatorWaitForOptions) validate() error {
	switch o.State {
	case "":
		o.State = StateVisible
	case StateAttached, StateDetached, StateVisible, StateHidden:
	default:
		return fmt.Errorf("%q is not a valid state, expected one of attached, detached, visible or hidden", o.State)
	}
	return nil
}

// LocatorOptions narrow a locator created from a selector.
type LocatorOptions struct {
	// HasText matches elements whose text contains the string. The match
	// is case-sensitive; a "/re/flags" literal matches a regular expression.
	HasText string
	// HasNotText excludes elements containing the text.
	HasNotText string
	// Has matches elements containing an element matching the locator.
	Has *Locator
	// HasNot excludes elements containing an element matching the locator.
	HasNot *Locator
}

// LocatorFilterOptions are options for Locator.Filter.
type LocatorFilterOptions struct {
	LocatorOptions
	// Visible keeps only visible (true) or hidden (false) elements.
	Visible *bool
}
