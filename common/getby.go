package common

import (
	"strconv"
	"strings"
)

// GetByRoleOptions are options for the GetByRole builders.
type GetByRoleOptions struct {
	Checked       *bool  `json:"checked"`
	Disabled      *bool  `json:"disabled"`
	Exact         bool   `json:"exact"`
	Expanded      *bool  `json:"expanded"`
	IncludeHidden bool   `json:"includeHidden"`
	Level         int    `json:"level"`
	Name          string `json:"name"`
	Pressed       *bool  `json:"pressed"`
	Selected      *bool  `json:"selected"`
}

// GetByTextOptions are options for the GetByText style builders.
type GetByTextOptions struct {
	// Exact requires a case-sensitive whole-string match.
	Exact bool `json:"exact"`
}

func buildRoleSelector(role string, opts *GetByRoleOptions) string {
	var sb strings.Builder
	sb.WriteString(engineIRole + "=" + role)
	if opts == nil {
		return sb.String()
	}

	boolAttr := func(name string, v *bool) {
		if v != nil {
			sb.WriteString("[" + name + "=" + strconv.FormatBool(*v) + "]")
		}
	}
	boolAttr("checked", opts.Checked)
	boolAttr("disabled", opts.Disabled)
	boolAttr("selected", opts.Selected)
	boolAttr("expanded", opts.Expanded)
	if opts.IncludeHidden {
		sb.WriteString("[include-hidden=true]")
	}
	if opts.Level > 0 {
		sb.WriteString("[level=" + strconv.Itoa(opts.Level) + "]")
	}
	if opts.Name != "" {
		sb.WriteString("[name=" + quoteText(opts.Name, opts.Exact) + "]")
	}
	boolAttr("pressed", opts.Pressed)

	return sb.String()
}

func exact(opts *GetByTextOptions) bool {
	return opts != nil && opts.Exact
}

func buildTextSelector(text string, opts *GetByTextOptions) string {
	return engineITText + "=" + quoteText(text, exact(opts))
}

func buildLabelSelector(text string, opts *GetByTextOptions) string {
	return engineILabel + "=" + quoteText(text, exact(opts))
}

func buildAttributeSelector(attr, value string, opts *GetByTextOptions) string {
	return engineIAttr + "=[" + attr + "=" + quoteText(value, exact(opts)) + "]"
}

func buildTestIDSelector(attr, id string) string {
	return engineITestID + "=[" + attr + "=" + quoteText(id, true) + "]"
}
