package static

import (
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/liuxd6825/autowait/common"
)

var nameFromContent = map[string]bool{
	"button": true, "link": true, "heading": true, "option": true, "cell": true,
	"columnheader": true, "rowheader": true, "tab": true, "menuitem": true,
	"menuitemcheckbox": true, "menuitemradio": true, "treeitem": true,
	"checkbox": true, "radio": true, "switch": true, "tooltip": true,
}

// implicitRole maps elements to their ARIA role when none is given.
//
//nolint:cyclop
func implicitRole(n *html.Node) string {
	switch n.Data {
	case "a", "area":
		if hasAttr(n, "href") {
			return "link"
		}
	case "button":
		return "button"
	case "input":
		switch inputType(n) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week":
			return ""
		}
		if hasAttr(n, "list") {
			return "combobox"
		}
		return "textbox"
	case "textarea":
		return "textbox"
	case "select":
		if hasAttr(n, "multiple") || attrOr(n, "size", "1") != "1" {
			return "listbox"
		}
		return "combobox"
	case "option":
		return "option"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "ul", "ol", "menu":
		return "list"
	case "li":
		return "listitem"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "aside":
		return "complementary"
	case "form":
		return "form"
	case "table":
		return "table"
	case "tr":
		return "row"
	case "td":
		return "cell"
	case "th":
		return "columnheader"
	case "img":
		if v, ok := getAttr(n, "alt"); ok && v == "" {
			return "presentation"
		}
		return "img"
	case "dialog":
		return "dialog"
	case "article":
		return "article"
	case "section":
		if hasAttr(n, "aria-label") || hasAttr(n, "aria-labelledby") {
			return "region"
		}
	case "fieldset", "details":
		return "group"
	case "p":
		return "paragraph"
	case "progress":
		return "progressbar"
	case "hr":
		return "separator"
	}
	return ""
}

func (d *document) AXTree(root common.NodeID) []common.AXNode {
	d.axOnce.Do(d.buildAX)

	var out []common.AXNode
	for _, id := range d.Elements(root) {
		if ax, ok := d.ax[id]; ok {
			out = append(out, ax)
		}
	}
	return out
}

func (d *document) buildAX() {
	d.ax = make(map[common.NodeID]common.AXNode)
	labels := d.labelIndex()

	for id, dn := range d.nodes {
		if dn.info.Kind != common.ElementNode {
			continue
		}
		n := dn.node
		role := implicitRole(n)
		if fields := strings.Fields(attrOr(n, "role", "")); len(fields) > 0 {
			role = fields[0]
		}
		if role == "" || role == "none" || role == "presentation" {
			continue
		}

		ax := common.AXNode{
			ID:       id,
			Role:     role,
			Hidden:   d.axHidden(dn),
			Disabled: d.axDisabled(dn),
			Expanded: attrOr(n, "aria-expanded", ""),
			Pressed:  attrOr(n, "aria-pressed", ""),
			Labels:   d.labelsOf(dn, labels),
		}
		ax.Name = d.accessibleName(dn, role, ax.Labels)

		switch {
		case n.Data == "input" && (inputType(n) == "checkbox" || inputType(n) == "radio"):
			ax.Checked = strconv.FormatBool(dn.info.Checked)
		case hasAttr(n, "aria-checked"):
			ax.Checked = attrOr(n, "aria-checked", "")
		}
		switch {
		case n.Data == "option":
			ax.Selected = dn.info.Checked
		default:
			ax.Selected = attrOr(n, "aria-selected", "") == "true"
		}
		if role == "heading" {
			if lvl, err := strconv.Atoi(attrOr(n, "aria-level", "")); err == nil {
				ax.Level = lvl
			} else if len(n.Data) == 2 && n.Data[0] == 'h' {
				ax.Level = int(n.Data[1] - '0')
			}
		}
		d.ax[id] = ax
	}
}

// labelIndex maps element ids to the <label for> elements naming them.
func (d *document) labelIndex() map[string][]*docNode {
	idx := make(map[string][]*docNode)
	for _, dn := range d.nodes {
		if dn.info.Kind == common.ElementNode && dn.node.Data == "label" {
			if f, ok := getAttr(dn.node, "for"); ok {
				idx[f] = append(idx[f], dn)
			}
		}
	}
	for _, ls := range idx {
		slices.SortFunc(ls, func(a, b *docNode) int { return a.order - b.order })
	}
	return idx
}

func normalized(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// labelsOf returns the texts labelling a control: aria-labelledby,
// aria-label and associated <label> elements.
func (d *document) labelsOf(dn *docNode, idx map[string][]*docNode) []string {
	n := dn.node
	var out []string
	if t := d.labelledBy(n); t != "" {
		out = append(out, t)
	}
	if v := normalized(attrOr(n, "aria-label", "")); v != "" {
		out = append(out, v)
	}
	if !isElement(n, "input", "textarea", "select", "button", "meter", "output", "progress") {
		return out
	}
	if id, ok := getAttr(n, "id"); ok && id != "" {
		for _, l := range idx[id] {
			if documentRoot(l.node) == documentRoot(n) {
				out = append(out, normalized(textContent(l.node)))
			}
		}
	}
	if l := closest(n.Parent, func(x *html.Node) bool { return isElement(x, "label") }); l != nil && !hasAttr(l, "for") {
		out = append(out, normalized(textContent(l)))
	}
	return out
}

func (d *document) labelledBy(n *html.Node) string {
	ref, ok := getAttr(n, "aria-labelledby")
	if !ok {
		return ""
	}
	root := documentRoot(n)
	var parts []string
	for _, id := range strings.Fields(ref) {
		el := findFirst(root, func(x *html.Node) bool { return isElement(x) && attrOr(x, "id", "") == id })
		if el != nil {
			parts = append(parts, normalized(textContent(el)))
		}
	}
	return strings.Join(parts, " ")
}

func (d *document) accessibleName(dn *docNode, role string, labels []string) string {
	n := dn.node
	if t := d.labelledBy(n); t != "" {
		return t
	}
	if v := normalized(attrOr(n, "aria-label", "")); v != "" {
		return v
	}
	if n.Data == "input" {
		switch inputType(n) {
		case "submit":
			return attrOr(n, "value", "Submit")
		case "reset":
			return attrOr(n, "value", "Reset")
		case "button":
			return attrOr(n, "value", "")
		case "image":
			return attrOr(n, "alt", "")
		}
	}
	if isElement(n, "input", "textarea", "select") && len(labels) > 0 {
		return strings.Join(labels, " ")
	}
	if n.Data == "img" {
		if v, ok := getAttr(n, "alt"); ok {
			return normalized(v)
		}
	}
	if nameFromContent[role] {
		if t := normalized(textContent(n)); t != "" {
			return t
		}
	}
	if v, ok := getAttr(n, "title"); ok {
		return normalized(v)
	}
	return normalized(attrOr(n, "placeholder", ""))
}

// axHidden reports whether the element is excluded from the accessibility
// tree: not rendered, visibility hidden or aria-hidden.
func (d *document) axHidden(dn *docNode) bool {
	if dn.box == nil || dn.box.hidden {
		return true
	}
	for cur := dn; cur != nil; cur = d.nodes[cur.info.Parent] {
		if attrOr(cur.node, "aria-hidden", "") == "true" {
			return true
		}
		if cur.info.Parent == "" {
			break
		}
	}
	return false
}

var disableable = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true,
	"option": true, "optgroup": true, "fieldset": true,
}

func (d *document) axDisabled(dn *docNode) bool {
	n := dn.node
	if disableable[n.Data] && hasAttr(n, "disabled") {
		return true
	}
	for cur := dn; cur != nil; cur = d.nodes[cur.info.Parent] {
		if attrOr(cur.node, "aria-disabled", "") == "true" {
			return true
		}
		if disableable[n.Data] && cur != dn && cur.node.Data == "fieldset" && hasAttr(cur.node, "disabled") {
			return true
		}
		if cur.info.Parent == "" {
			break
		}
	}
	return false
}
