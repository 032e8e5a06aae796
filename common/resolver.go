package common

import (
	"fmt"
	"slices"
	"strings"
)

// resolver evaluates selectors against a single document snapshot. It never
// caches across snapshots; a new resolver is made for every poll.
type resolver struct {
	doc Document
}

func newResolver(doc Document) *resolver {
	return &resolver{doc: doc}
}

// resolve returns the elements matched by sel below root, in document order.
// Zero matches is not an error.
func (r *resolver) resolve(sel *Selector, root NodeID) ([]NodeID, error) {
	if sel.Capture == nil || *sel.Capture == len(sel.Parts)-1 {
		return r.evaluate(sel.Parts, root, []NodeID{root}, true)
	}

	c := *sel.Capture
	captured, err := r.evaluate(sel.Parts[:c+1], root, []NodeID{root}, true)
	if err != nil {
		return nil, err
	}
	var out []NodeID
	for _, id := range captured {
		rest, err := r.evaluate(sel.Parts[c+1:], root, []NodeID{id}, false)
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// evaluate applies parts to set. While atRoot is true the set holds scopes
// (a document, shadow root or a captured element) rather than matches, and
// set-level parts first expand it to every element below the scopes.
//
//nolint:cyclop,funlen
func (r *resolver) evaluate(parts []*SelectorPart, queryRoot NodeID, set []NodeID, atRoot bool) ([]NodeID, error) {
	var err error
	for i := 0; i < len(parts); {
		p := parts[i]

		switch p.kind {
		case partQuery:
			var next []NodeID
			for _, scope := range set {
				found, err := r.query(p, scope)
				if err != nil {
					return nil, err
				}
				next = append(next, found...)
			}
			set, atRoot = dedup(next), false
			i++

		case partControl:
			var next []NodeID
			for _, id := range set {
				var (
					root NodeID
					ok   bool
				)
				if p.control == controlEnterFrame {
					root, ok = r.doc.ContentDocument(id)
				} else {
					root, ok = r.doc.ShadowRoot(id)
				}
				if ok {
					next = append(next, root)
				}
			}
			set, atRoot = dedup(next), true
			i++

		case partCombine:
			if atRoot {
				set, atRoot = r.expand(set), false
			}
			other, err := r.resolve(p.nested, queryRoot)
			if err != nil {
				return nil, err
			}
			if p.Name == engineIOr {
				set = r.sortDocumentOrder(dedup(append(slices.Clone(set), other...)))
			} else {
				set = intersect(set, other)
			}
			i++

		default:
			// A run of consecutive filter and index parts: filters first,
			// then the indices in their written order.
			if atRoot {
				set, atRoot = r.expand(set), false
			}
			j := i
			for j < len(parts) && (parts[j].kind == partFilter || parts[j].kind == partIndex) {
				j++
			}
			run := parts[i:j]
			for _, f := range run {
				if f.kind == partFilter {
					if set, err = r.filter(f, set); err != nil {
						return nil, err
					}
				}
			}
			for _, f := range run {
				if f.kind == partIndex {
					set = pickIndex(set, f.index)
				}
			}
			i = j
		}
	}

	if atRoot {
		// A selector made only of control parts matches nothing.
		return nil, nil
	}
	return set, nil
}

// expand turns a set of scopes into the elements below them.
func (r *resolver) expand(scopes []NodeID) []NodeID {
	var out []NodeID
	for _, s := range scopes {
		out = append(out, r.doc.Elements(s)...)
	}
	return dedup(out)
}

//nolint:cyclop
func (r *resolver) query(p *SelectorPart, scope NodeID) ([]NodeID, error) {
	switch p.Name {
	case engineCSS:
		ids, err := r.doc.QueryCSS(scope, p.css.expr)
		if err != nil {
			return nil, fmt.Errorf("querying css %q: %w", p.css.expr, err)
		}
		return r.filterCSSExtensions(p.css, ids), nil

	case engineXPath:
		isDoc := false
		if n, ok := r.doc.Node(scope); ok && n.Kind == DocumentNode {
			isDoc = true
		}
		ids, err := r.doc.QueryXPath(scope, relativeXPath(p.xpath, isDoc))
		if err != nil {
			return nil, fmt.Errorf("querying xpath %q: %w", p.xpath, err)
		}
		return ids, nil

	case engineText, engineITText:
		return r.textQuery(r.doc.Elements(scope), p.text), nil

	case engineRole, engineIRole:
		var out []NodeID
		for _, ax := range r.doc.AXTree(scope) {
			if p.role.match(ax) {
				out = append(out, ax.ID)
			}
		}
		return out, nil

	case engineILabel:
		var out []NodeID
		for _, ax := range r.doc.AXTree(scope) {
			if ax.Hidden {
				continue
			}
			for _, l := range ax.Labels {
				if p.text.match(normalizeWhiteSpace(l)) {
					out = append(out, ax.ID)
					break
				}
			}
		}
		return out, nil

	default:
		// attribute engines
		var out []NodeID
		for _, id := range r.doc.Elements(scope) {
			n, ok := r.doc.Node(id)
			if !ok {
				continue
			}
			if v, ok := n.Attr(p.attr.name); ok && p.attr.value.match(normalizeWhiteSpace(v)) {
				out = append(out, id)
			}
		}
		return out, nil
	}
}

// textQuery keeps the elements whose text matches while no element child's
// text does, so only the innermost element holding the text is returned.
func (r *resolver) textQuery(candidates []NodeID, m *textMatcher) []NodeID {
	var out []NodeID
	for _, id := range candidates {
		n, ok := r.doc.Node(id)
		if !ok || skipTextTag(n.Tag) || !m.match(elementText(n)) {
			continue
		}
		childMatches := false
		for _, c := range r.doc.Children(id) {
			cn, ok := r.doc.Node(c)
			if ok && !skipTextTag(cn.Tag) && m.match(elementText(cn)) {
				childMatches = true
				break
			}
		}
		if !childMatches {
			out = append(out, id)
		}
	}
	return out
}

func (r *resolver) filterCSSExtensions(q *cssQuery, ids []NodeID) []NodeID {
	if len(q.hasText) == 0 && len(q.text) == 0 && !q.visible {
		return ids
	}
	for _, m := range q.text {
		ids = r.textQuery(ids, m)
	}
	out := ids[:0:0]
	for _, id := range ids {
		n, ok := r.doc.Node(id)
		if !ok {
			continue
		}
		keep := !q.visible || isVisible(r.doc, id)
		for _, m := range q.hasText {
			keep = keep && m.match(elementText(n))
		}
		if keep {
			out = append(out, id)
		}
	}
	return out
}

func (r *resolver) filter(p *SelectorPart, set []NodeID) ([]NodeID, error) {
	out := make([]NodeID, 0, len(set))
	for _, id := range set {
		var keep bool
		switch p.Name {
		case engineVisible:
			keep = isVisible(r.doc, id) == p.visible
		case engineIHasText, engineIHasNotTxt:
			n, ok := r.doc.Node(id)
			keep = ok && p.text.match(elementText(n))
		case engineIHas, engineIHasNot:
			inner, err := r.resolve(p.nested, id)
			if err != nil {
				return nil, err
			}
			keep = len(inner) > 0
		}
		if p.negate {
			keep = !keep
		}
		if keep {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *resolver) sortDocumentOrder(ids []NodeID) []NodeID {
	slices.SortStableFunc(ids, r.doc.Compare)
	return ids
}

// match reports whether an accessibility node satisfies the role query.
func (q *roleQuery) match(ax AXNode) bool {
	if ax.Role != q.role {
		return false
	}
	if ax.Hidden && !q.includeHidden {
		return false
	}
	if q.name != nil && !q.name.match(normalizeWhiteSpace(ax.Name)) {
		return false
	}
	if q.level > 0 && ax.Level != q.level {
		return false
	}
	if q.checked != "" && ax.Checked != q.checked {
		return false
	}
	if q.pressed != "" && ax.Pressed != q.pressed {
		return false
	}
	if q.expanded != "" && ax.Expanded != q.expanded {
		return false
	}
	if q.selected != nil && ax.Selected != *q.selected {
		return false
	}
	if q.disabled != nil && ax.Disabled != *q.disabled {
		return false
	}
	return true
}

// isVisible reports whether the element has a non-empty box and isn't
// hidden by its computed style.
func isVisible(doc Document, id NodeID) bool {
	n, ok := doc.Node(id)
	if !ok || n.Hidden {
		return false
	}
	box, ok := doc.BoundingBox(id)
	return ok && !box.Empty()
}

// elementText is the normalized text the text engines match against.
func elementText(n NodeInfo) string {
	if n.Tag == "input" {
		switch strings.ToLower(n.Attrs["type"]) {
		case "button", "submit", "reset":
			if n.Value != "" {
				return normalizeWhiteSpace(n.Value)
			}
			return normalizeWhiteSpace(n.Attrs["value"])
		}
	}
	return normalizeWhiteSpace(n.Text)
}

func skipTextTag(tag string) bool {
	switch tag {
	case "head", "script", "style", "noscript", "template", "title":
		return true
	}
	return false
}

// pickIndex returns the element at i, counting from the end for negative
// indices. Out of range yields an empty set.
func pickIndex(set []NodeID, i int) []NodeID {
	if i < 0 {
		i += len(set)
	}
	if i < 0 || i >= len(set) {
		return nil
	}
	return []NodeID{set[i]}
}

// dedup removes duplicates keeping the first occurrence.
func dedup(ids []NodeID) []NodeID {
	seen := make(map[NodeID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func intersect(a, b []NodeID) []NodeID {
	in := make(map[NodeID]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	var out []NodeID
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
