package static

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/liuxd6825/autowait/common"
)

var errNotEditable = errors.New("element is not an <input>, <textarea>, <select> or [contenteditable]")

func (p *Page) state(n *html.Node) *formState {
	st, ok := p.forms[n]
	if !ok {
		st = &formState{}
		p.forms[n] = st
	}
	return st
}

func (p *Page) value(n *html.Node) string {
	if st := p.forms[n]; st != nil && st.value != nil {
		return *st.value
	}
	if n.Data == "textarea" {
		return textContent(n)
	}
	return attrOr(n, "value", "")
}

func (p *Page) checked(n *html.Node) bool {
	if st := p.forms[n]; st != nil && st.checked != nil {
		return *st.checked
	}
	return hasAttr(n, "checked")
}

func (p *Page) setChecked(n *html.Node, v bool) {
	p.state(n).checked = &v
}

func contentEditable(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if v, ok := getAttr(cur, "contenteditable"); ok {
			return v != "false"
		}
	}
	return false
}

// applyInput changes the live tree for an input. Work that must not run
// under the lock, such as navigations, is returned. It must be called with
// the lock held.
//
//nolint:cyclop
func (p *Page) applyInput(n *html.Node, a common.InputAction) ([]func(), error) {
	switch a.Kind {
	case common.InputClick, common.InputTap:
		return p.click(n), nil
	case common.InputDblclick:
		after := p.click(n)
		return append(after, p.click(n)...), nil
	case common.InputHover:
		p.hovered = n
	case common.InputFocus:
		p.focused = n
	case common.InputScroll:
	case common.InputFill:
		return nil, p.fill(n, a.Text)
	case common.InputType:
		return nil, p.typeText(n, a.Text)
	case common.InputPress:
		return p.press(n, a.Key)
	case common.InputSelectOption:
		if !isElement(n, "select") {
			return nil, errors.New("element is not a <select> element")
		}
		if len(a.Values) > 1 && !hasAttr(n, "multiple") {
			return nil, errors.New("<select> accepts a single value")
		}
		p.state(n).selected = slices.Clone(a.Values)
	case common.InputSetInputFiles:
		if !isElement(n, "input") || inputType(n) != "file" {
			return nil, errors.New("element is not an <input type=file>")
		}
		names := make([]string, 0, len(a.Files))
		for _, f := range a.Files {
			names = append(names, f.Name)
		}
		p.state(n).files = names
	case common.InputDispatchEvent:
		if a.EventType == "click" {
			return p.click(n), nil
		}
	default:
		return nil, fmt.Errorf("unsupported input %q", a.Kind)
	}
	return nil, nil
}

// click applies the default actions of a click: focus, check state,
// label activation, link following and form submission.
func (p *Page) click(n *html.Node) []func() {
	p.focused = n

	target := n
	if !isElement(n, "input", "textarea", "select", "button") {
		if l := closest(n, func(x *html.Node) bool { return isElement(x, "label") }); l != nil {
			if c := labelControl(l); c != nil {
				target = c
			}
		}
	}
	if isElement(target, "input") {
		switch inputType(target) {
		case "checkbox":
			p.setChecked(target, !p.checked(target))
			return nil
		case "radio":
			p.checkRadio(target)
			return nil
		case "submit", "image":
			return p.submit(target)
		}
	}
	if isElement(target, "button") && attrOr(target, "type", "submit") == "submit" {
		return p.submit(target)
	}
	if a := closest(n, func(x *html.Node) bool { return isElement(x, "a") && hasAttr(x, "href") }); a != nil {
		return p.follow(a)
	}
	return nil
}

// checkRadio checks r and unchecks the other radios of its group.
func (p *Page) checkRadio(r *html.Node) {
	name := attrOr(r, "name", "")
	if name != "" {
		scope := closest(r, func(x *html.Node) bool { return isElement(x, "form") })
		if scope == nil {
			scope = documentRoot(r)
		}
		for _, o := range findAll(scope, func(x *html.Node) bool {
			return isElement(x, "input") && inputType(x) == "radio" && attrOr(x, "name", "") == name
		}) {
			p.setChecked(o, false)
		}
	}
	p.setChecked(r, true)
}

func (p *Page) follow(a *html.Node) []func() {
	href := strings.TrimSpace(attrOr(a, "href", ""))
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil
	}
	u := p.resolveLocked(href)
	if attrOr(a, "target", "") == "_blank" {
		return []func(){func() {
			if _, err := p.bctx.openPopup(p, u); err != nil {
				p.logger.Warnf("static:Page:follow", "pid:%s url:%q err:%v", p.id, u, err)
			}
		}}
	}
	return []func(){func() {
		p.bctx.goAsync(func(ctx context.Context) {
			if err := p.navigate(ctx, http.MethodGet, u, nil, nil); err != nil {
				p.logger.Debugf("static:Page:follow", "pid:%s url:%q err:%v", p.id, u, err)
			}
		})
	}}
}

// submit sends the form of a submit button as a navigation.
func (p *Page) submit(button *html.Node) []func() {
	form := closest(button, func(x *html.Node) bool { return isElement(x, "form") })
	if form == nil {
		return nil
	}
	values := p.formValues(form)
	if name := attrOr(button, "name", ""); name != "" && !textInput(button) {
		values.Add(name, p.value(button))
	}
	action := p.resolveLocked(attrOr(form, "action", p.url))
	method := strings.ToUpper(attrOr(form, "method", http.MethodGet))

	var (
		body    []byte
		headers map[string]string
	)
	if method == http.MethodPost {
		body = []byte(values.Encode())
		headers = map[string]string{"content-type": "application/x-www-form-urlencoded"}
	} else {
		method = http.MethodGet
		if u, err := url.Parse(action); err == nil {
			u.RawQuery = values.Encode()
			action = u.String()
		}
	}
	return []func(){func() {
		p.bctx.goAsync(func(ctx context.Context) {
			if err := p.navigate(ctx, method, action, body, headers); err != nil {
				p.logger.Debugf("static:Page:submit", "pid:%s url:%q err:%v", p.id, action, err)
			}
		})
	}}
}

// formValues collects the successful controls of a form.
func (p *Page) formValues(form *html.Node) url.Values {
	values := url.Values{}
	for _, c := range findAll(form, func(x *html.Node) bool { return isElement(x, "input", "textarea", "select") }) {
		name := attrOr(c, "name", "")
		if name == "" || hasAttr(c, "disabled") {
			continue
		}
		switch {
		case c.Data == "select":
			for _, v := range selectedValues(c, p.forms[c]) {
				values.Add(name, v)
			}
		case c.Data == "input" && (inputType(c) == "checkbox" || inputType(c) == "radio"):
			if p.checked(c) {
				values.Add(name, attrOr(c, "value", "on"))
			}
		case c.Data == "input" && (inputType(c) == "submit" || inputType(c) == "button" || inputType(c) == "image"):
		case c.Data == "input" && inputType(c) == "file":
			if st := p.forms[c]; st != nil {
				for _, f := range st.files {
					values.Add(name, f)
				}
			}
		default:
			values.Add(name, p.value(c))
		}
	}
	return values
}

func (p *Page) resolveLocked(ref string) string {
	b, err := url.Parse(p.url)
	if err != nil || !b.IsAbs() || b.Scheme == "about" || b.Scheme == "data" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func textInput(n *html.Node) bool {
	if isElement(n, "textarea") {
		return true
	}
	if !isElement(n, "input") {
		return false
	}
	switch inputType(n) {
	case "checkbox", "radio", "file", "submit", "button", "reset", "image", "hidden", "range", "color":
		return false
	}
	return true
}

func (p *Page) fill(n *html.Node, text string) error {
	switch {
	case textInput(n):
		if inputType(n) == "number" && text != "" && strings.Trim(text, "0123456789.-+eE") != "" {
			return errors.New("cannot type text into input[type=number]")
		}
		p.state(n).value = &text
	case contentEditable(n):
		setTextContent(n, text)
	case isElement(n, "input"):
		return fmt.Errorf("input of type %q cannot be filled", inputType(n))
	default:
		return errNotEditable
	}
	p.focused = n
	return nil
}

func (p *Page) typeText(n *html.Node, text string) error {
	switch {
	case textInput(n):
		v := p.value(n) + text
		p.state(n).value = &v
	case contentEditable(n):
		setTextContent(n, textContent(n)+text)
	default:
		return errNotEditable
	}
	p.focused = n
	return nil
}

// press applies a key press. Keys may carry modifiers such as
// "Shift+A"; only the key itself is taken into account.
func (p *Page) press(n *html.Node, key string) ([]func(), error) {
	if i := strings.LastIndex(key, "+"); i > 0 && i < len(key)-1 {
		key = key[i+1:]
	}
	p.focused = n
	editable := textInput(n) || contentEditable(n)

	switch {
	case key == "Enter":
		if isElement(n, "input") && textInput(n) {
			return p.submit(n), nil
		}
		if isElement(n, "textarea") {
			return nil, p.typeText(n, "\n")
		}
		return p.click(n), nil
	case key == " " || key == "Space":
		if editable {
			return nil, p.typeText(n, " ")
		}
		return p.click(n), nil
	case key == "Backspace":
		if !editable {
			return nil, nil
		}
		r := []rune(p.editText(n))
		if len(r) > 0 {
			return nil, p.fill(n, string(r[:len(r)-1]))
		}
	case len([]rune(key)) == 1:
		if editable {
			return nil, p.typeText(n, key)
		}
	}
	return nil, nil
}

func (p *Page) editText(n *html.Node) string {
	if textInput(n) {
		return p.value(n)
	}
	return textContent(n)
}
