package static

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// declarations is a set of CSS property values.
type declarations map[string]string

type styleRule struct {
	sel   cascadia.SelectorGroup
	decls declarations
}

// parseDeclarations parses the body of a rule or a style attribute.
func parseDeclarations(s string) declarations {
	decls := declarations{}
	for _, d := range strings.Split(s, ";") {
		prop, val, ok := strings.Cut(d, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
		if prop != "" {
			decls[prop] = strings.ToLower(strings.TrimSpace(val))
		}
	}
	return decls
}

// parseStyleSheet understands flat rule lists. At-rules and rules with
// selectors cascadia can't parse are skipped.
func parseStyleSheet(css string) []styleRule {
	for {
		start := strings.Index(css, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(css[start+2:], "*/")
		if end < 0 {
			css = css[:start]
			break
		}
		css = css[:start] + css[start+2+end+2:]
	}

	var rules []styleRule
	for _, chunk := range strings.Split(css, "}") {
		selText, body, ok := strings.Cut(chunk, "{")
		if !ok {
			continue
		}
		selText = strings.TrimSpace(selText)
		if selText == "" || strings.HasPrefix(selText, "@") {
			continue
		}
		sel, err := cascadia.ParseGroup(selText)
		if err != nil {
			continue
		}
		rules = append(rules, styleRule{sel: sel, decls: parseDeclarations(body)})
	}
	return rules
}

// collectRules gathers the rules of every rendered <style> in doc.
func collectRules(doc *html.Node) []styleRule {
	var rules []styleRule
	for _, s := range findAll(doc, func(n *html.Node) bool { return isElement(n, "style") }) {
		if inert(s) {
			continue
		}
		rules = append(rules, parseStyleSheet(textContent(s))...)
	}
	return rules
}

// declaredStyle applies the matching rules in source order, then the
// style attribute.
func declaredStyle(rules []styleRule, n *html.Node) declarations {
	out := declarations{}
	for _, r := range rules {
		if r.sel.Match(n) {
			for k, v := range r.decls {
				out[k] = v
			}
		}
	}
	if s, ok := getAttr(n, "style"); ok {
		for k, v := range parseDeclarations(s) {
			out[k] = v
		}
	}
	return out
}

// length parses a CSS length in px or percent of base.
func length(v string, base float64) (float64, bool) {
	v = strings.TrimSpace(v)
	switch {
	case v == "" || v == "auto":
		return 0, false
	case strings.HasSuffix(v, "%"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return 0, false
		}
		return base * f / 100, true
	default:
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
}
