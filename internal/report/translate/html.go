package translate

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// vinTokenRe finds VIN-shaped tokens inside running text. Nodes containing a
// VIN are left untranslated and wrapped for left-to-right display, so the
// identifier survives translation and right-to-left layout intact.
var vinTokenRe = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)

// TranslateHTML translates the visible text of a report page, leaving markup,
// scripts, styles and VIN tokens untouched. For right-to-left targets the
// document is wrapped with direction attributes and a layout stylesheet.
// Degraded mirrors TranslateBatch.
func (t *Translator) TranslateHTML(ctx context.Context, doc string, target string) (string, bool) {
	if doc == "" {
		return "", false
	}

	targetLang := normalizeTarget(target)
	if targetLang == "en" {
		return doc, false
	}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc, true
	}

	textNodes := collectTextNodes(root)

	degraded := false
	if len(textNodes) > 0 {
		originals := make([]string, len(textNodes))
		for i, n := range textNodes {
			originals[i] = n.Data
		}

		translated, deg := t.TranslateBatch(ctx, originals, target)
		degraded = deg
		for i, n := range textNodes {
			n.Data = translated[i]
		}
	}

	if isKurdish(target) {
		forEachTextNode(root, func(n *html.Node) {
			if !skippedParent(n) && !vinTokenRe.MatchString(n.Data) {
				n.Data = ensureSorani(n.Data)
			}
		})
	}

	wrapVINNodes(root)

	if isRTL(target) {
		injectRTL(root, targetLang)
	}

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return doc, true
	}
	return b.String(), degraded
}

// collectTextNodes gathers translatable text nodes: visible content outside
// script/style/noscript that does not carry a VIN token.
func collectTextNodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	forEachTextNode(root, func(n *html.Node) {
		if skippedParent(n) {
			return
		}
		if !visibleText(n.Data) {
			return
		}
		if vinTokenRe.MatchString(n.Data) {
			return
		}
		nodes = append(nodes, n)
	})
	return nodes
}

func forEachTextNode(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.TextNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		forEachTextNode(c, fn)
	}
}

func skippedParent(n *html.Node) bool {
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return false
	}
	switch p.DataAtom {
	case atom.Script, atom.Style, atom.Noscript:
		return true
	}
	return false
}

// wrapVINNodes puts VIN-bearing text nodes inside <span class="vin"> so the
// stylesheet can force left-to-right monospace display.
func wrapVINNodes(root *html.Node) {
	var targets []*html.Node
	forEachTextNode(root, func(n *html.Node) {
		if skippedParent(n) {
			return
		}
		if !vinTokenRe.MatchString(n.Data) {
			return
		}
		// Already wrapped
		if p := n.Parent; p != nil && p.DataAtom == atom.Span && hasClass(p, "vin") {
			return
		}
		targets = append(targets, n)
	})

	for _, n := range targets {
		parent := n.Parent
		if parent == nil {
			continue
		}
		span := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Span,
			Data:     "span",
			Attr:     []html.Attribute{{Key: "class", Val: "vin"}},
		}
		parent.InsertBefore(span, n)
		parent.RemoveChild(n)
		span.AppendChild(n)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && a.Val == class {
			return true
		}
	}
	return false
}

// rtlStylesheet forces right-to-left layout while keeping VINs, codes and
// images readable. Kurdish gets extra line height for Arabic-script glyph
// stacking.
func rtlStylesheet(lang string) string {
	lineHeight := "1.7"
	if kurdishLangs[lang] || lang == soraniTarget {
		lineHeight = "1.9"
	}
	return `
  html, body { direction: rtl; unicode-bidi: isolate-override; }
  body { font-family: "Arial","Tahoma",sans-serif; line-height: ` + lineHeight + `; font-size: 15px; word-break: break-word; }
  table { direction: rtl; width: 100%; border-collapse: collapse; }
  td, th { text-align: right; vertical-align: top; padding: 4px; }
  img { max-width: 100%; height: auto; }
  .ltr, .vin, .code { direction: ltr; unicode-bidi: embed; font-family: "DejaVu Sans Mono","Consolas",monospace; }
`
}

// injectRTL sets lang/dir on the <html> element and prepends the layout
// stylesheet to <head>.
func injectRTL(root *html.Node, lang string) {
	htmlEl := findElement(root, atom.Html)
	if htmlEl == nil {
		return
	}

	setAttr(htmlEl, "lang", lang)
	setAttr(htmlEl, "dir", "rtl")

	head := findElement(htmlEl, atom.Head)
	if head == nil {
		head = &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
		htmlEl.InsertBefore(head, htmlEl.FirstChild)
	}

	style := &html.Node{Type: html.ElementNode, DataAtom: atom.Style, Data: "style"}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: rtlStylesheet(lang)})
	head.InsertBefore(style, head.FirstChild)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
