package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CleanedPage is the reduced representation of a tab's content handed to
// the model: noise elements stripped, semantic structure and targeting
// attributes kept, hard length cap applied.
type CleanedPage struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated"`
}

// skippedTags are removed along with their subtrees.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "embed": true, "object": true, "svg": true,
	"template": true, "link": true, "meta": true,
}

// blockTags get newline separation in the cleaned output.
var blockTags = map[string]bool{
	"div": true, "p": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "blockquote": true, "pre": true,
}

// voidTags never take a closing tag.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "hr": true,
	"img": true, "input": true, "source": true, "track": true, "wbr": true,
}

// keptAttrs lists, per tag, the attributes worth keeping for element
// targeting. Global attributes and data-* are handled separately.
var keptAttrs = map[string][]string{
	"a":        {"href", "target"},
	"img":      {"src", "alt"},
	"input":    {"name", "type", "placeholder", "value"},
	"textarea": {"name", "placeholder"},
	"select":   {"name"},
	"button":   {"type", "name"},
	"form":     {"action", "method"},
}

var globalAttrs = map[string]bool{
	"id": true, "class": true, "role": true,
	"aria-label": true, "aria-describedby": true,
}

// CleanHTML parses raw page HTML and renders the cleaned representation,
// capped at maxLength bytes of emitted content.
func CleanHTML(rawHTML string, maxLength int) (*CleanedPage, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &CleanedPage{
		Title:       findFirstText(doc, "title"),
		Description: findMetaDescription(doc),
	}

	w := &cleanWriter{limit: maxLength}
	w.walk(doc, 0)
	page.Content = strings.TrimSpace(w.out.String())
	page.Truncated = w.truncated
	return page, nil
}

// cleanWriter renders cleaned markup with a running byte budget.
type cleanWriter struct {
	out       strings.Builder
	written   int
	limit     int
	truncated bool
}

func (w *cleanWriter) walk(n *html.Node, depth int) {
	if w.truncated {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		w.writeText(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedTags[tag] {
			return
		}
		w.writeElement(n, tag, depth)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, depth)
	}
}

func (w *cleanWriter) writeElement(n *html.Node, tag string, depth int) {
	if blockTags[tag] && depth > 0 {
		w.out.WriteString("\n")
		w.out.WriteString(strings.Repeat("  ", depth))
	}

	w.out.WriteString("<" + tag)
	for _, attr := range n.Attr {
		if keepAttr(tag, strings.ToLower(attr.Key)) {
			fmt.Fprintf(&w.out, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
	}
	w.out.WriteString(">")
	w.written += len(tag) + 2

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, depth+1)
		if w.truncated {
			break
		}
	}

	if !voidTags[tag] {
		if blockTags[tag] {
			w.out.WriteString("\n")
			w.out.WriteString(strings.Repeat("  ", depth))
		}
		w.out.WriteString("</" + tag + ">")
		w.written += len(tag) + 3
	}
}

func (w *cleanWriter) writeText(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	if w.written+len(text) > w.limit {
		remaining := w.limit - w.written
		if remaining > 0 {
			w.out.WriteString(text[:remaining])
		}
		w.out.WriteString("...")
		w.written = w.limit
		w.truncated = true
		return
	}
	w.out.WriteString(text)
	w.written += len(text)
}

func keepAttr(tag, attr string) bool {
	if globalAttrs[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}
	for _, kept := range keptAttrs[tag] {
		if attr == kept {
			return true
		}
	}
	return false
}

// findFirstText returns the text content of the first element with the
// given tag name.
func findFirstText(doc *html.Node, tag string) string {
	var found string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				found = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return found
}

func findMetaDescription(doc *html.Node) string {
	var found string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var isDescription bool
			var content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name":
					isDescription = attr.Val == "description"
				case "content":
					content = attr.Val
				}
			}
			if isDescription {
				found = strings.TrimSpace(content)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return found
}
