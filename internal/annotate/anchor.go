// Package annotate re-anchors highlights into rendered section markup.
//
// Anchors are re-derived on every render by searching for the first
// literal occurrence of the highlighted text, never stored as fixed
// offsets. Repeated identical phrases therefore anchor to the first
// occurrence only; in exchange the anchor survives any reflow.
package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/pageturn/pageturn/pkg/types"
)

// MarkerClass is the class carried by every injected highlight marker.
const MarkerClass = "pt-highlight"

// ErrAnchorFailed means the selection could not be wrapped, typically
// because the match spans an element boundary and no single text node
// contains it. The highlight record is still persisted.
var ErrAnchorFailed = errors.New("annotate: highlight could not be anchored")

// ErrNotInSection means the text is not a verbatim substring of the
// section's text content, so the highlight is rejected at creation.
var ErrNotInSection = errors.New("annotate: text not found in section")

// NewHighlight validates and builds a highlight record. Text must be a
// verbatim substring of the rendered section's text content.
func NewHighlight(bookID, sectionID, sectionHTML, text, color string) (*types.Highlight, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("annotate: empty selection")
	}
	if !types.ValidHighlightColor(color) {
		return nil, fmt.Errorf("annotate: unknown color %q", color)
	}
	if !strings.Contains(TextContent(sectionHTML), text) {
		return nil, ErrNotInSection
	}

	return &types.Highlight{
		ID:        uuid.NewString(),
		BookID:    bookID,
		SectionID: sectionID,
		Text:      text,
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// TextContent returns the concatenated text nodes of the markup.
func TextContent(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// Apply injects marker elements for every highlight belonging to the
// section and returns the updated markup plus the ids that could not be
// anchored. It must run after every (re)render because re-rendering
// destroys previously injected markers. Calling it twice on the same
// markup is a no-op for already-anchored highlights.
func Apply(section *types.Section, highlights []types.Highlight) (failed []string) {
	relevant := make([]types.Highlight, 0, len(highlights))
	for _, h := range highlights {
		if h.SectionID == section.ID {
			relevant = append(relevant, h)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(section.HTML))
	if err != nil {
		for _, h := range relevant {
			failed = append(failed, h.ID)
		}
		return failed
	}
	root := bodyOf(doc)

	changed := false
	for _, h := range relevant {
		if findMarker(root, h.ID) != nil {
			continue // already applied; do not double-wrap
		}
		if wrapFirstMatch(root, h) {
			changed = true
		} else {
			failed = append(failed, h.ID)
		}
	}

	if changed {
		var buf bytes.Buffer
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&buf, c); err != nil {
				return failed
			}
		}
		section.HTML = buf.String()
	}
	return failed
}

// Remove unwraps the marker for a highlight id, splicing its text back
// into the surrounding markup. A missing marker is a no-op.
func Remove(section *types.Section, highlightID string) {
	doc, err := html.Parse(strings.NewReader(section.HTML))
	if err != nil {
		return
	}
	root := bodyOf(doc)

	marker := findMarker(root, highlightID)
	if marker == nil {
		return
	}
	parent := marker.Parent
	for c := marker.FirstChild; c != nil; {
		next := c.NextSibling
		marker.RemoveChild(c)
		parent.InsertBefore(c, marker)
		c = next
	}
	parent.RemoveChild(marker)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return
		}
	}
	section.HTML = buf.String()
}

// SetColor rewrites the marker's data-color attribute in place. A
// missing marker is a no-op; the stored record is the source of truth
// and the marker catches up on the next Apply.
func SetColor(section *types.Section, highlightID, color string) {
	doc, err := html.Parse(strings.NewReader(section.HTML))
	if err != nil {
		return
	}
	root := bodyOf(doc)

	marker := findMarker(root, highlightID)
	if marker == nil {
		return
	}
	for i, a := range marker.Attr {
		if a.Key == "data-color" {
			marker.Attr[i].Val = color
		}
	}

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return
		}
	}
	section.HTML = buf.String()
}

func findMarker(root *html.Node, highlightID string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "mark" {
			for _, a := range n.Attr {
				if a.Key == "data-highlight-id" && a.Val == highlightID {
					found = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// wrapFirstMatch finds the first text node in document order containing
// the literal highlight text, splits it at the match boundaries, and
// wraps the match in a marker element. Returns false when no single
// text node holds the whole match.
func wrapFirstMatch(root *html.Node, h types.Highlight) bool {
	node := findTextNode(root, h.Text)
	if node == nil {
		return false
	}

	idx := strings.Index(node.Data, h.Text)
	before := node.Data[:idx]
	after := node.Data[idx+len(h.Text):]
	parent := node.Parent

	marker := &html.Node{
		Type: html.ElementNode,
		Data: "mark",
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: "data-highlight-id", Val: h.ID},
			{Key: "data-color", Val: h.Color},
		},
	}
	marker.AppendChild(&html.Node{Type: html.TextNode, Data: h.Text})

	if before != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, node)
	}
	parent.InsertBefore(marker, node)
	if after != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, node)
	}
	parent.RemoveChild(node)
	return true
}

// findTextNode returns the first text node containing the literal text,
// skipping nodes already wrapped in a highlight marker.
func findTextNode(root *html.Node, text string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.TextNode && strings.Contains(n.Data, text) && !insideMarker(n) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func insideMarker(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "mark" && hasClass(p, MarkerClass) {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func bodyOf(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "body" {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if body == nil {
		return doc
	}
	return body
}
