// Package render converts parsed container sections into sanitized,
// styleable markup with internal resource references rewritten to
// session-local blob URLs.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/pageturn/pageturn/pkg/types"
)

// NamespaceClass scopes every rendered section so the generated
// stylesheet can override document-embedded CSS by specificity.
const NamespaceClass = "pt-section"

// SectionRenderError means a single section's document failed to parse.
// The section is skipped; the load continues with the remaining ones.
type SectionRenderError struct {
	SectionID string
	Err       error
}

func (e *SectionRenderError) Error() string {
	return fmt.Sprintf("render: section %s: %v", e.SectionID, e.Err)
}

func (e *SectionRenderError) Unwrap() error {
	return e.Err
}

// ResourceResolver resolves a reference relative to the requesting
// section. Implemented by epub.Book.
type ResourceResolver interface {
	ResolveResource(sectionID, ref string) ([]byte, string, error)
}

// BlobSink mints a locally-resolvable URL for decoded resource bytes.
// The sink's owner is responsible for revoking everything it minted.
type BlobSink interface {
	AddBlob(data []byte, mediaType string) (url string)
}

// Renderer turns one parsed section into a types.Section.
type Renderer struct {
	resolver ResourceResolver
	blobs    BlobSink
}

// NewRenderer creates a renderer over the given resolver and blob sink.
func NewRenderer(resolver ResourceResolver, blobs BlobSink) *Renderer {
	return &Renderer{resolver: resolver, blobs: blobs}
}

// Render sanitizes the section markup, rewrites image references to blob
// URLs, and wraps the result under the namespace class. A single broken
// image never fails the section; its warning is returned instead.
func (r *Renderer) Render(sectionID string, markup []byte) (*types.Section, []string, error) {
	doc, err := html.Parse(bytes.NewReader(markup))
	if err != nil {
		return nil, nil, &SectionRenderError{SectionID: sectionID, Err: err}
	}

	body := findBody(doc)
	if body == nil {
		return nil, nil, &SectionRenderError{SectionID: sectionID, Err: fmt.Errorf("document has no body")}
	}

	sanitizeChildren(body)
	warnings := r.rewriteImages(sectionID, body)

	wrapper := &html.Node{
		Type: html.ElementNode,
		Data: "div",
		Attr: []html.Attribute{
			{Key: "class", Val: NamespaceClass},
			{Key: "data-section-id", Val: sectionID},
		},
	}
	for c := body.FirstChild; c != nil; {
		next := c.NextSibling
		body.RemoveChild(c)
		wrapper.AppendChild(c)
		c = next
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, wrapper); err != nil {
		return nil, nil, &SectionRenderError{SectionID: sectionID, Err: err}
	}

	return &types.Section{ID: sectionID, HTML: buf.String()}, warnings, nil
}

// rewriteImages replaces every relative img src with a freshly minted
// blob URL, keeping the original reference on data-original-src.
// Resolution failures leave the element untouched.
func (r *Renderer) rewriteImages(sectionID string, root *html.Node) []string {
	var warnings []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			if w := r.rewriteImage(sectionID, n); w != "" {
				warnings = append(warnings, w)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return warnings
}

func (r *Renderer) rewriteImage(sectionID string, img *html.Node) string {
	var src string
	srcIdx := -1
	for i, a := range img.Attr {
		if a.Key == "src" {
			src = a.Val
			srcIdx = i
			break
		}
	}
	if srcIdx < 0 || src == "" || isAbsoluteRef(src) {
		return ""
	}

	data, mediaType, err := r.resolver.ResolveResource(sectionID, src)
	if err != nil {
		// Best-effort: the original reference stays in place.
		return fmt.Sprintf("section %s: image %s: %v", sectionID, src, err)
	}

	img.Attr[srcIdx].Val = r.blobs.AddBlob(data, mediaType)
	img.Attr = append(img.Attr, html.Attribute{Key: "data-original-src", Val: src})
	return ""
}

// isAbsoluteRef reports whether the reference already points outside the
// archive and must not be resolved against it.
func isAbsoluteRef(ref string) bool {
	v := strings.ToLower(ref)
	return strings.HasPrefix(v, "http://") ||
		strings.HasPrefix(v, "https://") ||
		strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "blob:") ||
		strings.HasPrefix(v, "//")
}

func findBody(doc *html.Node) *html.Node {
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
	return body
}
