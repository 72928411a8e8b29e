package render

import (
	"strings"

	"golang.org/x/net/html"
)

// Container-provided markup is untrusted. The allow-list covers the
// tag/attribute set document content actually uses: text formatting,
// images, links, tables, lists, figures.
var allowedTags = map[string]bool{
	"a": true, "abbr": true, "article": true, "aside": true,
	"b": true, "blockquote": true, "br": true,
	"caption": true, "cite": true, "code": true, "col": true, "colgroup": true,
	"dd": true, "del": true, "dfn": true, "div": true, "dl": true, "dt": true,
	"em": true, "figcaption": true, "figure": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "i": true, "img": true, "ins": true, "kbd": true,
	"li": true, "mark": true, "ol": true, "p": true, "pre": true,
	"q": true, "s": true, "samp": true, "section": true, "small": true,
	"span": true, "strong": true, "sub": true, "sup": true,
	"table": true, "tbody": true, "td": true, "tfoot": true, "th": true,
	"thead": true, "tr": true, "u": true, "ul": true, "var": true, "wbr": true,
}

// dropTags are removed together with their entire subtree.
var dropTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true,
	"embed": true, "form": true, "input": true, "button": true,
	"select": true, "textarea": true, "video": true, "audio": true,
	"link": true, "meta": true, "base": true, "noscript": true,
	"canvas": true, "svg": true, "math": true, "template": true,
}

var globalAttrs = map[string]bool{
	"id": true, "lang": true, "dir": true, "title": true, "class": true,
}

var tagAttrs = map[string]map[string]bool{
	"a":          {"href": true},
	"img":        {"src": true, "alt": true, "width": true, "height": true},
	"ol":         {"start": true, "type": true},
	"td":         {"colspan": true, "rowspan": true},
	"th":         {"colspan": true, "rowspan": true, "scope": true},
	"blockquote": {"cite": true},
	"col":        {"span": true},
	"colgroup":   {"span": true},
}

// sanitizeChildren filters the children of n in place: allowed elements
// keep their filtered attributes, unknown harmless elements are unwrapped
// into their children, and dangerous elements are dropped wholesale.
func sanitizeChildren(n *html.Node) {
	c := n.FirstChild
	for c != nil {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
			// always kept
		case html.ElementNode:
			name := strings.ToLower(c.Data)
			switch {
			case dropTags[name]:
				n.RemoveChild(c)
			case allowedTags[name]:
				c.Attr = sanitizeAttrs(name, c.Attr)
				sanitizeChildren(c)
			default:
				// Unknown element: hoist its children in its place.
				sanitizeChildren(c)
				unwrap(n, c)
			}
		default:
			// comments, doctypes, raw nodes
			n.RemoveChild(c)
		}
		c = next
	}
}

func sanitizeAttrs(tag string, attrs []html.Attribute) []html.Attribute {
	perTag := tagAttrs[tag]
	out := attrs[:0]
	for _, a := range attrs {
		if a.Namespace != "" {
			continue
		}
		key := strings.ToLower(a.Key)
		if !globalAttrs[key] && (perTag == nil || !perTag[key]) {
			continue
		}
		if key == "href" || key == "src" {
			if !safeURL(a.Val) {
				continue
			}
		}
		a.Key = key
		out = append(out, a)
	}
	return out
}

// safeURL rejects script-bearing URL schemes.
func safeURL(raw string) bool {
	v := strings.TrimSpace(strings.ToLower(raw))
	for _, scheme := range []string{"javascript:", "vbscript:", "file:"} {
		if strings.HasPrefix(v, scheme) {
			return false
		}
	}
	if strings.HasPrefix(v, "data:") && !strings.HasPrefix(v, "data:image/") {
		return false
	}
	return true
}

// unwrap replaces child with its own children under parent.
func unwrap(parent, child *html.Node) {
	for gc := child.FirstChild; gc != nil; {
		next := gc.NextSibling
		child.RemoveChild(gc)
		parent.InsertBefore(gc, child)
		gc = next
	}
	parent.RemoveChild(child)
}
