package epub

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"

	"github.com/pageturn/pageturn/pkg/types"
)

// parseTOC prefers the EPUB3 nav document and falls back to the EPUB2
// NCX. Either source produces the same TocEntry tree.
func (b *Book) parseTOC() error {
	if navItem, ok := b.findNavItem(); ok {
		toc, err := b.parseNavDoc(navItem)
		if err == nil && len(toc) > 0 {
			b.toc = toc
			return nil
		}
		if err != nil {
			b.warn("nav document unreadable, trying NCX: %v", err)
		}
	}

	ncxItem, ok := b.findNCXItem()
	if !ok {
		return fmt.Errorf("no nav document or NCX in manifest")
	}
	toc, err := b.parseNCX(ncxItem)
	if err != nil {
		return err
	}
	b.toc = toc
	return nil
}

func (b *Book) findNavItem() (manifestItem, bool) {
	for _, item := range b.manifestByID {
		for _, prop := range strings.Fields(item.Properties) {
			if prop == "nav" {
				return item, true
			}
		}
	}
	return manifestItem{}, false
}

func (b *Book) findNCXItem() (manifestItem, bool) {
	for _, item := range b.manifestByID {
		if item.MediaType == "application/x-dtbncx+xml" {
			return item, true
		}
	}
	return manifestItem{}, false
}

// parseNavDoc extracts the toc nav's nested ol/li/a structure.
func (b *Book) parseNavDoc(item manifestItem) ([]types.TocEntry, error) {
	data, err := b.readFile(item.Href)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nav document: %w", err)
	}

	nav := findTocNav(doc)
	if nav == nil {
		return nil, fmt.Errorf("nav document has no toc nav element")
	}

	list := findChildElement(nav, "ol")
	if list == nil {
		return nil, fmt.Errorf("toc nav has no list")
	}

	counter := 0
	return b.navListEntries(list, path.Dir(item.Href), "toc", &counter), nil
}

// findTocNav returns the first <nav> marked epub:type="toc", or the
// first <nav> at all when none is marked.
func findTocNav(n *html.Node) *html.Node {
	var first, marked *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if marked != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "nav" {
			if first == nil {
				first = n
			}
			for _, a := range n.Attr {
				if (a.Key == "epub:type" || a.Key == "type") && a.Val == "toc" {
					marked = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	if marked != nil {
		return marked
	}
	return first
}

func findChildElement(n *html.Node, name string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

func (b *Book) navListEntries(list *html.Node, baseDir, idPrefix string, counter *int) []types.TocEntry {
	var entries []types.TocEntry
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}

		*counter++
		entry := types.TocEntry{ID: fmt.Sprintf("%s-%d", idPrefix, *counter)}

		if a := findChildElement(li, "a"); a != nil {
			entry.Label = strings.TrimSpace(textContent(a))
			for _, attr := range a.Attr {
				if attr.Key == "href" {
					entry.Href = attr.Val
					entry.SectionID = b.sectionIDForHref(attr.Val, baseDir)
				}
			}
		} else if span := findChildElement(li, "span"); span != nil {
			entry.Label = strings.TrimSpace(textContent(span))
		}

		if sub := findChildElement(li, "ol"); sub != nil {
			entry.Children = b.navListEntries(sub, baseDir, entry.ID, counter)
		}

		if entry.Label != "" || len(entry.Children) > 0 {
			entries = append(entries, entry)
		}
	}
	return entries
}

func textContent(n *html.Node) string {
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
	walk(n)
	return sb.String()
}

// parseNCX walks the navMap/navPoint tree of an EPUB2 NCX document.
func (b *Book) parseNCX(item manifestItem) ([]types.TocEntry, error) {
	data, err := b.readFile(item.Href)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse NCX: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty NCX document")
	}
	navMap := root.SelectElement("navMap")
	if navMap == nil {
		return nil, fmt.Errorf("NCX has no navMap")
	}

	counter := 0
	return b.ncxPoints(navMap, path.Dir(item.Href), "toc", &counter), nil
}

func (b *Book) ncxPoints(parent *etree.Element, baseDir, idPrefix string, counter *int) []types.TocEntry {
	var entries []types.TocEntry
	for _, np := range parent.SelectElements("navPoint") {
		*counter++
		entry := types.TocEntry{ID: fmt.Sprintf("%s-%d", idPrefix, *counter)}

		if label := np.SelectElement("navLabel"); label != nil {
			if text := label.SelectElement("text"); text != nil {
				entry.Label = strings.TrimSpace(text.Text())
			}
		}
		if content := np.SelectElement("content"); content != nil {
			entry.Href = content.SelectAttrValue("src", "")
			entry.SectionID = b.sectionIDForHref(entry.Href, baseDir)
		}

		entry.Children = b.ncxPoints(np, baseDir, entry.ID, counter)

		if entry.Label != "" || len(entry.Children) > 0 {
			entries = append(entries, entry)
		}
	}
	return entries
}

// sectionIDForHref maps a TOC href (relative to the TOC document's own
// directory) onto the spine section it points into, ignoring fragments.
func (b *Book) sectionIDForHref(href, baseDir string) string {
	if href == "" {
		return ""
	}
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}

	var resolved string
	if strings.HasPrefix(href, "/") {
		resolved = path.Clean(strings.TrimPrefix(href, "/"))
	} else if baseDir == "." {
		resolved = path.Clean(href)
	} else {
		resolved = path.Clean(path.Join(baseDir, href))
	}

	item, ok := b.manifestByHref[resolved]
	if !ok {
		return ""
	}
	// The spine uses sanitized ids.
	id := sanitizeSectionID(item.ID)
	if _, ok := b.sectionHref[id]; !ok {
		return ""
	}
	return id
}
