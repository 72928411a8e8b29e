package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/beevik/etree"
	"github.com/h2non/filetype"

	"github.com/pageturn/pageturn/pkg/types"
)

// expectedMimetype is the required content of the "mimetype" entry.
const expectedMimetype = "application/epub+zip"

// SectionRef identifies one spine item. ID is the manifest item id
// (sanitized so it never contains ':', which location descriptors
// reserve as a separator); Href is the archive path of the content file.
type SectionRef struct {
	ID   string
	Href string
}

// Metadata holds the Dublin Core fields surfaced in the library list.
type Metadata struct {
	Title    string
	Author   string
	Language string
}

type manifestItem struct {
	ID         string
	Href       string // resolved against the OPF directory
	MediaType  string
	Properties string
}

// Book is a parsed EPUB container. Sections are exposed in spine order
// regardless of the order files appear inside the archive.
//
// A Book is not safe for concurrent use by multiple goroutines.
type Book struct {
	zip            *zip.Reader
	filesExact     map[string]*zip.File
	filesLower     map[string]*zip.File
	opfPath        string
	opfDir         string
	spine          []SectionRef
	sectionHref    map[string]string
	manifestByID   map[string]manifestItem
	manifestByHref map[string]manifestItem
	meta           Metadata
	toc            []types.TocEntry
	coverHref      string
	warnings       []string
}

// Open parses an EPUB container from raw bytes. It fails with a
// *ParseError when the archive is malformed or no spine item resolves to
// a file in the archive.
func Open(data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Reason: "cannot open archive", Err: err}
	}

	b := &Book{zip: zr, sectionHref: make(map[string]string)}
	b.buildFileIndex()
	b.checkMimetype()

	opfPath, err := b.locateOPF()
	if err != nil {
		return nil, err
	}
	b.opfPath = opfPath
	b.opfDir = path.Dir(opfPath)

	if err := b.parseOPF(); err != nil {
		return nil, err
	}

	if len(b.spine) == 0 {
		return nil, &ParseError{Reason: "no resolvable sections in spine"}
	}

	// TOC failures are non-fatal; a book without navigation still reads.
	if err := b.parseTOC(); err != nil {
		b.warn("table of contents unavailable: %v", err)
	}

	return b, nil
}

// Sections returns the content sections in spine order.
func (b *Book) Sections() []SectionRef {
	return append([]SectionRef(nil), b.spine...)
}

// TOC returns the hierarchical table of contents. Entries whose href
// matched a spine item carry its section id.
func (b *Book) TOC() []types.TocEntry {
	return b.toc
}

// Metadata returns the Dublin Core metadata extracted from the OPF.
func (b *Book) Metadata() Metadata {
	return b.meta
}

// Warnings returns the non-fatal problems accumulated during parsing.
func (b *Book) Warnings() []string {
	return append([]string(nil), b.warnings...)
}

// ReadSection returns the raw markup of the section with the given id.
func (b *Book) ReadSection(id string) ([]byte, error) {
	href, ok := b.sectionHref[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	return b.readFile(href)
}

// ResolveResource resolves a reference relative to the *requesting*
// section's own directory inside the archive, not the archive root, and
// returns the decoded bytes with their media type.
func (b *Book) ResolveResource(sectionID, ref string) ([]byte, string, error) {
	href, ok := b.sectionHref[sectionID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}

	target := strings.TrimSpace(ref)
	if i := strings.IndexAny(target, "#?"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return nil, "", fmt.Errorf("%w: empty reference", ErrResourceNotFound)
	}
	if decoded, err := url.PathUnescape(target); err == nil {
		target = decoded
	}

	var resolved string
	if strings.HasPrefix(target, "/") {
		resolved = path.Clean(strings.TrimPrefix(target, "/"))
	} else {
		resolved = path.Clean(path.Join(path.Dir(href), target))
	}

	data, err := b.readFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s (from %s)", ErrResourceNotFound, ref, sectionID)
	}

	return data, b.mediaTypeFor(resolved, data), nil
}

// Cover returns the cover image bytes and media type, or
// ErrResourceNotFound when the book declares no detectable cover.
func (b *Book) Cover() ([]byte, string, error) {
	if b.coverHref == "" {
		return nil, "", fmt.Errorf("%w: no cover declared", ErrResourceNotFound)
	}
	data, err := b.readFile(b.coverHref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: cover %s", ErrResourceNotFound, b.coverHref)
	}
	return data, b.mediaTypeFor(b.coverHref, data), nil
}

func (b *Book) buildFileIndex() {
	b.filesExact = make(map[string]*zip.File, len(b.zip.File))
	b.filesLower = make(map[string]*zip.File, len(b.zip.File))
	for _, f := range b.zip.File {
		if _, ok := b.filesExact[f.Name]; !ok {
			b.filesExact[f.Name] = f
		}
		lower := strings.ToLower(f.Name)
		if _, ok := b.filesLower[lower]; !ok {
			b.filesLower[lower] = f
		}
	}
}

// findFile tries an exact match first, then a case-insensitive fallback.
func (b *Book) findFile(name string) *zip.File {
	if f, ok := b.filesExact[name]; ok {
		return f
	}
	if f, ok := b.filesLower[strings.ToLower(name)]; ok {
		return f
	}
	return nil
}

func (b *Book) readFile(name string) ([]byte, error) {
	f := b.findFile(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive entry %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// checkMimetype records deviations as warnings; plenty of real books get
// this wrong and still open fine everywhere.
func (b *Book) checkMimetype() {
	data, err := b.readFile("mimetype")
	if err != nil {
		b.warn("mimetype entry missing")
		return
	}
	if strings.TrimSpace(string(data)) != expectedMimetype {
		b.warn("unexpected mimetype: %q", strings.TrimSpace(string(data)))
	}
}

// locateOPF reads META-INF/container.xml and returns the rootfile path.
func (b *Book) locateOPF() (string, error) {
	data, err := b.readFile("META-INF/container.xml")
	if err != nil {
		return "", &ParseError{Reason: "META-INF/container.xml missing", Err: err}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", &ParseError{Reason: "malformed container.xml", Err: err}
	}

	for _, el := range doc.FindElements("//rootfile") {
		if p := el.SelectAttrValue("full-path", ""); p != "" {
			return p, nil
		}
	}
	return "", &ParseError{Reason: "container.xml declares no rootfile"}
}

// parseOPF extracts metadata, the manifest, and the spine reading order.
func (b *Book) parseOPF() error {
	data, err := b.readFile(b.opfPath)
	if err != nil {
		return &ParseError{Reason: fmt.Sprintf("OPF file %s missing", b.opfPath), Err: err}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return &ParseError{Reason: "malformed OPF", Err: err}
	}

	root := doc.Root()
	if root == nil {
		return &ParseError{Reason: "empty OPF document"}
	}

	b.parseMetadata(root)
	b.parseManifest(root)
	b.parseSpine(root)
	b.detectCover(root)

	return nil
}

func (b *Book) parseMetadata(root *etree.Element) {
	meta := root.SelectElement("metadata")
	if meta == nil {
		b.warn("OPF has no metadata element")
		return
	}
	for _, el := range meta.ChildElements() {
		switch el.Tag {
		case "title":
			if b.meta.Title == "" {
				b.meta.Title = strings.TrimSpace(el.Text())
			}
		case "creator":
			if b.meta.Author == "" {
				b.meta.Author = strings.TrimSpace(el.Text())
			}
		case "language":
			if b.meta.Language == "" {
				b.meta.Language = strings.TrimSpace(el.Text())
			}
		}
	}
}

func (b *Book) parseManifest(root *etree.Element) {
	b.manifestByID = make(map[string]manifestItem)
	b.manifestByHref = make(map[string]manifestItem)

	manifest := root.SelectElement("manifest")
	if manifest == nil {
		return
	}
	for _, el := range manifest.SelectElements("item") {
		id := el.SelectAttrValue("id", "")
		href := el.SelectAttrValue("href", "")
		if id == "" || href == "" {
			continue
		}
		if decoded, err := url.PathUnescape(href); err == nil {
			href = decoded
		}
		item := manifestItem{
			ID:         id,
			Href:       b.resolveOPFPath(href),
			MediaType:  el.SelectAttrValue("media-type", ""),
			Properties: el.SelectAttrValue("properties", ""),
		}
		b.manifestByID[id] = item
		b.manifestByHref[item.Href] = item
	}
}

// parseSpine builds the reading order. Spine items whose content file is
// missing from the archive are dropped with a warning rather than
// failing the whole book.
func (b *Book) parseSpine(root *etree.Element) {
	spine := root.SelectElement("spine")
	if spine == nil {
		return
	}
	for _, el := range spine.SelectElements("itemref") {
		idref := el.SelectAttrValue("idref", "")
		item, ok := b.manifestByID[idref]
		if !ok {
			b.warn("spine references unknown manifest item %q", idref)
			continue
		}
		if b.findFile(item.Href) == nil {
			b.warn("spine item %q points at missing file %s", idref, item.Href)
			continue
		}
		id := sanitizeSectionID(idref)
		if id != idref {
			b.warn("section id %q contains reserved characters, using %q", idref, id)
		}
		b.spine = append(b.spine, SectionRef{ID: id, Href: item.Href})
		b.sectionHref[id] = item.Href
	}
}

// detectCover handles both conventions: the EPUB3 cover-image manifest
// property and the EPUB2 <meta name="cover" content="item-id"/> element.
func (b *Book) detectCover(root *etree.Element) {
	for _, item := range b.manifestByID {
		if strings.Contains(item.Properties, "cover-image") {
			b.coverHref = item.Href
			return
		}
	}
	meta := root.SelectElement("metadata")
	if meta == nil {
		return
	}
	for _, el := range meta.SelectElements("meta") {
		if el.SelectAttrValue("name", "") == "cover" {
			if item, ok := b.manifestByID[el.SelectAttrValue("content", "")]; ok {
				b.coverHref = item.Href
			}
			return
		}
	}
}

func (b *Book) resolveOPFPath(href string) string {
	if href == "" {
		return ""
	}
	if b.opfDir == "." {
		return path.Clean(href)
	}
	return path.Clean(path.Join(b.opfDir, href))
}

func (b *Book) mediaTypeFor(href string, data []byte) string {
	if item, ok := b.manifestByHref[href]; ok && item.MediaType != "" {
		return item.MediaType
	}
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if mt := mime.TypeByExtension(path.Ext(href)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (b *Book) warn(format string, args ...interface{}) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// sanitizeSectionID strips the characters location descriptors reserve.
func sanitizeSectionID(id string) string {
	return strings.ReplaceAll(id, ":", "-")
}
