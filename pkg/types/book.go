package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Book represents a book in the library
type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Language      string    `json:"language"` // ISO-639-1 code
	Format        string    `json:"format"`   // "epub" or "pdf"
	UploadedAt    time.Time `json:"uploaded_at"`
	SizeBytes     int64     `json:"size_bytes"`
	TotalSections int       `json:"total_sections"`
	TotalPages    int       `json:"total_pages,omitempty"` // paged formats only
	HasCover      bool      `json:"has_cover"`
}

// Section is one spine item's rendered body markup. Internal resource
// references have been rewritten to session-local blob URLs. Immutable
// after creation; the owning session revokes its blobs on close.
type Section struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// TocEntry is a node in the hierarchical table of contents. Href and
// SectionID cross-reference into the section list.
type TocEntry struct {
	ID        string     `json:"id"`
	SectionID string     `json:"section_id,omitempty"`
	Href      string     `json:"href"`
	Label     string     `json:"label"`
	Children  []TocEntry `json:"children,omitempty"`
}

// ProgressRecord is a resumable reading position. Two copies exist: a
// local cache written synchronously and a remote copy written
// best-effort. The record with the later UpdatedAt wins on reconcile.
type ProgressRecord struct {
	Location   string    `json:"location"`
	Page       int       `json:"page,omitempty"` // paged formats only
	Percentage float64   `json:"percentage"`     // 0-100
	UpdatedAt  time.Time `json:"updated_at"`
}

// Highlight anchors a verbatim text span inside a section. Anchoring is
// re-derived on every render by searching for the first literal
// occurrence of Text, never stored as a fixed offset.
type Highlight struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	SectionID string    `json:"section_id"`
	Text      string    `json:"text"`
	Color     string    `json:"color"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HighlightColors lists the accepted highlight color names.
var HighlightColors = []string{"yellow", "green", "blue", "pink", "purple"}

// ValidHighlightColor reports whether color is one of HighlightColors.
func ValidHighlightColor(color string) bool {
	for _, c := range HighlightColors {
		if c == color {
			return true
		}
	}
	return false
}

// Bookmark marks a position, not a text span.
type Bookmark struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Location  string    `json:"location"`
	Page      int       `json:"page,omitempty"` // paged formats only
	Title     string    `json:"title"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PageState tracks one page of a paged (raster) document. HeightPx
// starts as a placeholder estimate to reserve scroll space and is
// corrected once the page has actually been rendered.
type PageState struct {
	PageNumber int     `json:"page_number"`
	IsRendered bool    `json:"is_rendered"`
	HeightPx   float64 `json:"height_px"`
}

// ReaderSettings holds the per-user rendering configuration. Every
// change triggers a stylesheet regeneration and, for paged formats, a
// full raster invalidation.
type ReaderSettings struct {
	Theme        string  `json:"theme"`         // "light", "dark", "sepia"
	FontFamily   string  `json:"font_family"`
	FontSize     int     `json:"font_size"`     // 12-32 px
	LineHeight   float64 `json:"line_height"`   // 1.2-2.5
	Margins      int     `json:"margins"`       // 0-100 px
	TextAlign    string  `json:"text_align"`    // "left" or "justify"
	ContentWidth int     `json:"content_width"` // 30-95 percent of viewport
}

// DefaultSettings returns the settings applied before a user has saved any.
func DefaultSettings() ReaderSettings {
	return ReaderSettings{
		Theme:        "light",
		FontFamily:   "Georgia, serif",
		FontSize:     18,
		LineHeight:   1.6,
		Margins:      24,
		TextAlign:    "left",
		ContentWidth: 65,
	}
}

// Clamp forces all settings into their allowed ranges, replacing
// unrecognized enum values with defaults.
func (s *ReaderSettings) Clamp() {
	switch s.Theme {
	case "light", "dark", "sepia":
	default:
		s.Theme = "light"
	}
	switch s.TextAlign {
	case "left", "justify":
	default:
		s.TextAlign = "left"
	}
	if s.FontFamily == "" {
		s.FontFamily = DefaultSettings().FontFamily
	}
	s.FontSize = clampInt(s.FontSize, 12, 32)
	s.LineHeight = clampFloat(s.LineHeight, 1.2, 2.5)
	s.Margins = clampInt(s.Margins, 0, 100)
	s.ContentWidth = clampInt(s.ContentWidth, 30, 95)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Location is a decoded LocationDescriptor. The coarse form carries only
// a section id; the fine-grained form adds the scroll offset and the
// document height at save time so the offset can be rescaled against the
// current document height after a reflow.
type Location struct {
	SectionID string
	ScrollTop float64
	DocHeight float64
	Fine      bool
}

// String encodes the location as an opaque descriptor:
// "sectionID" or "sectionID:scrollTopPx:docHeightPx".
func (l Location) String() string {
	if !l.Fine {
		return l.SectionID
	}
	return fmt.Sprintf("%s:%s:%s",
		l.SectionID,
		strconv.FormatFloat(l.ScrollTop, 'f', -1, 64),
		strconv.FormatFloat(l.DocHeight, 'f', -1, 64))
}

// ParseLocation decodes a LocationDescriptor string. Section ids never
// contain ':'; the container parser rewrites ids that do.
func ParseLocation(desc string) (Location, error) {
	if desc == "" {
		return Location{}, fmt.Errorf("empty location descriptor")
	}
	parts := strings.Split(desc, ":")
	switch len(parts) {
	case 1:
		return Location{SectionID: parts[0]}, nil
	case 3:
		top, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return Location{}, fmt.Errorf("bad scroll offset in %q: %w", desc, err)
		}
		height, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Location{}, fmt.Errorf("bad document height in %q: %w", desc, err)
		}
		return Location{SectionID: parts[0], ScrollTop: top, DocHeight: height, Fine: true}, nil
	default:
		return Location{}, fmt.Errorf("malformed location descriptor: %q", desc)
	}
}
