// Package pdf extracts the page catalog of a PDF file: page count and
// per-page media box heights. It does not decode content streams; page
// images come from the rasterizer.
package pdf

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// DefaultPageHeightPt is used when a page carries no usable media box.
// US Letter height in PDF points.
const DefaultPageHeightPt = 792.0

var (
	headerRe   = regexp.MustCompile(`%PDF-(\d+\.\d+)`)
	pageObjRe  = regexp.MustCompile(`/Type\s*/Page[^s]`)
	countRe    = regexp.MustCompile(`/Count\s+(\d+)`)
	mediaBoxRe = regexp.MustCompile(`/MediaBox\s*\[\s*(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s*\]`)
)

// Document is the parsed catalog of a PDF file.
type Document struct {
	Version     string
	PageCount   int
	PageHeights []float64 // media box heights in points, one per page
}

// Parse scans the file for its page catalog. The header must appear in
// the first kilobyte.
func Parse(data []byte) (*Document, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return nil, fmt.Errorf("pdf: missing file header")
	}

	doc := &Document{Version: string(m[1])}
	doc.PageCount = countPages(data)
	if doc.PageCount == 0 {
		return nil, fmt.Errorf("pdf: no pages found")
	}
	doc.PageHeights = pageHeights(data, doc.PageCount)
	return doc, nil
}

// countPages counts page objects directly and falls back to the largest
// /Count entry in the page tree when the direct count looks off.
func countPages(data []byte) int {
	direct := len(pageObjRe.FindAll(data, -1))

	maxCount := 0
	for _, m := range countRe.FindAllSubmatch(data, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > maxCount {
			maxCount = n
		}
	}

	if direct > 0 {
		return direct
	}
	return maxCount
}

// pageHeights pulls the media box heights in document order. Pages
// without their own media box inherit the last seen one, matching the
// PDF inheritance rule closely enough for scroll space estimation.
func pageHeights(data []byte, pages int) []float64 {
	heights := make([]float64, 0, pages)
	last := DefaultPageHeightPt

	for _, m := range mediaBoxRe.FindAllSubmatch(data, -1) {
		y1, err1 := strconv.ParseFloat(string(m[2]), 64)
		y2, err2 := strconv.ParseFloat(string(m[4]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		h := y2 - y1
		if h <= 0 {
			continue
		}
		last = h
		heights = append(heights, h)
		if len(heights) == pages {
			break
		}
	}

	for len(heights) < pages {
		heights = append(heights, last)
	}
	return heights
}

// IsPDF reports whether the data starts with a PDF header.
func IsPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}
