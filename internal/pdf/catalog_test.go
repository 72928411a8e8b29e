package pdf

import (
	"strings"
	"testing"
)

// minimalPDF builds a syntactically plausible single-xref PDF body with
// the given page objects.
func minimalPDF(pages ...string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.7\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Count " + itoa(len(pages)) + " >>\nendobj\n")
	for i, p := range pages {
		b.WriteString(itoa(i+3) + " 0 obj\n" + p + "\nendobj\n")
	}
	b.WriteString("%%EOF\n")
	return []byte(b.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestParse(t *testing.T) {
	data := minimalPDF(
		"<< /Type /Page /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /MediaBox [0 0 612 1008] >>",
		"<< /Type /Page >>",
	)

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if doc.Version != "1.7" {
		t.Errorf("Expected version 1.7, got %s", doc.Version)
	}
	if doc.PageCount != 3 {
		t.Errorf("Expected 3 pages, got %d", doc.PageCount)
	}
	want := []float64{792, 1008, 1008}
	if len(doc.PageHeights) != len(want) {
		t.Fatalf("Expected %d heights, got %v", len(want), doc.PageHeights)
	}
	for i, h := range want {
		if doc.PageHeights[i] != h {
			t.Errorf("Page %d: expected height %v, got %v", i+1, h, doc.PageHeights[i])
		}
	}
}

func TestParseCountFallback(t *testing.T) {
	// Page objects hidden in compressed streams; only the tree /Count
	// survives a plain scan.
	data := []byte("%PDF-1.5\n2 0 obj\n<< /Type /Pages /Count 42 >>\nendobj\n%%EOF\n")
	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if doc.PageCount != 42 {
		t.Errorf("Expected 42 pages from /Count, got %d", doc.PageCount)
	}
	if len(doc.PageHeights) != 42 || doc.PageHeights[0] != DefaultPageHeightPt {
		t.Errorf("Expected default heights, got %d entries", len(doc.PageHeights))
	}
}

func TestParseRejectsNonPDF(t *testing.T) {
	if _, err := Parse([]byte("GIF89a not a pdf")); err == nil {
		t.Error("Expected error for non-PDF data")
	}
}

func TestParseRejectsZeroPages(t *testing.T) {
	if _, err := Parse([]byte("%PDF-1.4\n%%EOF\n")); err == nil {
		t.Error("Expected error for PDF without pages")
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.4\n")) {
		t.Error("Expected PDF header to be detected")
	}
	if IsPDF([]byte("PK\x03\x04")) {
		t.Error("Zip data is not a PDF")
	}
}
