package reader

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/pageturn/pageturn/internal/fetch"
	"github.com/pageturn/pageturn/internal/position"
	"github.com/pageturn/pageturn/internal/progress"
	"github.com/pageturn/pageturn/internal/raster"
	"github.com/pageturn/pageturn/internal/storage"
	"github.com/pageturn/pageturn/internal/store"
	"github.com/pageturn/pageturn/pkg/types"
)

func buildEpub(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": `<?xml version="1.0"?><container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Service Test Book</dc:title>
    <dc:creator>Author</dc:creator>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="pic" href="images/pic.png" media-type="image/png"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`,
		"OEBPS/ch1.xhtml":      `<html><body><p>First chapter prose with a marked passage inside.</p><img src="images/pic.png"/></body></html>`,
		"OEBPS/ch2.xhtml":      `<html><body><p>Second chapter text.</p></body></html>`,
		"OEBPS/images/pic.png": "fake png bytes",
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to build archive: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write archive entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close archive: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	service *Service
	repo    store.Repository
	bridge  *progress.Bridge
	adapter storage.Adapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	repo := store.NewRepository(adapter)
	cache, err := progress.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	bridge := progress.NewBridge(cache, repo)
	cfg := types.ReaderConfig{
		ProgressDebounceMs:    20,
		RestoreSettleMs:       50,
		SectionTopThresholdPx: 100,
		PageHeightEstimatePx:  1100,
		FetchRetries:          2,
	}
	fetcher := fetch.NewFetcher(adapter, cfg.FetchRetries)
	return &testEnv{
		service: NewService(repo, fetcher, bridge, adapter, cfg),
		repo:    repo,
		bridge:  bridge,
		adapter: adapter,
	}
}

func (e *testEnv) addEpubBook(t *testing.T, bookID string, data []byte) {
	t.Helper()
	ctx := context.Background()
	book := &types.Book{ID: bookID, Title: "T", Format: "epub", UploadedAt: time.Now()}
	if err := e.repo.SaveBook(ctx, book); err != nil {
		t.Fatalf("Failed to save book: %v", err)
	}
	if err := e.repo.SaveRawFile(ctx, bookID, data, "epub"); err != nil {
		t.Fatalf("Failed to save raw file: %v", err)
	}
}

func (e *testEnv) addPDFBook(t *testing.T, bookID string, pages int) {
	t.Helper()
	ctx := context.Background()
	book := &types.Book{ID: bookID, Title: "P", Format: "pdf", TotalPages: pages, UploadedAt: time.Now()}
	if err := e.repo.SaveBook(ctx, book); err != nil {
		t.Fatalf("Failed to save book: %v", err)
	}

	var pdfBody strings.Builder
	pdfBody.WriteString("%PDF-1.7\n")
	for i := 0; i < pages; i++ {
		pdfBody.WriteString("<< /Type /Page /MediaBox [0 0 612 792] >>\n")
	}
	if err := e.repo.SaveRawFile(ctx, bookID, []byte(pdfBody.String()), "pdf"); err != nil {
		t.Fatalf("Failed to save raw file: %v", err)
	}

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 60))); err != nil {
		t.Fatalf("Failed to encode page bitmap: %v", err)
	}
	for i := 1; i <= pages; i++ {
		p := "books/" + bookID + "/pages/page-" + itoa(i) + ".png"
		if err := e.adapter.Put(ctx, p, bytes.NewReader(img.Bytes())); err != nil {
			t.Fatalf("Failed to store page bitmap: %v", err)
		}
	}
}

func itoa(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return itoa(n/10) + string(digits[n%10])
}

func TestOpenEpubSession(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))

	session, err := env.service.Open(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer env.service.Close(session.ID)

	if session.Status() != "ready" {
		t.Errorf("Expected ready, got %s", session.Status())
	}
	sections := session.Sections()
	if len(sections) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(sections))
	}
	if sections[0].ID != "ch1" || sections[1].ID != "ch2" {
		t.Errorf("Sections out of order: %s, %s", sections[0].ID, sections[1].ID)
	}

	// The chapter image was minted as a session blob.
	if session.Blobs.Len() != 1 {
		t.Errorf("Expected 1 blob, got %d", session.Blobs.Len())
	}
	if !strings.Contains(sections[0].HTML, "/sessions/"+session.ID+"/blobs/") {
		t.Errorf("Image src not rewritten: %s", sections[0].HTML)
	}

	if _, ok := env.service.Get(session.ID); !ok {
		t.Error("Session should be registered")
	}
}

func TestOpenAppliesStoredHighlights(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))

	h := &types.Highlight{
		ID: "h1", BookID: "b1", SectionID: "ch1",
		Text: "marked passage", Color: "green", CreatedAt: time.Now(),
	}
	if err := env.repo.SaveHighlight(context.Background(), h); err != nil {
		t.Fatalf("Failed to seed highlight: %v", err)
	}

	session, err := env.service.Open(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer env.service.Close(session.ID)

	sec, _ := session.Section("ch1")
	if !strings.Contains(sec.HTML, `data-highlight-id="h1"`) {
		t.Errorf("Stored highlight not applied: %s", sec.HTML)
	}
}

func TestCreateHighlight(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))
	ctx := context.Background()

	session, err := env.service.Open(ctx, "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer env.service.Close(session.ID)

	h, warning, err := env.service.CreateHighlight(ctx, session, "ch1", "chapter prose", "yellow")
	if err != nil {
		t.Fatalf("Failed to create highlight: %v", err)
	}
	if warning != "" {
		t.Errorf("Unexpected warning: %s", warning)
	}

	sec, _ := session.Section("ch1")
	if !strings.Contains(sec.HTML, `data-highlight-id="`+h.ID+`"`) {
		t.Errorf("Highlight not anchored: %s", sec.HTML)
	}

	// Persisted too.
	hs, err := env.repo.ListHighlights(ctx, "b1")
	if err != nil || len(hs) != 1 {
		t.Fatalf("Expected 1 stored highlight, got %d (err=%v)", len(hs), err)
	}

	if err := env.service.DeleteHighlight(ctx, session, h.ID); err != nil {
		t.Fatalf("Failed to delete highlight: %v", err)
	}
	sec, _ = session.Section("ch1")
	if strings.Contains(sec.HTML, "<mark") {
		t.Errorf("Marker should be unwrapped after delete: %s", sec.HTML)
	}
}

func TestUpdateHighlight(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))
	ctx := context.Background()

	session, err := env.service.Open(ctx, "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer env.service.Close(session.ID)

	h, _, err := env.service.CreateHighlight(ctx, session, "ch1", "chapter prose", "yellow")
	if err != nil {
		t.Fatalf("Failed to create highlight: %v", err)
	}

	note := "reread this"
	updated, err := env.service.UpdateHighlight(ctx, session, h.ID, "pink", &note)
	if err != nil {
		t.Fatalf("Failed to update highlight: %v", err)
	}
	if updated.Color != "pink" || updated.Note != "reread this" {
		t.Errorf("Update not applied: %+v", updated)
	}

	sec, _ := session.Section("ch1")
	if !strings.Contains(sec.HTML, `data-color="pink"`) {
		t.Errorf("Marker color not updated in session markup: %s", sec.HTML)
	}

	stored, err := env.repo.GetHighlight(ctx, "b1", h.ID)
	if err != nil || stored.Color != "pink" || stored.Note != "reread this" {
		t.Errorf("Stored record not updated: %+v (err=%v)", stored, err)
	}

	// A nil note leaves the saved note alone.
	if updated, err = env.service.UpdateHighlight(ctx, session, h.ID, "blue", nil); err != nil {
		t.Fatalf("Failed to update color only: %v", err)
	}
	if updated.Note != "reread this" {
		t.Errorf("Nil note must not touch the stored note: %+v", updated)
	}

	// An explicit empty note clears it.
	empty := ""
	if updated, err = env.service.UpdateHighlight(ctx, session, h.ID, "", &empty); err != nil {
		t.Fatalf("Failed to clear note: %v", err)
	}
	if updated.Note != "" {
		t.Errorf("Empty note should clear the stored note: %+v", updated)
	}
	if stored, err = env.repo.GetHighlight(ctx, "b1", h.ID); err != nil || stored.Note != "" {
		t.Errorf("Cleared note not persisted: %+v (err=%v)", stored, err)
	}

	if _, err := env.service.UpdateHighlight(ctx, session, h.ID, "plaid", nil); err == nil {
		t.Error("Expected error for unknown color")
	}
	if _, err := env.service.UpdateHighlight(ctx, session, "ghost", "blue", nil); err == nil {
		t.Error("Expected error for unknown highlight id")
	}
}

func TestRestoreFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))
	ctx := context.Background()

	view := position.View{
		ViewportHeight: 600,
		DocHeight:      3000,
		SectionTops: []position.SectionTop{
			{SectionID: "ch1", Top: 0},
			{SectionID: "ch2", Top: 1500},
		},
	}

	t.Run("NoSavedProgress", func(t *testing.T) {
		session, err := env.service.Open(ctx, "b1")
		if err != nil {
			t.Fatalf("Failed to open session: %v", err)
		}
		defer env.service.Close(session.ID)

		target, restored, err := env.service.Restore(ctx, session, view)
		if err != nil {
			t.Fatalf("Failed to restore: %v", err)
		}
		if restored || target != 0 {
			t.Errorf("Expected fresh start, got restored=%v target=%v", restored, target)
		}
		if session.Tracker.State() != position.StateTracking {
			t.Errorf("Expected tracking, got %s", session.Tracker.State())
		}
	})

	t.Run("WithSavedProgress", func(t *testing.T) {
		rec := types.ProgressRecord{Location: "ch2:750:1500", Percentage: 50, UpdatedAt: time.Now().UTC()}
		if err := env.bridge.Save(ctx, "b1", rec); err != nil {
			t.Fatalf("Failed to seed progress: %v", err)
		}
		env.bridge.Wait()

		session, err := env.service.Open(ctx, "b1")
		if err != nil {
			t.Fatalf("Failed to open session: %v", err)
		}
		defer env.service.Close(session.ID)

		target, restored, err := env.service.Restore(ctx, session, view)
		if err != nil {
			t.Fatalf("Failed to restore: %v", err)
		}
		if !restored {
			t.Fatal("Expected restoration")
		}
		// 750 of 1500 rescaled to a 3000px document.
		if target != 1500 {
			t.Errorf("Expected scroll target 1500, got %v", target)
		}
		if session.Tracker.State() != position.StateRestoring {
			t.Errorf("Expected restoring, got %s", session.Tracker.State())
		}
	})
}

func TestScrollProgressPersists(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))
	ctx := context.Background()

	session, err := env.service.Open(ctx, "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	session.Tracker.StartTracking()

	view := position.View{
		ScrollTop:      1600,
		ViewportHeight: 600,
		DocHeight:      3000,
		SectionTops: []position.SectionTop{
			{SectionID: "ch1", Top: 0},
			{SectionID: "ch2", Top: 1500},
		},
	}
	if err := env.service.ObserveScroll(session, view); err != nil {
		t.Fatalf("Failed to observe: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	env.bridge.Wait()

	rec, ok, err := env.repo.GetProgress(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("Expected persisted progress (ok=%v, err=%v)", ok, err)
	}
	if rec.Location != "ch2:1600:3000" {
		t.Errorf("Unexpected location: %s", rec.Location)
	}

	env.service.Close(session.ID)
}

func TestOpenPDFSession(t *testing.T) {
	env := newTestEnv(t)
	env.addPDFBook(t, "p1", 3)
	ctx := context.Background()

	session, err := env.service.Open(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer env.service.Close(session.ID)

	if session.Raster == nil {
		t.Fatal("Expected a raster manager for a paged book")
	}
	if session.Tracker != nil {
		t.Error("Paged sessions do not scroll-track")
	}
	if got := len(session.Raster.Pages()); got != 3 {
		t.Fatalf("Expected 3 pages, got %d", got)
	}

	if err := env.service.ObservePages(ctx, session, []raster.Visibility{{PageNumber: 2, Ratio: 0.8}}); err != nil {
		t.Fatalf("Failed to observe pages: %v", err)
	}
	if session.Raster.CurrentPage() != 2 {
		t.Errorf("Expected current page 2, got %d", session.Raster.CurrentPage())
	}

	time.Sleep(80 * time.Millisecond)
	env.bridge.Wait()
	rec, ok, err := env.repo.GetProgress(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("Expected persisted page progress (ok=%v, err=%v)", ok, err)
	}
	if rec.Page != 2 {
		t.Errorf("Expected page 2, got %d", rec.Page)
	}

	data, err := session.Raster.PageImage(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to fetch page image: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected encoded page bitmap")
	}
}

func TestCloseRevokesBlobs(t *testing.T) {
	env := newTestEnv(t)
	env.addEpubBook(t, "b1", buildEpub(t))

	session, err := env.service.Open(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	if session.Blobs.Len() == 0 {
		t.Fatal("Expected blobs before close")
	}

	env.service.Close(session.ID)
	if session.Blobs.Len() != 0 {
		t.Errorf("Expected blobs revoked, got %d", session.Blobs.Len())
	}
	if _, ok := env.service.Get(session.ID); ok {
		t.Error("Session should be deregistered")
	}
}

func TestOpenUnknownBook(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.Open(context.Background(), "nope"); err == nil {
		t.Error("Expected error for unknown book")
	}
}
