package reader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pageturn/pageturn/internal/annotate"
	"github.com/pageturn/pageturn/internal/epub"
	"github.com/pageturn/pageturn/internal/fetch"
	"github.com/pageturn/pageturn/internal/pdf"
	"github.com/pageturn/pageturn/internal/position"
	"github.com/pageturn/pageturn/internal/progress"
	"github.com/pageturn/pageturn/internal/raster"
	"github.com/pageturn/pageturn/internal/render"
	"github.com/pageturn/pageturn/internal/sched"
	"github.com/pageturn/pageturn/internal/storage"
	"github.com/pageturn/pageturn/internal/store"
	"github.com/pageturn/pageturn/pkg/types"
)

// Service opens books into sessions and runs the operations that need
// one: position tracking, highlights, page observation.
type Service struct {
	repo    store.Repository
	fetcher *fetch.Fetcher
	bridge  *progress.Bridge
	adapter storage.Adapter
	cfg     types.ReaderConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates the session service.
func NewService(repo store.Repository, fetcher *fetch.Fetcher, bridge *progress.Bridge, adapter storage.Adapter, cfg types.ReaderConfig) *Service {
	return &Service{
		repo:     repo,
		fetcher:  fetcher,
		bridge:   bridge,
		adapter:  adapter,
		cfg:      cfg,
		sessions: map[string]*Session{},
	}
}

// PrefetchMargin is the distance, in pixels, by which clients should
// widen their page intersection root so rendering starts before a page
// scrolls into view.
func (s *Service) PrefetchMargin() float64 {
	return s.cfg.PrefetchMarginPx
}

// Open loads a book into a new session. For flowed formats every spine
// section is rendered in order; a section whose document cannot be
// parsed is skipped with a warning, and the load fails only when no
// section renders at all.
func (s *Service) Open(ctx context.Context, bookID string) (*Session, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	rawPath, err := s.repo.RawFilePath(ctx, bookID)
	if err != nil {
		return nil, err
	}
	data, err := s.fetcher.Fetch(ctx, rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch book %s: %w", bookID, err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		BookID:    bookID,
		Format:    book.Format,
		CreatedAt: time.Now().UTC(),
		status:    "loading",
	}
	session.Blobs = NewBlobRegistry(session.ID)

	switch book.Format {
	case "epub":
		if err := s.loadEpub(ctx, session, data); err != nil {
			session.Blobs.RevokeAll()
			return nil, err
		}
	case "pdf":
		if err := s.loadPDF(ctx, session, data); err != nil {
			return nil, err
		}
	default:
		return nil, &fetch.ErrUnknownFormat{Name: bookID}
	}

	session.setStatus("ready")

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session, nil
}

func (s *Service) loadEpub(ctx context.Context, session *Session, data []byte) error {
	book, err := epub.Open(data)
	if err != nil {
		return err
	}
	session.addWarnings(book.Warnings()...)

	session.Tracker = position.NewTracker(s.cfg, s.saveFunc(session.BookID))
	session.Tracker.StartLoading()

	refs := book.Sections()
	renderer := render.NewRenderer(book, session.Blobs)

	sections := make([]*types.Section, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		session.setStatus(fmt.Sprintf("loading section %d of %d", i+1, len(refs)))

		markup, err := book.ReadSection(ref.ID)
		if err != nil {
			session.addWarnings(fmt.Sprintf("section %s: %v", ref.ID, err))
			continue
		}
		rendered, warnings, err := renderer.Render(ref.ID, markup)
		if err != nil {
			log.Printf("Skipping unrenderable section %s: %v", ref.ID, err)
			session.addWarnings(fmt.Sprintf("section %s could not be rendered", ref.ID))
			continue
		}
		session.addWarnings(warnings...)
		sections = append(sections, rendered)
	}

	if len(sections) == 0 {
		return &epub.ParseError{Reason: "no section could be rendered"}
	}

	highlights, err := s.repo.ListHighlights(ctx, session.BookID)
	if err != nil {
		log.Printf("Failed to load highlights for book %s: %v", session.BookID, err)
	}
	for _, sec := range sections {
		for _, id := range annotate.Apply(sec, derefHighlights(highlights)) {
			session.addWarnings(fmt.Sprintf("highlight %s could not be anchored in section %s", id, sec.ID))
		}
	}

	session.setSections(sections, book.TOC())
	session.Tracker.SetReady()
	return nil
}

func (s *Service) loadPDF(ctx context.Context, session *Session, data []byte) error {
	doc, err := pdf.Parse(data)
	if err != nil {
		return err
	}

	rasterizer := raster.NewImageRasterizer(raster.StoragePageLoader(s.adapter, session.BookID))
	session.Raster = raster.NewManager(rasterizer, doc.PageHeights, doc.PageCount, s.cfg)
	session.pageSaves = sched.NewDebouncer(time.Duration(s.cfg.ProgressDebounceMs) * time.Millisecond)
	return nil
}

// Get returns an open session by id.
func (s *Service) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// Close flushes and removes a session.
func (s *Service) Close(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		session.Close()
	}
}

// CloseAll closes every open session. Used on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = map[string]*Session{}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	s.bridge.Wait()
}

// Restore computes the scroll target for the book's saved progress. The
// second return value is false when no progress exists, in which case
// tracking starts from the top.
func (s *Service) Restore(ctx context.Context, session *Session, view position.View) (float64, bool, error) {
	if session.Tracker == nil {
		return 0, false, fmt.Errorf("reader: session %s has no scroll tracking", session.ID)
	}

	rec, ok, err := s.bridge.Load(ctx, session.BookID)
	if err != nil {
		return 0, false, err
	}
	if !ok || rec.Location == "" {
		session.Tracker.StartTracking()
		return 0, false, nil
	}

	target, err := session.Tracker.Restore(rec, view)
	if err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// ObserveScroll feeds one scroll snapshot into the session's tracker.
func (s *Service) ObserveScroll(session *Session, view position.View) error {
	if session.Tracker == nil {
		return fmt.Errorf("reader: session %s has no scroll tracking", session.ID)
	}
	session.Tracker.Observe(view)
	return nil
}

// ObservePages feeds one visibility snapshot into the raster manager
// and schedules a debounced progress write for the current page.
func (s *Service) ObservePages(ctx context.Context, session *Session, visible []raster.Visibility) error {
	if session.Raster == nil {
		return fmt.Errorf("reader: session %s is not paged", session.ID)
	}
	session.Raster.Observe(ctx, visible)

	current := session.Raster.CurrentPage()
	total := len(session.Raster.Pages())
	rec := types.ProgressRecord{
		Page:       current,
		Percentage: float64(current) / float64(total) * 100,
		UpdatedAt:  time.Now().UTC(),
	}
	save := s.saveFunc(session.BookID)
	session.pageSaves.Trigger(func() { save(rec) })
	return nil
}

// CreateHighlight validates, persists, and anchors a highlight. When
// the selection cannot be anchored (it spans element boundaries) the
// record is still saved and a warning is returned alongside it.
func (s *Service) CreateHighlight(ctx context.Context, session *Session, sectionID, text, color string) (*types.Highlight, string, error) {
	sec, ok := session.Section(sectionID)
	if !ok {
		return nil, "", epub.ErrSectionNotFound
	}

	h, err := annotate.NewHighlight(session.BookID, sectionID, sec.HTML, text, color)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.SaveHighlight(ctx, h); err != nil {
		return nil, "", err
	}

	var warning string
	if failed := annotate.Apply(sec, []types.Highlight{*h}); len(failed) > 0 {
		warning = fmt.Sprintf("highlight saved but could not be anchored: %v", annotate.ErrAnchorFailed)
	}
	return h, warning, nil
}

// DeleteHighlight removes the record and unwraps its marker from the
// session's rendered markup.
func (s *Service) DeleteHighlight(ctx context.Context, session *Session, highlightID string) error {
	h, err := s.repo.GetHighlight(ctx, session.BookID, highlightID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteHighlight(ctx, session.BookID, highlightID); err != nil {
		return err
	}
	if sec, ok := session.Section(h.SectionID); ok {
		annotate.Remove(sec, highlightID)
	}
	return nil
}

// UpdateHighlight changes the color and/or note of an existing
// highlight. An empty color means unchanged; a nil note means
// unchanged, while a pointer to the empty string clears the note. A
// color change is pushed into the session's rendered markup so the open
// view reflects it without a re-render.
func (s *Service) UpdateHighlight(ctx context.Context, session *Session, highlightID, color string, note *string) (*types.Highlight, error) {
	h, err := s.repo.GetHighlight(ctx, session.BookID, highlightID)
	if err != nil {
		return nil, err
	}
	if color != "" {
		if !types.ValidHighlightColor(color) {
			return nil, fmt.Errorf("unknown color %q", color)
		}
		h.Color = color
	}
	if note != nil {
		h.Note = *note
	}
	if err := s.repo.SaveHighlight(ctx, h); err != nil {
		return nil, err
	}
	if color != "" {
		if sec, ok := session.Section(h.SectionID); ok {
			annotate.SetColor(sec, highlightID, color)
		}
	}
	return h, nil
}

// UpdateSettings persists the settings and pushes the theme change into
// every open paged session, invalidating their rendered pages.
func (s *Service) UpdateSettings(ctx context.Context, settings types.ReaderSettings) error {
	settings.Clamp()
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return err
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if session.Raster != nil {
			session.Raster.SetTheme(ctx, settings.Theme)
		}
	}
	return nil
}

// Stylesheet renders the settings-driven style block for flowed
// sections.
func (s *Service) Stylesheet(ctx context.Context) (string, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	return render.StyleSheet(settings), nil
}

func (s *Service) saveFunc(bookID string) position.SaveFunc {
	return func(rec types.ProgressRecord) {
		if err := s.bridge.Save(context.Background(), bookID, rec); err != nil {
			log.Printf("Failed to save progress for book %s: %v", bookID, err)
		}
	}
}

func derefHighlights(hs []*types.Highlight) []types.Highlight {
	out := make([]types.Highlight, 0, len(hs))
	for _, h := range hs {
		out = append(out, *h)
	}
	return out
}
