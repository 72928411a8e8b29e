package raster

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/pageturn/pageturn/pkg/types"
)

// Visibility is one page's intersection with the (margin-widened)
// viewport, reported by the client with every scroll observation.
type Visibility struct {
	PageNumber int     `json:"page_number"`
	Ratio      float64 `json:"ratio"`
}

// Manager tracks per-page render state for a paged document. Pages are
// rendered lazily when they approach the viewport, plus one neighbor on
// each side. A scale or theme change invalidates every rendered page
// but re-renders only the ones currently visible; the rest render again
// as they scroll in.
type Manager struct {
	rasterizer Rasterizer

	mu          sync.Mutex
	pages       []types.PageState
	encoded     map[int][]byte
	scale       float64
	theme       string
	lastVisible []Visibility
	currentPage int
}

// NewManager seeds one placeholder state per page. Heights are point
// heights from the page catalog, converted to estimated pixels so the
// scroll bar is sized before anything has rendered; a missing catalog
// falls back to the configured estimate.
func NewManager(rasterizer Rasterizer, heightsPt []float64, pageCount int, cfg types.ReaderConfig) *Manager {
	const ptToPx = 96.0 / 72.0

	pages := make([]types.PageState, pageCount)
	for i := range pages {
		h := cfg.PageHeightEstimatePx
		if i < len(heightsPt) && heightsPt[i] > 0 {
			h = heightsPt[i] * ptToPx
		}
		pages[i] = types.PageState{PageNumber: i + 1, HeightPx: h}
	}

	return &Manager{
		rasterizer:  rasterizer,
		pages:       pages,
		encoded:     map[int][]byte{},
		scale:       1.0,
		theme:       "light",
		currentPage: 1,
	}
}

// Pages returns a snapshot of all page states.
func (m *Manager) Pages() []types.PageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PageState(nil), m.pages...)
}

// CurrentPage returns the page with the highest visibility ratio from
// the latest observation.
func (m *Manager) CurrentPage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPage
}

// Scale returns the current zoom factor.
func (m *Manager) Scale() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scale
}

// Observe processes a visibility snapshot: it updates the current page
// and renders every intersecting page plus one neighbor on each side.
// Render failures are logged and retried on the next observation.
func (m *Manager) Observe(ctx context.Context, visible []Visibility) {
	m.mu.Lock()
	m.lastVisible = append([]Visibility(nil), visible...)
	m.currentPage = pickCurrent(visible, m.currentPage)
	targets := m.withNeighborsLocked(visible)
	m.mu.Unlock()

	m.renderPages(ctx, targets)
}

// PageImage returns the encoded bitmap for a page, rendering it on
// demand if it is not cached. Page numbers are 1-based.
func (m *Manager) PageImage(ctx context.Context, page int) ([]byte, error) {
	m.mu.Lock()
	if page < 1 || page > len(m.pages) {
		m.mu.Unlock()
		return nil, fmt.Errorf("raster: page %d out of range 1-%d", page, len(m.pages))
	}
	if data, ok := m.encoded[page]; ok {
		m.mu.Unlock()
		return data, nil
	}
	m.mu.Unlock()

	if err := m.renderPage(ctx, page); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoded[page], nil
}

// SetScale changes the zoom factor. All rendered pages are invalidated;
// placeholder heights are rescaled proportionally so relative scroll
// position survives; only currently visible pages re-render now.
func (m *Manager) SetScale(ctx context.Context, scale float64) {
	if scale <= 0 {
		scale = 1.0
	}

	m.mu.Lock()
	ratio := scale / m.scale
	m.scale = scale
	for i := range m.pages {
		m.pages[i].HeightPx *= ratio
	}
	m.mu.Unlock()

	m.invalidate(ctx)
}

// SetTheme changes the page theme, invalidating all rendered pages and
// re-rendering only the visible ones.
func (m *Manager) SetTheme(ctx context.Context, theme string) {
	m.mu.Lock()
	m.theme = theme
	m.mu.Unlock()

	m.invalidate(ctx)
}

// invalidate clears every cached render, then immediately re-renders
// the pages from the last visibility snapshot. Neighbors are left for
// the next scroll observation.
func (m *Manager) invalidate(ctx context.Context) {
	m.mu.Lock()
	m.encoded = map[int][]byte{}
	for i := range m.pages {
		m.pages[i].IsRendered = false
	}
	visible := make([]int, 0, len(m.lastVisible))
	for _, v := range m.lastVisible {
		if v.Ratio > 0 {
			visible = append(visible, v.PageNumber)
		}
	}
	m.mu.Unlock()

	m.renderPages(ctx, visible)
}

// withNeighborsLocked expands the visible set by one page on each side.
// Caller holds m.mu.
func (m *Manager) withNeighborsLocked(visible []Visibility) []int {
	set := map[int]bool{}
	for _, v := range visible {
		if v.Ratio <= 0 {
			continue
		}
		for _, p := range []int{v.PageNumber - 1, v.PageNumber, v.PageNumber + 1} {
			if p >= 1 && p <= len(m.pages) {
				set[p] = true
			}
		}
	}

	targets := make([]int, 0, len(set))
	for p := range set {
		targets = append(targets, p)
	}
	sort.Ints(targets)
	return targets
}

func (m *Manager) renderPages(ctx context.Context, pages []int) {
	for _, p := range pages {
		m.mu.Lock()
		_, done := m.encoded[p]
		m.mu.Unlock()
		if done {
			continue
		}
		if err := m.renderPage(ctx, p); err != nil {
			log.Printf("Failed to render page %d: %v", p, err)
		}
	}
}

func (m *Manager) renderPage(ctx context.Context, page int) error {
	m.mu.Lock()
	scale, theme := m.scale, m.theme
	m.mu.Unlock()

	img, err := m.rasterizer.RenderPage(ctx, page, scale, theme)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode page %d: %w", page, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A scale or theme change that raced this render wins; drop the
	// stale bitmap.
	if scale != m.scale || theme != m.theme {
		return nil
	}
	m.encoded[page] = buf.Bytes()
	m.pages[page-1].IsRendered = true
	m.pages[page-1].HeightPx = float64(img.Bounds().Dy())
	return nil
}

// pickCurrent returns the page with the highest intersection ratio,
// ties going to the lower page number. An empty snapshot keeps the
// previous answer.
func pickCurrent(visible []Visibility, previous int) int {
	best := previous
	bestRatio := 0.0
	for _, v := range visible {
		if v.Ratio > bestRatio || (v.Ratio == bestRatio && bestRatio > 0 && v.PageNumber < best) {
			best = v.PageNumber
			bestRatio = v.Ratio
		}
	}
	return best
}
