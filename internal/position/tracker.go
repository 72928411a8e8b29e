// Package position tracks and restores the reading position of a
// continuously scrolled document.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/pageturn/pageturn/internal/sched"
	"github.com/pageturn/pageturn/pkg/types"
)

// State is the lifecycle phase of a tracker. Scroll observations only
// produce progress writes in StateTracking; everything before that is
// layout noise.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateRestoring
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRestoring:
		return "restoring"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// SectionTop is one section's offset from the top of the rendered
// document, in document order.
type SectionTop struct {
	SectionID string
	Top       float64
}

// View is a snapshot of the client's scroll geometry, reported with
// every scroll observation.
type View struct {
	ScrollTop      float64
	ViewportHeight float64
	DocHeight      float64
	SectionTops    []SectionTop
}

// SaveFunc receives debounced progress records.
type SaveFunc func(types.ProgressRecord)

// Tracker derives the current reading position from scroll geometry and
// emits debounced progress records. One tracker per open document.
type Tracker struct {
	thresholdPx float64
	settle      time.Duration
	save        SaveFunc
	now         func() time.Time

	mu            sync.Mutex
	state         State
	suppressUntil time.Time
	current       types.Location
	percentage    float64
	debounce      *sched.Debouncer
}

// NewTracker builds a tracker in the uninitialized state.
func NewTracker(cfg types.ReaderConfig, save SaveFunc) *Tracker {
	return &Tracker{
		thresholdPx: cfg.SectionTopThresholdPx,
		settle:      time.Duration(cfg.RestoreSettleMs) * time.Millisecond,
		save:        save,
		now:         time.Now,
		debounce:    sched.NewDebouncer(time.Duration(cfg.ProgressDebounceMs) * time.Millisecond),
	}
}

// State returns the current lifecycle phase.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns the last derived location and percentage.
func (t *Tracker) Current() (types.Location, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.percentage
}

// StartLoading marks the beginning of document load.
func (t *Tracker) StartLoading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateLoading
}

// SetReady marks the document as fully rendered. The tracker now waits
// for either a restore or an explicit start of tracking.
func (t *Tracker) SetReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateReady
}

// StartTracking skips restoration. Used when no saved progress exists.
func (t *Tracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateTracking
}

// Restore computes the scroll target for a saved record against the
// current geometry and suppresses progress writes until the programmatic
// scroll has settled. The returned offset is what the client should
// scroll to.
//
// The target is chosen by a fallback chain: proportional rescale of the
// saved offset when the saved document height is known, the raw saved
// offset when it still fits the document, the saved percentage, and
// finally the top of the saved section.
func (t *Tracker) Restore(rec types.ProgressRecord, view View) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReady {
		return 0, fmt.Errorf("position: cannot restore in state %s", t.state)
	}

	loc, err := types.ParseLocation(rec.Location)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}

	target := t.restoreTarget(loc, rec.Percentage, view)
	target = clamp(target, 0, maxScroll(view))

	t.state = StateRestoring
	t.suppressUntil = t.now().Add(t.settle)
	t.current = loc
	t.percentage = rec.Percentage
	return target, nil
}

func (t *Tracker) restoreTarget(loc types.Location, percentage float64, view View) float64 {
	if loc.Fine {
		if loc.DocHeight > 0 && view.DocHeight > 0 {
			return loc.ScrollTop * view.DocHeight / loc.DocHeight
		}
		if loc.ScrollTop <= view.DocHeight {
			return loc.ScrollTop
		}
		if percentage > 0 {
			return percentage / 100 * maxScroll(view)
		}
	}
	if top, ok := sectionTop(view, loc.SectionID); ok {
		return top
	}
	if percentage > 0 {
		return percentage / 100 * maxScroll(view)
	}
	return 0
}

// Observe processes one scroll snapshot. During the restore settle
// window observations are absorbed without producing writes; the first
// observation after the window flips the tracker into StateTracking.
func (t *Tracker) Observe(view View) {
	t.mu.Lock()

	switch t.state {
	case StateRestoring:
		if t.now().Before(t.suppressUntil) {
			t.mu.Unlock()
			return
		}
		t.state = StateTracking
	case StateTracking:
	default:
		t.mu.Unlock()
		return
	}

	t.current = deriveLocation(view, t.thresholdPx)
	t.percentage = derivePercentage(view)

	rec := types.ProgressRecord{
		Location:   t.current.String(),
		Percentage: t.percentage,
		UpdatedAt:  t.now().UTC(),
	}
	t.mu.Unlock()

	t.debounce.Trigger(func() { t.save(rec) })
}

// Flush writes any pending progress record immediately. Called when the
// document is closed so the final position is never lost to the
// debounce window.
func (t *Tracker) Flush() {
	t.debounce.Flush()
}

// Close cancels pending writes without running them.
func (t *Tracker) Close() {
	t.debounce.Cancel()
}

// deriveLocation picks the last section whose top sits at or above the
// threshold below the viewport top. A partially scrolled-past section
// therefore stays current until its successor reaches the top, so the
// answer is stable across small scroll jitters. Falls back to the first
// section when nothing has crossed the threshold yet.
func deriveLocation(view View, thresholdPx float64) types.Location {
	if len(view.SectionTops) == 0 {
		return types.Location{}
	}

	current := view.SectionTops[0]
	for _, st := range view.SectionTops {
		if st.Top-view.ScrollTop <= thresholdPx {
			current = st
		} else {
			break
		}
	}

	return types.Location{
		SectionID: current.SectionID,
		ScrollTop: view.ScrollTop,
		DocHeight: view.DocHeight,
		Fine:      true,
	}
}

// derivePercentage reports the scroll offset as a share of the total
// scrollable range, so 0% is the top of the document and 100% is the
// bottom of the last viewport. A document shorter than the viewport has
// no scrollable range and reports 0.
func derivePercentage(view View) float64 {
	scrollable := view.DocHeight - view.ViewportHeight
	if scrollable <= 0 {
		return 0
	}
	return clamp(view.ScrollTop/scrollable*100, 0, 100)
}

func sectionTop(view View, sectionID string) (float64, bool) {
	for _, st := range view.SectionTops {
		if st.SectionID == sectionID {
			return st.Top, true
		}
	}
	return 0, false
}

func maxScroll(view View) float64 {
	m := view.DocHeight - view.ViewportHeight
	if m < 0 {
		return 0
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
