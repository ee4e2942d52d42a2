package cvauto

import (
	"sync"

	"github.com/hazyhaar/contentvis/urlmetric"
)

// Observer records the heights of tracked entries when the browser first
// reveals them. It mirrors detect.js for Go-driven browsers and is safe for
// concurrent use.
type Observer struct {
	mu      sync.Mutex
	order   []string
	ranges  map[string][]Range
	pending map[string]bool
	heights map[string]float64
}

// NewObserver returns an empty observer.
func NewObserver() *Observer {
	return &Observer{
		ranges:  make(map[string][]Range),
		pending: make(map[string]bool),
		heights: make(map[string]float64),
	}
}

// Track subscribes to state changes of xpath. ranges are the viewport ranges
// styled for it.
func (o *Observer) Track(xpath string, ranges []Range) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.ranges[xpath]; !ok {
		o.order = append(o.order, xpath)
	}
	o.ranges[xpath] = ranges
	o.pending[xpath] = true
}

// StateChanged handles a contentvisibilityautostatechange signal. Skipped
// transitions are ignored. The first revealing signal captures height and
// ends the subscription; it returns whether height was captured.
func (o *Observer) StateChanged(xpath string, skipped bool, height float64) bool {
	if skipped {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.pending[xpath] {
		return false
	}
	delete(o.pending, xpath)
	o.heights[xpath] = height
	return true
}

// Captured returns the revealed height of xpath.
func (o *Observer) Captured(xpath string) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.heights[xpath]
	return h, ok
}

// Finalize reports a height for every tracked entry through extend: the
// captured one, else the bounding box height from getElementData when no
// styled range covers width. Entries with neither are not reported.
func (o *Observer) Finalize(width int, getElementData func(xpath string) *urlmetric.Element, extend func(xpath string, props map[string]any)) {
	o.mu.Lock()
	order := append([]string(nil), o.order...)
	o.mu.Unlock()

	for _, xpath := range order {
		o.mu.Lock()
		h, captured := o.heights[xpath]
		ranges := o.ranges[xpath]
		o.mu.Unlock()

		if !captured {
			if RangesCover(ranges, width) {
				continue
			}
			el := getElementData(xpath)
			if el == nil {
				continue
			}
			h = el.BoundingClientRect.Height
		}
		extend(xpath, map[string]any{HeightProperty: h})
	}
}
