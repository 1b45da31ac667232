package viewport

import "math"

const (
	DefaultMinVisible = 5
	DefaultMaxVisible = 500
	DefaultVisible    = 100
)

// Viewport is the visible window over a series: VisibleCount elements
// starting at Offset
type Viewport struct {
	VisibleCount int `json:"visibleCount"`
	Offset       int `json:"offset"`
}

// Limits bounds the visible count
type Limits struct {
	Min int
	Max int
}

func DefaultLimits() Limits {
	return Limits{Min: DefaultMinVisible, Max: DefaultMaxVisible}
}

// Controller owns zoom and pan state over a series of seriesLen elements.
// It is not safe for concurrent use; a chart session mutates it from a
// single goroutine.
type Controller struct {
	vp        Viewport
	limits    Limits
	seriesLen int
	// sub-index pan distance not yet applied
	panCarry float64
}

// New creates a controller with the given initial visible count
func New(visible int, limits Limits) *Controller {
	if limits.Min <= 0 {
		limits.Min = DefaultMinVisible
	}
	if limits.Max < limits.Min {
		limits.Max = max(limits.Min, DefaultMaxVisible)
	}
	c := &Controller{limits: limits}
	c.vp.VisibleCount = clamp(visible, limits.Min, limits.Max)
	return c
}

func (c *Controller) Viewport() Viewport {
	return c.vp
}

func (c *Controller) Limits() Limits {
	return c.limits
}

// SetSeriesLen records a new series length and re-clamps the offset
func (c *Controller) SetSeriesLen(n int) {
	c.seriesLen = max(0, n)
	c.clampOffset()
}

// Zoom changes the visible count by delta within the limits.
// Negative delta zooms in.
func (c *Controller) Zoom(delta int) bool {
	old := c.vp
	c.vp.VisibleCount = clamp(c.vp.VisibleCount+delta, c.limits.Min, c.limits.Max)
	c.clampOffset()
	return old != c.vp
}

// PanBy shifts the viewport by a pixel distance dx on a chart that is
// width pixels wide. One pixel corresponds to visibleCount/width
// elements. Positive dx increases the offset, moving towards more recent
// data. Fractions of an element are carried to the next call.
func (c *Controller) PanBy(dx, width float64) bool {
	if width <= 0 || dx == 0 || math.IsNaN(dx) || math.IsInf(dx, 0) {
		return false
	}
	c.panCarry += dx * float64(c.vp.VisibleCount) / width
	steps := int(c.panCarry)
	if steps == 0 {
		return false
	}
	c.panCarry -= float64(steps)
	old := c.vp.Offset
	c.vp.Offset += steps
	c.clampOffset()
	if c.vp.Offset == old {
		// pinned at a bound, drop the carry so reversing responds at once
		c.panCarry = 0
		return false
	}
	return true
}

// Reset moves back to offset 0 while keeping the zoom level. Used when the
// series identity (symbol or window) changes.
func (c *Controller) Reset() {
	c.vp.Offset = 0
	c.panCarry = 0
	c.clampOffset()
}

// Visible returns the half-open index range [from, to) of the visible
// slice, clamped to the series bounds
func (c *Controller) Visible() (int, int) {
	return VisibleRange(c.vp, c.seriesLen)
}

// VisibleRange clamps [offset, offset+visibleCount) to [0, n)
func VisibleRange(vp Viewport, n int) (int, int) {
	from := clamp(vp.Offset, 0, n)
	to := clamp(vp.Offset+vp.VisibleCount, from, n)
	return from, to
}

func (c *Controller) maxOffset() int {
	return max(0, c.seriesLen-c.vp.VisibleCount)
}

func (c *Controller) clampOffset() {
	c.vp.Offset = clamp(c.vp.Offset, 0, c.maxOffset())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
