package interaction

import "pxchart/src/viewport"

// DefaultZoomStep is the visible-count change per wheel notch
const DefaultZoomStep = 8

// Event is a pointer or wheel input
type Event interface {
	isEvent()
}

// Wheel is one scroll notch; negative DeltaY is scrolling up
type Wheel struct {
	DeltaY float64
}

type PointerDown struct {
	X float64
}

type PointerMove struct {
	X float64
}

type PointerUp struct{}

func (Wheel) isEvent()       {}
func (PointerDown) isEvent() {}
func (PointerMove) isEvent() {}
func (PointerUp) isEvent()   {}

// Controller maps input events onto a viewport controller.
// Like the viewport it drives, it must be used from one goroutine.
type Controller struct {
	vp       *viewport.Controller
	zoomStep int
	width    float64
	dragging bool
	lastX    float64
}

func New(vp *viewport.Controller, zoomStep int, width float64) *Controller {
	if zoomStep <= 0 {
		zoomStep = DefaultZoomStep
	}
	return &Controller{vp: vp, zoomStep: zoomStep, width: width}
}

// SetWidth updates the drawable width used to scale drags
func (c *Controller) SetWidth(width float64) {
	c.width = width
}

// Handle applies ev and reports whether the viewport changed
func (c *Controller) Handle(ev Event) bool {
	switch e := ev.(type) {
	case Wheel:
		switch {
		case e.DeltaY < 0:
			return c.vp.Zoom(-c.zoomStep)
		case e.DeltaY > 0:
			return c.vp.Zoom(c.zoomStep)
		}
	case PointerDown:
		c.dragging = true
		c.lastX = e.X
	case PointerMove:
		if !c.dragging {
			return false
		}
		dx := c.lastX - e.X
		c.lastX = e.X
		// dragging left (dx > 0) moves towards more recent data
		return c.vp.PanBy(dx, c.width)
	case PointerUp:
		c.dragging = false
	}
	return false
}
