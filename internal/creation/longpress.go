package creation

import (
	"time"

	"github.com/geodiary/mapcore/internal/model/core"
)

// stopFunc cancels a pending timer and reports whether it was still pending.
type stopFunc func() bool

func realAfterFunc(d time.Duration, f func()) stopFunc {
	return time.AfterFunc(d, f).Stop
}

// pressState tracks one pointer press. Firing only posts to out; the
// interaction loop performs the creation.
type pressState struct {
	delay     time.Duration
	afterFunc func(time.Duration, func()) stopFunc

	stop         stopFunc
	generation   uint64
	dragging     bool
	boxZooming   bool
	pointerOnMap bool
	out          chan core.Position
}

// LongPresses delivers positions of completed long presses.
func (c *Controller) LongPresses() <-chan core.Position {
	return c.press.out
}

// PointerDown arms the long-press timer at pos.
func (c *Controller) PointerDown(pos core.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()

	c.press.generation++
	gen := c.press.generation
	c.press.stop = c.press.afterFunc(c.press.delay, func() {
		c.firePress(gen, pos)
	})
}

// PointerUp cancels a pending long press.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

// PointerOut cancels a pending long press when the pointer leaves the map.
func (c *Controller) PointerOut() {
	c.PointerUp()
}

// DragStart suppresses long presses until DragEnd.
func (c *Controller) DragStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.dragging = true
}

// DragEnd lifts the drag suppression.
func (c *Controller) DragEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.dragging = false
}

// BoxZoomStart suppresses long presses until BoxZoomEnd.
func (c *Controller) BoxZoomStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.boxZooming = true
}

// BoxZoomEnd lifts the box-zoom suppression.
func (c *Controller) BoxZoomEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.boxZooming = false
}

// SetPointerOnMap is false while the pointer is over the edit form or a dialog.
func (c *Controller) SetPointerOnMap(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.pointerOnMap = on
}

func (c *Controller) cancelLocked() {
	if c.press.stop != nil {
		c.press.stop()
		c.press.stop = nil
	}
	c.press.generation++
}

func (c *Controller) firePress(gen uint64, pos core.Position) {
	c.mu.Lock()
	ok := gen == c.press.generation &&
		!c.press.dragging &&
		!c.press.boxZooming &&
		c.press.pointerOnMap
	if ok {
		c.press.stop = nil
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case c.press.out <- pos:
	default:
		c.deps.Log.Debug("Long press dropped, previous one not consumed yet")
	}
}
