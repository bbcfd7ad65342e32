package engine

import (
	"fmt"
	"strings"
)

// PointerKind is the phase of a pointer event
type PointerKind int

const (
	PointerDown PointerKind = iota
	PointerMove
	PointerUp
)

func (k PointerKind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	}
	return fmt.Sprintf("PointerKind(%d)", int(k))
}

// ParsePointerKind maps "down", "move" and "up" to a PointerKind
func ParsePointerKind(s string) (PointerKind, error) {
	switch strings.ToLower(s) {
	case "down", "mousedown", "pointerdown":
		return PointerDown, nil
	case "move", "mousemove", "pointermove":
		return PointerMove, nil
	case "up", "mouseup", "pointerup":
		return PointerUp, nil
	}
	return 0, fmt.Errorf("unknown pointer event %q", s)
}

// PointerEvent is a pointer position in client coordinates
type PointerEvent struct {
	Kind PointerKind
	X    float64
	Y    float64
}

// HandlePointer applies a drag gesture. Down starts dragging, each Move adds
// the delta since the previous event to the offset, Up stops. Up is accepted
// from anywhere so a drag leaving the viewport still ends. Events have no
// effect before decoding completes or after Close.
func (e *Engine) HandlePointer(ev PointerEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	switch ev.Kind {
	case PointerUp:
		e.dragging = false
		e.mu.Unlock()
		return
	case PointerDown:
		if e.img == nil {
			e.mu.Unlock()
			return
		}
		e.dragging = true
		e.pointerX, e.pointerY = ev.X, ev.Y
		e.mu.Unlock()
		return
	}

	if !e.dragging || e.img == nil {
		e.mu.Unlock()
		return
	}
	e.state.X += ev.X - e.pointerX
	e.state.Y += ev.Y - e.pointerY
	e.pointerX, e.pointerY = ev.X, ev.Y
	pl := e.placement()
	e.mu.Unlock()

	e.render(pl)
}

// Dragging reports whether a drag gesture is in progress
func (e *Engine) Dragging() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dragging
}
