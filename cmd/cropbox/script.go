package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/cropbox"
	"github.com/menta2k/cropbox/pkg/session"
)

// ActionKind is one step of a crop script
type ActionKind int

const (
	ActionZoomIn ActionKind = iota
	ActionZoomOut
	ActionDrag
	ActionCapture
	ActionAutoFrame
)

// Action is a parsed script step; DX and DY are set for drags
type Action struct {
	Kind   ActionKind
	DX, DY float64
}

func (a Action) String() string {
	switch a.Kind {
	case ActionZoomIn:
		return "zoom-in"
	case ActionZoomOut:
		return "zoom-out"
	case ActionDrag:
		return fmt.Sprintf("drag:%g,%g", a.DX, a.DY)
	case ActionCapture:
		return "capture"
	case ActionAutoFrame:
		return "autoframe"
	}
	return fmt.Sprintf("action(%d)", int(a.Kind))
}

// ParseScript parses steps separated by semicolons, whitespace or newlines.
// Text after '#' on a line is ignored.
//
//	zoom-in; drag:-20,15; capture
//	autoframe capture
func ParseScript(script string) ([]Action, error) {
	var actions []Action
	for lineNo, line := range strings.Split(script, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		steps := strings.FieldsFunc(line, func(r rune) bool {
			return r == ';' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, step := range steps {
			a, err := parseAction(step)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			actions = append(actions, a)
		}
	}
	return actions, nil
}

func parseAction(step string) (Action, error) {
	name, args, hasArgs := strings.Cut(strings.ToLower(step), ":")
	switch name {
	case "zoom-in", "zoomin", "+":
		return Action{Kind: ActionZoomIn}, nil
	case "zoom-out", "zoomout", "-":
		return Action{Kind: ActionZoomOut}, nil
	case "capture":
		return Action{Kind: ActionCapture}, nil
	case "autoframe":
		return Action{Kind: ActionAutoFrame}, nil
	case "drag":
		if !hasArgs {
			return Action{}, fmt.Errorf("drag needs dx,dy: %q", step)
		}
		xs, ys, ok := strings.Cut(args, ",")
		if !ok {
			return Action{}, fmt.Errorf("drag needs dx,dy: %q", step)
		}
		dx, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return Action{}, fmt.Errorf("invalid drag dx %q: %w", xs, err)
		}
		dy, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return Action{}, fmt.Errorf("invalid drag dy %q: %w", ys, err)
		}
		return Action{Kind: ActionDrag, DX: dx, DY: dy}, nil
	}
	return Action{}, fmt.Errorf("unknown action %q", step)
}

// runScript replays actions against box, calling onCapture for every capture
// that produced a raster
func runScript(ctx context.Context, box *cropbox.Cropbox, actions []Action, onCapture func(*session.Capture) error) error {
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch a.Kind {
		case ActionZoomIn:
			err = box.ZoomIn()
		case ActionZoomOut:
			err = box.ZoomOut()
		case ActionDrag:
			box.Drag(a.DX, a.DY)
		case ActionAutoFrame:
			err = box.AutoFrame(ctx)
		case ActionCapture:
			var c *session.Capture
			c, err = box.Capture()
			if err == nil && c != nil && onCapture != nil {
				err = onCapture(c)
			}
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, a, err)
		}
	}
	return nil
}
