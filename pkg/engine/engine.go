// Package engine maps a loaded image onto a fixed-size viewport and extracts
// output rasters from the current pan/zoom framing.
//
// Three coordinate spaces are involved: the source image's native pixels, the
// viewport where the image is drawn scaled by the zoom ratio and offset by the
// pan, and the output crop window, which is centered on the viewport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/types"
)

const (
	ZoomInFactor  = 1.1
	ZoomOutFactor = 0.9
)

var (
	// ErrNotReady is returned while the source image is still decoding
	ErrNotReady = errors.New("engine: image not decoded yet")
	// ErrDecode wraps the failure of the source image decode
	ErrDecode = errors.New("engine: image decode failed")
	// ErrClosed is returned after the engine has been released
	ErrClosed = errors.New("engine: released")
)

// State is the numeric transform of one loaded image. X and Y are the
// background offset in viewport pixels.
type State struct {
	Ratio float64 `json:"ratio"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// CropInfo is the placement of the scaled source inside an output window
type CropInfo struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	DW     float64 `json:"dw"`
	DH     float64 `json:"dh"`
	SW     float64 `json:"sw"`
	SH     float64 `json:"sh"`
	Ratio  float64 `json:"ratio"`
}

// Result converts the crop info to the serialized result record
func (c CropInfo) Result() types.CropResult {
	return types.CropResult{X: c.DX, Y: c.DY, DW: c.DW, DH: c.DH, Ratio: c.Ratio}
}

// Renderer receives the background placement every time it changes
type Renderer interface {
	Render(types.Placement)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(types.Placement)

func (f RendererFunc) Render(p types.Placement) { f(p) }

// Option configures an Engine
type Option func(*Engine)

// WithRenderer sets the display projection
func WithRenderer(r Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInterpolator sets the resampling kernel used by Raster
func WithInterpolator(i xdraw.Interpolator) Option {
	return func(e *Engine) { e.interp = i }
}

// WithProcessor sets the decoder
func WithProcessor(p *processing.Processor) Option {
	return func(e *Engine) { e.proc = p }
}

// Engine owns the transform state of one image bound to one viewport
type Engine struct {
	viewport types.Size
	renderer Renderer
	logger   *slog.Logger
	interp   xdraw.Interpolator
	proc     *processing.Processor

	ready chan struct{}

	mu       sync.Mutex
	img      image.Image
	err      error
	state    State
	closed   bool
	dragging bool
	pointerX float64
	pointerY float64
}

// New binds src (raw image bytes or a data URL) to the viewport and starts
// decoding in the background. Operations return ErrNotReady until Ready is
// closed.
func New(src []byte, viewport types.Size, opts ...Option) *Engine {
	e := &Engine{
		viewport: viewport,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interp:   xdraw.BiLinear,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.proc == nil {
		e.proc = processing.NewProcessor()
	}

	go e.decode(src)
	return e
}

func (e *Engine) decode(src []byte) {
	img, err := e.proc.Decode(src)

	e.mu.Lock()
	if err != nil {
		e.err = fmt.Errorf("%w: %v", ErrDecode, err)
		e.mu.Unlock()
		close(e.ready)
		e.logger.Warn("image decode failed", "error", err)
		return
	}
	e.img = img
	e.state = e.centered(1)
	pl, closed := e.placement(), e.closed
	e.mu.Unlock()

	b := img.Bounds()
	e.logger.Debug("image decoded", "width", b.Dx(), "height", b.Dy())
	if !closed {
		e.render(pl)
	}
	close(e.ready)
}

// Ready is closed once decoding has finished, successfully or not
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Wait blocks until decoding finishes and returns the decode error, if any
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.ready:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Viewport returns the viewport size the engine is bound to
func (e *Engine) Viewport() types.Size {
	return e.viewport
}

// usable reports why the engine cannot serve a request. Caller holds mu.
func (e *Engine) usable() error {
	switch {
	case e.closed:
		return ErrClosed
	case e.err != nil:
		return e.err
	case e.img == nil:
		return ErrNotReady
	}
	return nil
}

// centered computes the framing that centers the image at ratio. Caller holds mu.
func (e *Engine) centered(ratio float64) State {
	b := e.img.Bounds()
	w := float64(b.Dx()) * ratio
	h := float64(b.Dy()) * ratio
	return State{
		Ratio: ratio,
		X:     (float64(e.viewport.Width) - w) / 2,
		Y:     (float64(e.viewport.Height) - h) / 2,
	}
}

// placement projects the state into viewport space. Caller holds mu.
func (e *Engine) placement() types.Placement {
	b := e.img.Bounds()
	return types.Placement{
		X:      e.state.X,
		Y:      e.state.Y,
		Width:  float64(b.Dx()) * e.state.Ratio,
		Height: float64(b.Dy()) * e.state.Ratio,
	}
}

func (e *Engine) render(pl types.Placement) {
	if e.renderer != nil {
		e.renderer.Render(pl)
	}
}

// State returns the current transform
func (e *Engine) State() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return State{}, err
	}
	return e.state, nil
}

// Placement returns the rendered background rectangle
func (e *Engine) Placement() (types.Placement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return types.Placement{}, err
	}
	return e.placement(), nil
}

// Image returns the decoded source image
func (e *Engine) Image() (image.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	return e.img, nil
}

// ZoomIn multiplies the ratio by 1.1 and recenters
func (e *Engine) ZoomIn() error {
	return e.zoom(ZoomInFactor)
}

// ZoomOut multiplies the ratio by 0.9 and recenters
func (e *Engine) ZoomOut() error {
	return e.zoom(ZoomOutFactor)
}

// zoom discards any pan: framing is recomputed centered at the new ratio.
func (e *Engine) zoom(factor float64) error {
	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = e.centered(e.state.Ratio * factor)
	pl := e.placement()
	ratio := e.state.Ratio
	e.mu.Unlock()

	e.logger.Debug("zoom", "ratio", ratio)
	e.render(pl)
	return nil
}

// Pan moves the background by a delta in viewport pixels
func (e *Engine) Pan(dx, dy float64) error {
	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state.X += dx
	e.state.Y += dy
	pl := e.placement()
	e.mu.Unlock()

	e.render(pl)
	return nil
}

// CenterOn pans so the normalized image point (fx, fy) lies at the viewport
// center. The ratio is kept.
func (e *Engine) CenterOn(fx, fy float64) error {
	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	pl := e.placement()
	e.state.X = float64(e.viewport.Width)/2 - fx*pl.Width
	e.state.Y = float64(e.viewport.Height)/2 - fy*pl.Height
	pl = e.placement()
	e.mu.Unlock()

	e.render(pl)
	return nil
}

// CropInfo computes where the scaled source lands inside a width x height
// output window centered on the viewport. It does not mutate state.
func (e *Engine) CropInfo(width, height int) (CropInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return CropInfo{}, err
	}
	return e.cropInfo(width, height), nil
}

func (e *Engine) cropInfo(width, height int) CropInfo {
	b := e.img.Bounds()
	w, h := float64(width), float64(height)
	return CropInfo{
		Width:  w,
		Height: h,
		DX:     e.state.X - float64(e.viewport.Width)/2 + w/2,
		DY:     e.state.Y - float64(e.viewport.Height)/2 + h/2,
		DW:     float64(b.Dx()) * e.state.Ratio,
		DH:     float64(b.Dy()) * e.state.Ratio,
		SW:     float64(b.Dx()),
		SH:     float64(b.Dy()),
		Ratio:  e.state.Ratio,
	}
}

// Raster draws the full source scaled to (dw, dh) at (dx, dy) on a
// transparent width x height canvas; only the part inside the window survives.
func (e *Engine) Raster(width, height int) (*image.RGBA, CropInfo, error) {
	if width <= 0 || height <= 0 {
		return nil, CropInfo{}, fmt.Errorf("invalid output size %dx%d", width, height)
	}

	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return nil, CropInfo{}, err
	}
	info := e.cropInfo(width, height)
	src := e.img
	e.mu.Unlock()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	processing.DrawPlaced(dst, src, types.Placement{
		X:      info.DX,
		Y:      info.DY,
		Width:  info.DW,
		Height: info.DH,
	}, e.interp)
	return dst, info, nil
}

// Close releases the pointer binding. Later calls return ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.dragging = false
}
