// Package session sequences crop captures over an ordered list of crop
// specifications and accumulates their results in a host-owned field.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/cropbox/pkg/engine"
	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/types"
)

// Framer suggests a focus point in normalized image coordinates
type Framer interface {
	FocusPoint(ctx context.Context, img image.Image) (fx, fy float64, err error)
}

// Capture is the outcome of one successful capture
type Capture struct {
	Index    int                 `json:"index"`
	Result   types.CropResult    `json:"result"`
	Info     engine.CropInfo     `json:"info"`
	Artifact processing.Artifact `json:"artifact"`
	Complete bool                `json:"complete"`
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithProcessor sets the image decoder/encoder
func WithProcessor(p *processing.Processor) Option {
	return func(c *Controller) { c.proc = p }
}

// WithFormat sets the raster artifact encoding
func WithFormat(f processing.Format) Option {
	return func(c *Controller) { c.format = f }
}

// WithInterpolator sets the resampling kernel for rasters and previews
func WithInterpolator(i xdraw.Interpolator) Option {
	return func(c *Controller) { c.interp = i }
}

// WithFramer enables auto-framing
func WithFramer(f Framer) Option {
	return func(c *Controller) { c.framer = f }
}

// Controller drives one crop session
type Controller struct {
	cfg    Config
	view   View
	field  Field
	logger *slog.Logger
	proc   *processing.Processor
	format processing.Format
	interp xdraw.Interpolator
	framer Framer

	// renderMu orders generation changes with view renders so a replaced
	// engine cannot repaint the view
	renderMu sync.Mutex
	gen      uint64

	mu     sync.Mutex
	engine *engine.Engine
	active int
}

// New validates cfg and puts the view in its initial "no image loaded" state
func New(cfg Config, view View, field Field, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if view == nil || field == nil {
		return nil, fmt.Errorf("view and field are required")
	}

	c := &Controller{
		cfg:    cfg,
		view:   view,
		field:  field,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		format: processing.FormatPNG,
		interp: xdraw.BiLinear,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proc == nil {
		c.proc = processing.NewProcessor()
	}

	c.view.Clear()
	c.view.ResizeViewport(cfg.ViewportSize)
	c.showSpecification(0)
	return c, nil
}

func (c *Controller) showSpecification(index int) {
	c.view.ResizeFrame(c.cfg.CropSpecifications[index].Frame())
	if msg, ok := c.cfg.message(index); ok {
		c.view.ShowMessage(msg)
	}
}

// OnFileSelected reads a newly selected image and binds a fresh engine to it.
// Any previous engine is released.
func (c *Controller) OnFileSelected(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(ctxReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	c.OnImageData(data)
	return nil
}

// OnImageData binds a fresh engine to already-read image bytes or a data URL
func (c *Controller) OnImageData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine != nil {
		c.engine.Close()
	}
	gen := c.retire()
	c.view.Activate()
	c.field.SetValue("")

	render := engine.RendererFunc(func(p types.Placement) {
		c.renderMu.Lock()
		defer c.renderMu.Unlock()
		if c.gen == gen {
			c.view.Render(p)
		}
	})
	c.engine = engine.New(data, c.cfg.ViewportSize,
		engine.WithRenderer(render),
		engine.WithLogger(c.logger),
		engine.WithInterpolator(c.interp),
		engine.WithProcessor(c.proc),
	)
	c.logger.Info("image selected", "bytes", len(data), "active_index", c.active)
}

// OnCapture extracts the active crop. Without a decoded image it does nothing
// and returns nil, nil. A failed decode is reported as an engine.ErrDecode error.
func (c *Controller) OnCapture() (*Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return nil, nil
	}

	index := c.active
	spec := c.cfg.CropSpecifications[index]
	raster, info, err := c.engine.Raster(spec.Width, spec.Height)
	if errors.Is(err, engine.ErrNotReady) {
		c.logger.Debug("capture ignored while decoding")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capture %d: %w", index, err)
	}

	artifact, err := c.proc.Encode(raster, c.format)
	if err != nil {
		return nil, fmt.Errorf("capture %d: %w", index, err)
	}

	results, err := DecodeResults(c.field.Value())
	if err != nil {
		c.logger.Warn("result field unreadable, starting over", "field", c.cfg.ResultFieldID, "error", err)
		results = []*types.CropResult{}
	}
	result := info.Result()
	text, err := EncodeResults(setResult(results, index, result))
	if err != nil {
		return nil, fmt.Errorf("capture %d: %w", index, err)
	}

	c.view.AppendRaster(artifact)
	c.field.SetValue(text)

	capture := &Capture{
		Index:    index,
		Result:   result,
		Info:     info,
		Artifact: artifact,
	}
	c.logger.Info("crop captured",
		"index", index,
		"width", spec.Width,
		"height", spec.Height,
		"x", result.X,
		"y", result.Y,
		"ratio", result.Ratio,
	)

	c.active++
	if c.active >= len(c.cfg.CropSpecifications) {
		c.active = 0
		capture.Complete = true
		c.engine.Close()
		c.engine = nil
		c.retire()
		c.view.Clear()
		c.logger.Info("session complete", "captures", len(c.cfg.CropSpecifications))
	}
	c.showSpecification(c.active)
	return capture, nil
}

// OnZoomIn forwards to the engine when an image is loaded
func (c *Controller) OnZoomIn() error {
	return c.zoom((*engine.Engine).ZoomIn)
}

// OnZoomOut forwards to the engine when an image is loaded
func (c *Controller) OnZoomOut() error {
	return c.zoom((*engine.Engine).ZoomOut)
}

func (c *Controller) zoom(fn func(*engine.Engine) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return nil
	}
	if err := fn(c.engine); err != nil && !errors.Is(err, engine.ErrNotReady) {
		return fmt.Errorf("zoom: %w", err)
	}
	return nil
}

// OnPointer routes a pointer event to the current engine
func (c *Controller) OnPointer(ev engine.PointerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine != nil {
		c.engine.HandlePointer(ev)
	}
}

// OnAutoFrame asks the framer for a focus point and centers the image on it.
// It is a no-op without a framer or a decoded image.
func (c *Controller) OnAutoFrame(ctx context.Context) error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()

	if c.framer == nil || eng == nil {
		return nil
	}
	img, err := eng.Image()
	if errors.Is(err, engine.ErrNotReady) || errors.Is(err, engine.ErrClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-frame: %w", err)
	}

	fx, fy, err := c.framer.FocusPoint(ctx, img)
	if err != nil {
		return fmt.Errorf("auto-frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != eng {
		c.logger.Debug("auto-frame result dropped, image replaced")
		return nil
	}
	c.logger.Info("auto-framed", "fx", fx, "fy", fy)
	if err := eng.CenterOn(fx, fy); err != nil && !errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("auto-frame: %w", err)
	}
	return nil
}

// ActiveIndex returns the index of the crop specification collected next
func (c *Controller) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Frame returns the overlay of the active crop specification
func (c *Controller) Frame() types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.CropSpecifications[c.active].Frame()
}

// Config returns the session configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Engine returns the current engine, or nil when no image is loaded
func (c *Controller) Engine() *engine.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Results decodes the accumulated results from the field
func (c *Controller) Results() ([]*types.CropResult, error) {
	return DecodeResults(c.field.Value())
}

// Preview renders the viewport with the active crop frame
func (c *Controller) Preview() (*image.NRGBA, error) {
	c.mu.Lock()
	eng := c.engine
	frame := c.cfg.CropSpecifications[c.active].Frame()
	c.mu.Unlock()

	if eng == nil {
		return processing.RenderViewport(nil, types.Placement{}, c.cfg.ViewportSize, nil, c.interp), nil
	}
	img, err := eng.Image()
	if errors.Is(err, engine.ErrNotReady) {
		return processing.RenderViewport(nil, types.Placement{}, c.cfg.ViewportSize, &frame, c.interp), nil
	}
	if err != nil {
		return nil, err
	}
	pl, err := eng.Placement()
	if err != nil {
		return nil, err
	}
	return processing.RenderViewport(img, pl, c.cfg.ViewportSize, &frame, c.interp), nil
}

// Close releases the current engine
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		c.engine.Close()
		c.engine = nil
		c.retire()
	}
}

// retire invalidates pending renders of the current engine and returns the
// new generation
func (c *Controller) retire() uint64 {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.gen++
	return c.gen
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
