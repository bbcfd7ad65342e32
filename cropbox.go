// Package cropbox provides a headless interactive image cropping widget.
//
// A Cropbox walks the user through an ordered list of crop specifications.
// For each one the loaded image can be dragged and zoomed inside a fixed
// viewport; a capture then renders exactly the specified output size and
// records the geometry of the crop in a serialized results field.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/cropbox"
//		"github.com/menta2k/cropbox/pkg/session"
//		"github.com/menta2k/cropbox/pkg/types"
//	)
//
//	func main() {
//		box, err := cropbox.New(cropbox.Options{
//			Session: session.Config{
//				ViewportSize:       types.Size{Width: 600, Height: 400},
//				CropSpecifications: []types.CropSpecification{{Width: 300, Height: 300}},
//				ResultFieldID:      "crop-info",
//			},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer box.Close()
//
//		ctx := context.Background()
//		if err := box.LoadImage(ctx, "photo.jpg"); err != nil {
//			log.Fatal(err)
//		}
//		if err := box.WaitReady(ctx); err != nil {
//			log.Fatal(err)
//		}
//
//		box.Drag(-40, 10)
//		box.ZoomIn()
//
//		capture, err := box.Capture()
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(capture.Artifact.DataURL()[:32], box.ResultField())
//	}
//
// The package consists of two main components:
//
// 1. Engine (pkg/engine): zoom ratio, pan offset and raster extraction for one image
// 2. Session (pkg/session): sequencing of crop specifications and result serialization
//
// Auto-framing centers the image on a subject found by a local saliency
// detector (pkg/vision) or a vision model served by Ollama or llama.cpp
// (pkg/detection).
package cropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/menta2k/cropbox/internal/logging"
	"github.com/menta2k/cropbox/pkg/engine"
	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/session"
	"github.com/menta2k/cropbox/pkg/types"
)

// Version of the cropbox library
const Version = "1.0.0"

// ErrNoImage is returned when an operation needs a loaded image
var ErrNoImage = errors.New("no image loaded")

// Options configures a Cropbox
type Options struct {
	Session session.Config
	// Format of captured rasters; png when empty
	Format processing.Format
	// Interpolation names the resampling kernel; bilinear when empty
	Interpolation string
	Framer        session.Framer
	Processor     *processing.Processor
	Logger        *slog.Logger
}

// Cropbox is a crop session bound to an in-memory view and result field
type Cropbox struct {
	ctrl  *session.Controller
	view  *session.MemoryView
	field *session.MemoryField
	proc  *processing.Processor
}

// New creates a Cropbox in its "no image loaded" state
func New(opts Options) (*Cropbox, error) {
	interp, err := processing.Interpolator(opts.Interpolation)
	if err != nil {
		return nil, err
	}
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}

	sessionOpts := []session.Option{
		session.WithProcessor(opts.Processor),
		session.WithInterpolator(interp),
	}
	if opts.Format != "" {
		sessionOpts = append(sessionOpts, session.WithFormat(opts.Format))
	}
	if opts.Framer != nil {
		sessionOpts = append(sessionOpts, session.WithFramer(opts.Framer))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	sessionOpts = append(sessionOpts, session.WithLogger(opts.Logger))

	view := session.NewMemoryView()
	field := session.NewMemoryField()
	ctrl, err := session.New(opts.Session, view, field, sessionOpts...)
	if err != nil {
		return nil, err
	}

	return &Cropbox{ctrl: ctrl, view: view, field: field, proc: opts.Processor}, nil
}

// LoadImage loads an image from a file path, an http(s) URL or a data URL
func (c *Cropbox) LoadImage(ctx context.Context, source string) error {
	if processing.IsDataURL([]byte(source)) {
		return c.LoadBytes(ctx, []byte(source))
	}
	data, err := c.proc.ReadSource(ctx, source)
	if err != nil {
		return err
	}
	return c.LoadBytes(ctx, data)
}

// LoadBytes loads raw image bytes or a data URL
func (c *Cropbox) LoadBytes(ctx context.Context, data []byte) error {
	return c.ctrl.OnFileSelected(ctx, bytes.NewReader(data))
}

// LoadReader loads an image from r
func (c *Cropbox) LoadReader(ctx context.Context, r io.Reader) error {
	return c.ctrl.OnFileSelected(ctx, r)
}

// WaitReady blocks until the loaded image is decoded
func (c *Cropbox) WaitReady(ctx context.Context) error {
	eng := c.ctrl.Engine()
	if eng == nil {
		return ErrNoImage
	}
	return eng.Wait(ctx)
}

// Pointer forwards a pointer event and returns the resulting placement
func (c *Cropbox) Pointer(ev engine.PointerEvent) *types.Placement {
	c.ctrl.OnPointer(ev)
	return c.view.Snapshot().Background
}

// Drag performs a complete down/move/up gesture moving the image by (dx, dy)
func (c *Cropbox) Drag(dx, dy float64) *types.Placement {
	c.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerDown})
	c.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerMove, X: dx, Y: dy})
	return c.Pointer(engine.PointerEvent{Kind: engine.PointerUp, X: dx, Y: dy})
}

// ZoomIn enlarges the image by 10% and recenters it
func (c *Cropbox) ZoomIn() error {
	return c.ctrl.OnZoomIn()
}

// ZoomOut shrinks the image by 10% and recenters it
func (c *Cropbox) ZoomOut() error {
	return c.ctrl.OnZoomOut()
}

// Capture renders the active crop. It returns nil, nil when no decoded image
// is loaded.
func (c *Cropbox) Capture() (*session.Capture, error) {
	return c.ctrl.OnCapture()
}

// AutoFrame centers the image on the subject reported by the framer
func (c *Cropbox) AutoFrame(ctx context.Context) error {
	return c.ctrl.OnAutoFrame(ctx)
}

// Snapshot returns the current view state
func (c *Cropbox) Snapshot() session.Snapshot {
	return c.view.Snapshot()
}

// ResultField returns the serialized results
func (c *Cropbox) ResultField() string {
	return c.field.Value()
}

// Results decodes the serialized results
func (c *Cropbox) Results() ([]*types.CropResult, error) {
	return c.ctrl.Results()
}

// Raster returns the artifact of the index-th capture of the current image
func (c *Cropbox) Raster(index int) (processing.Artifact, error) {
	rasters := c.view.Snapshot().Rasters
	if index < 0 || index >= len(rasters) {
		return processing.Artifact{}, fmt.Errorf("raster %d not found (have %d)", index, len(rasters))
	}
	return rasters[index], nil
}

// Preview renders the viewport with the active crop frame
func (c *Cropbox) Preview() (*image.NRGBA, error) {
	return c.ctrl.Preview()
}

// PreviewArtifact renders the preview as a PNG artifact
func (c *Cropbox) PreviewArtifact() (processing.Artifact, error) {
	img, err := c.ctrl.Preview()
	if err != nil {
		return processing.Artifact{}, err
	}
	return c.proc.Encode(img, processing.FormatPNG)
}

// ActiveIndex returns the index of the crop specification collected next
func (c *Cropbox) ActiveIndex() int {
	return c.ctrl.ActiveIndex()
}

// Config returns the session configuration
func (c *Cropbox) Config() session.Config {
	return c.ctrl.Config()
}

// Dragging reports whether a drag gesture is in progress
func (c *Cropbox) Dragging() bool {
	eng := c.ctrl.Engine()
	return eng != nil && eng.Dragging()
}

// Close releases the loaded image
func (c *Cropbox) Close() {
	c.ctrl.Close()
}

// GetVersion returns the version of the library
func GetVersion() string {
	return Version
}
