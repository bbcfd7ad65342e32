package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/cropbox/pkg/engine"
	"github.com/menta2k/cropbox/pkg/types"
)

func createTestImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testConfig() Config {
	return Config{
		ViewportSize: types.Size{Width: 200, Height: 200},
		CropSpecifications: []types.CropSpecification{
			{Width: 100, Height: 100},
			{Width: 50, Height: 50},
		},
		ResultFieldID: "crop-info",
		Messages:      []string{"Select the large crop", "Select the small crop"},
	}
}

type fixture struct {
	ctrl  *Controller
	view  *MemoryView
	field *MemoryField
}

func newFixture(t *testing.T, cfg Config, opts ...Option) fixture {
	t.Helper()
	view := NewMemoryView()
	field := NewMemoryField()
	ctrl, err := New(cfg, view, field, opts...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	return fixture{ctrl: ctrl, view: view, field: field}
}

func (f fixture) load(t *testing.T, data []byte) *engine.Engine {
	t.Helper()
	require.NoError(t, f.ctrl.OnFileSelected(context.Background(), bytes.NewReader(data)))
	eng := f.ctrl.Engine()
	require.NotNil(t, eng)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Wait(ctx))
	return eng
}

func TestNewInitialState(t *testing.T) {
	f := newFixture(t, testConfig())

	snap := f.view.Snapshot()
	require.False(t, snap.ControlsEnabled)
	require.False(t, snap.Visible)
	require.Equal(t, types.Size{Width: 200, Height: 200}, snap.Viewport)
	require.Equal(t, types.Frame{Width: 100, Height: 100, MarginTop: -50, MarginLeft: -50}, snap.Frame)
	require.Equal(t, "Select the large crop", snap.Message)
	require.Equal(t, 0, f.ctrl.ActiveIndex())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"no specifications": func(c *Config) { c.CropSpecifications = nil },
		"zero viewport":     func(c *Config) { c.ViewportSize = types.Size{} },
		"negative crop":     func(c *Config) { c.CropSpecifications[1].Height = -1 },
		"no field":          func(c *Config) { c.ResultFieldID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(cfg, NewMemoryView(), NewMemoryField())
			require.Error(t, err)
		})
	}
}

func TestCaptureBeforeLoadIsNoop(t *testing.T) {
	f := newFixture(t, testConfig())
	f.field.SetValue("untouched")

	capture, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.Nil(t, capture)
	require.Equal(t, "untouched", f.field.Value())
	require.Equal(t, 0, f.ctrl.ActiveIndex())

	require.NoError(t, f.ctrl.OnZoomIn())
	require.NoError(t, f.ctrl.OnZoomOut())
	require.NoError(t, f.ctrl.OnAutoFrame(context.Background()))
}

func TestLoadActivatesView(t *testing.T) {
	f := newFixture(t, testConfig())
	f.field.SetValue(`[{"x":1,"y":2,"dw":3,"dh":4,"ratio":1}]`)

	f.load(t, createTestImage(t, 300, 200))

	snap := f.view.Snapshot()
	require.True(t, snap.ControlsEnabled)
	require.True(t, snap.Visible)
	require.Empty(t, snap.Rasters)
	require.Empty(t, f.field.Value())
	require.NotNil(t, snap.Background)
	require.Equal(t, types.Placement{X: -50, Y: 0, Width: 300, Height: 200}, *snap.Background)
}

func TestCaptureSequence(t *testing.T) {
	f := newFixture(t, testConfig())
	f.load(t, createTestImage(t, 300, 200))

	first, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 0, first.Index)
	require.False(t, first.Complete)
	require.Equal(t, 1, f.ctrl.ActiveIndex())

	snap := f.view.Snapshot()
	require.Equal(t, types.Frame{Width: 50, Height: 50, MarginTop: -25, MarginLeft: -25}, snap.Frame)
	require.Equal(t, "Select the small crop", snap.Message)
	require.True(t, snap.ControlsEnabled)
	require.Len(t, snap.Rasters, 1)

	results, err := f.ctrl.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)

	second, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, 1, second.Index)
	require.True(t, second.Complete)
	require.Equal(t, 0, f.ctrl.ActiveIndex())
	require.Nil(t, f.ctrl.Engine())

	snap = f.view.Snapshot()
	require.False(t, snap.ControlsEnabled)
	require.False(t, snap.Visible)
	require.Equal(t, types.Frame{Width: 100, Height: 100, MarginTop: -50, MarginLeft: -50}, snap.Frame)
	require.Equal(t, "Select the large crop", snap.Message)
	require.Len(t, snap.Rasters, 2)

	for i, want := range []int{100, 50} {
		cfg, err := png.DecodeConfig(bytes.NewReader(snap.Rasters[i].Data))
		require.NoError(t, err)
		require.Equal(t, want, cfg.Width)
		require.Equal(t, want, cfg.Height)
	}

	results, err = f.ctrl.Results()
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])

	// the engine was released with the session
	capture, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.Nil(t, capture)
}

func TestCaptureRecordsGeometry(t *testing.T) {
	f := newFixture(t, testConfig())
	eng := f.load(t, createTestImage(t, 300, 200))

	require.NoError(t, f.ctrl.OnZoomIn())
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerDown, X: 100, Y: 100})
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerMove, X: 110, Y: 95})
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerUp, X: 400, Y: 400})

	st, err := eng.State()
	require.NoError(t, err)

	capture, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.Equal(t, st.X-100+50, capture.Result.X)
	require.Equal(t, st.Y-100+50, capture.Result.Y)
	require.Equal(t, 300*st.Ratio, capture.Result.DW)
	require.Equal(t, 200*st.Ratio, capture.Result.DH)
	require.Equal(t, st.Ratio, capture.Result.Ratio)

	results, err := f.ctrl.Results()
	require.NoError(t, err)
	require.Equal(t, capture.Result, *results[0])
}

func TestCaptureRecoversMalformedField(t *testing.T) {
	f := newFixture(t, testConfig())
	f.load(t, createTestImage(t, 120, 80))
	f.field.SetValue("{not json")

	capture, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.NotNil(t, capture)

	results, err := f.ctrl.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCaptureKeepsOtherSlots(t *testing.T) {
	cfg := testConfig()
	cfg.CropSpecifications = append(cfg.CropSpecifications, types.CropSpecification{Width: 20, Height: 10})
	f := newFixture(t, cfg)
	f.load(t, createTestImage(t, 120, 80))

	_, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	// a host edit to a later slot survives the next capture
	f.field.SetValue(f.field.Value()[:len(f.field.Value())-1] + `,null,{"x":9,"y":9,"dw":9,"dh":9,"ratio":9}]`)

	_, err = f.ctrl.OnCapture()
	require.NoError(t, err)

	results, err := f.ctrl.Results()
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NotNil(t, results[1])
	require.Equal(t, 9.0, results[2].Ratio)
}

func TestDecodeFailureIsReported(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.ctrl.OnFileSelected(context.Background(), strings.NewReader("not an image")))
	eng := f.ctrl.Engine()
	require.ErrorIs(t, eng.Wait(context.Background()), engine.ErrDecode)

	capture, err := f.ctrl.OnCapture()
	require.Nil(t, capture)
	require.ErrorIs(t, err, engine.ErrDecode)
	require.Empty(t, f.field.Value())

	require.ErrorIs(t, f.ctrl.OnZoomIn(), engine.ErrDecode)
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerDown})
}

func TestNewImageReplacesEngine(t *testing.T) {
	f := newFixture(t, testConfig())
	old := f.load(t, createTestImage(t, 300, 200))
	_, err := f.ctrl.OnCapture()
	require.NoError(t, err)

	current := f.load(t, createTestImage(t, 60, 40))
	require.NotSame(t, old, current)
	require.ErrorIs(t, old.ZoomIn(), engine.ErrClosed)

	// a late render from the released engine must not reach the view
	snap := f.view.Snapshot()
	require.Equal(t, types.Placement{X: 70, Y: 80, Width: 60, Height: 40}, *snap.Background)
	require.Equal(t, 1, f.ctrl.ActiveIndex())
}

// gatedView holds the first render until released
type gatedView struct {
	*MemoryView
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (v *gatedView) Render(p types.Placement) {
	first := false
	v.once.Do(func() { first = true })
	if first {
		close(v.entered)
		<-v.release
	}
	v.MemoryView.Render(p)
}

func TestInFlightRenderLandsBeforeNewImage(t *testing.T) {
	view := &gatedView{
		MemoryView: NewMemoryView(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	ctrl, err := New(testConfig(), view, NewMemoryField())
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	ctrl.OnImageData(createTestImage(t, 300, 200))
	select {
	case <-view.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first render never started")
	}

	small := createTestImage(t, 60, 40)
	done := make(chan struct{})
	go func() {
		ctrl.OnImageData(small)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(view.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("new image was never bound")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Engine().Wait(ctx))

	snap := view.Snapshot()
	require.NotNil(t, snap.Background)
	require.Equal(t, types.Placement{X: 70, Y: 80, Width: 60, Height: 40}, *snap.Background)
}

func TestCustomMargins(t *testing.T) {
	top, left := 10.0, -5.0
	cfg := testConfig()
	cfg.CropSpecifications[1].MarginTop = &top
	cfg.CropSpecifications[1].MarginLeft = &left
	f := newFixture(t, cfg)
	f.load(t, createTestImage(t, 100, 100))

	_, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.Equal(t, types.Frame{Width: 50, Height: 50, MarginTop: 10, MarginLeft: -5}, f.ctrl.Frame())
}

func TestZeroMarginsCenterFrame(t *testing.T) {
	var spec types.CropSpecification
	require.NoError(t, json.Unmarshal([]byte(`{"width":100,"height":80,"marginTop":0,"marginLeft":0}`), &spec))
	require.Equal(t, types.Frame{Width: 100, Height: 80, MarginTop: -40, MarginLeft: -50}, spec.Frame())

	zero, left := 0.0, -5.0
	spec = types.CropSpecification{Width: 100, Height: 80, MarginTop: &zero, MarginLeft: &left}
	require.Equal(t, types.Frame{Width: 100, Height: 80, MarginTop: -40, MarginLeft: -5}, spec.Frame())
}

func TestEventsDuringDecodeAndSupersededDecode(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.ctrl.OnFileSelected(context.Background(), bytes.NewReader(createTestImage(t, 2000, 1500))))
	old := f.ctrl.Engine()
	require.NotNil(t, old)

	// events while decoding do nothing
	capture, err := f.ctrl.OnCapture()
	require.NoError(t, err)
	require.Nil(t, capture)
	require.NoError(t, f.ctrl.OnZoomIn())
	require.NoError(t, f.ctrl.OnZoomOut())
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerDown})
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerMove, X: 30, Y: 30})
	f.ctrl.OnPointer(engine.PointerEvent{Kind: engine.PointerUp, X: 30, Y: 30})
	require.Empty(t, f.field.Value())
	require.Equal(t, 0, f.ctrl.ActiveIndex())

	current := f.load(t, createTestImage(t, 60, 40))
	require.NotSame(t, old, current)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// the replaced engine may finish or report closed; either way it is done
	_ = old.Wait(ctx)

	snap := f.view.Snapshot()
	require.NotNil(t, snap.Background)
	require.Equal(t, types.Placement{X: 70, Y: 80, Width: 60, Height: 40}, *snap.Background)
	require.Empty(t, f.field.Value())
}

type stubFramer struct {
	fx, fy float64
	err    error
}

func (s stubFramer) FocusPoint(ctx context.Context, img image.Image) (float64, float64, error) {
	return s.fx, s.fy, s.err
}

func TestAutoFrame(t *testing.T) {
	f := newFixture(t, testConfig(), WithFramer(stubFramer{fx: 0.25, fy: 0.5}))
	eng := f.load(t, createTestImage(t, 200, 100))

	require.NoError(t, f.ctrl.OnAutoFrame(context.Background()))
	st, err := eng.State()
	require.NoError(t, err)
	require.Equal(t, 100.0-50, st.X)
	require.Equal(t, 100.0-50, st.Y)
}

func TestAutoFrameError(t *testing.T) {
	boom := errors.New("model offline")
	f := newFixture(t, testConfig(), WithFramer(stubFramer{err: boom}))
	f.load(t, createTestImage(t, 200, 100))

	require.ErrorIs(t, f.ctrl.OnAutoFrame(context.Background()), boom)
}

func TestPreview(t *testing.T) {
	f := newFixture(t, testConfig())

	img, err := f.ctrl.Preview()
	require.NoError(t, err)
	require.Equal(t, 200, img.Bounds().Dx())

	f.load(t, createTestImage(t, 300, 200))
	img, err = f.ctrl.Preview()
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())
}

func TestFileSelectedHonoursContext(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.OnFileSelected(ctx, bytes.NewReader(createTestImage(t, 10, 10)))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, f.ctrl.Engine())
}
