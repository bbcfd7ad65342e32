package session

import (
	"sync"

	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/types"
)

// View is the display surface of the widget. Implementations must be safe
// for use from multiple goroutines: Render is called from the decode goroutine.
type View interface {
	// Clear puts the view in the "no image loaded" state: capture and zoom
	// controls disabled, viewport, frame and message hidden.
	Clear()
	// Activate enables the controls, shows viewport and message and empties
	// the results area.
	Activate()
	ResizeViewport(types.Size)
	ResizeFrame(types.Frame)
	ShowMessage(string)
	AppendRaster(processing.Artifact)
	Render(types.Placement)
}

// Field is the host-owned text value holding serialized results
type Field interface {
	Value() string
	SetValue(string)
}

// Snapshot is a copy of the state of a MemoryView
type Snapshot struct {
	ControlsEnabled bool                  `json:"controlsEnabled"`
	Visible         bool                  `json:"visible"`
	Viewport        types.Size            `json:"viewport"`
	Frame           types.Frame           `json:"frame"`
	Message         string                `json:"message"`
	Background      *types.Placement      `json:"background,omitempty"`
	Rasters         []processing.Artifact `json:"rasters"`
}

// MemoryView records view updates in memory
type MemoryView struct {
	mu    sync.Mutex
	state Snapshot
}

// NewMemoryView creates an empty view
func NewMemoryView() *MemoryView {
	return &MemoryView{}
}

func (v *MemoryView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.ControlsEnabled = false
	v.state.Visible = false
	v.state.Background = nil
}

func (v *MemoryView) Activate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.ControlsEnabled = true
	v.state.Visible = true
	v.state.Rasters = nil
	v.state.Background = nil
}

func (v *MemoryView) ResizeViewport(s types.Size) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Viewport = s
}

func (v *MemoryView) ResizeFrame(f types.Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Frame = f
}

func (v *MemoryView) ShowMessage(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Message = msg
}

func (v *MemoryView) AppendRaster(a processing.Artifact) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Rasters = append(v.state.Rasters, a)
}

func (v *MemoryView) Render(p types.Placement) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Background = &p
}

// Snapshot returns a copy of the current view state
func (v *MemoryView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.state
	if s.Background != nil {
		bg := *s.Background
		s.Background = &bg
	}
	s.Rasters = append([]processing.Artifact(nil), v.state.Rasters...)
	return s
}

// MemoryField is an in-memory Field
type MemoryField struct {
	mu    sync.RWMutex
	value string
}

// NewMemoryField creates an empty field
func NewMemoryField() *MemoryField {
	return &MemoryField{}
}

func (f *MemoryField) Value() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

func (f *MemoryField) SetValue(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = s
}

var (
	_ View  = (*MemoryView)(nil)
	_ Field = (*MemoryField)(nil)
)
