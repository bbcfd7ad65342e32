package types

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the complete analysis result from the vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Size is a width/height pair in display pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropSpecification describes one output raster to collect.
// Margins position the crop-frame overlay; nil means centered.
type CropSpecification struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	MarginTop  *float64 `json:"marginTop,omitempty"`
	MarginLeft *float64 `json:"marginLeft,omitempty"`
}

// Frame resolves the overlay geometry for the specification. A missing or
// zero margin centers the frame on that axis.
func (s CropSpecification) Frame() Frame {
	f := Frame{
		Width:      s.Width,
		Height:     s.Height,
		MarginTop:  -float64(s.Height) / 2,
		MarginLeft: -float64(s.Width) / 2,
	}
	if s.MarginTop != nil && *s.MarginTop != 0 {
		f.MarginTop = *s.MarginTop
	}
	if s.MarginLeft != nil && *s.MarginLeft != 0 {
		f.MarginLeft = *s.MarginLeft
	}
	return f
}

// Frame is the resolved crop-frame overlay
type Frame struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
}

// Placement is the rendered background rectangle in viewport space
type Placement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CropResult is the geometry recorded for one capture
type CropResult struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DW    float64 `json:"dw"`
	DH    float64 `json:"dh"`
	Ratio float64 `json:"ratio"`
}
