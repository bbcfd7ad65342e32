package processing

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Format is a raster output encoding
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
)

// ParseFormat maps a user supplied name to a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use png, webp or jpeg)", name)
	}
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// MediaType returns the MIME type of the encoding
func (f Format) MediaType() string {
	return "image/" + string(f)
}

// Artifact is an encoded raster produced by a capture
type Artifact struct {
	Format Format `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"-"`
}

// DataURL renders the artifact the way a canvas toDataURL call does
func (a Artifact) DataURL() string {
	return "data:" + a.Format.MediaType() + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
