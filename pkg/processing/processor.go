package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// maxFetchSize bounds images downloaded over HTTP
var maxFetchSize int64 = 64 << 20

// Config holds configuration for decoding and encoding
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	JPEGQuality      int
}

// DefaultConfig returns the decoder/encoder defaults
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"png", "jpeg", "gif", "webp", "bmp", "tiff"},
		MinImageSize:     1,
		JPEGQuality:      90,
	}
}

// Processor handles image decoding and raster encoding
type Processor struct {
	config Config
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{config: DefaultConfig()}
}

// NewProcessorWithConfig creates a processor with custom configuration
func NewProcessorWithConfig(config Config) *Processor {
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = DefaultConfig().JPEGQuality
	}
	return &Processor{config: config}
}

// Decode turns raw image bytes or a data URL into an image.
// EXIF orientation is applied so the natural size matches what a browser shows.
func (p *Processor) Decode(src []byte) (image.Image, error) {
	data := src
	if IsDataURL(src) {
		var err error
		if data, err = ParseDataURL(string(src)); err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// chai2010 handles some extended WebP files the x/image decoder rejects
		img, werr := webp.Decode(bytes.NewReader(data))
		if werr != nil {
			return nil, fmt.Errorf("image: unknown or unsupported format: %w", err)
		}
		if err := p.validate(img, "webp"); err != nil {
			return nil, err
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	if err := p.validate(img, format); err != nil {
		return nil, err
	}
	return img, nil
}

func (p *Processor) validate(img image.Image, format string) error {
	if !p.isFormatSupported(format) {
		return fmt.Errorf("unsupported image format: %s", format)
	}
	b := img.Bounds()
	if b.Dx() < p.config.MinImageSize || b.Dy() < p.config.MinImageSize || b.Empty() {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), p.config.MinImageSize)
	}
	return nil
}

func (p *Processor) isFormatSupported(format string) bool {
	if len(p.config.SupportedFormats) == 0 {
		return true
	}
	for _, supported := range p.config.SupportedFormats {
		if strings.EqualFold(format, supported) || (format == "jpeg" && strings.EqualFold(supported, "jpg")) {
			return true
		}
	}
	return false
}

// IsDataURL reports whether src starts with a data: scheme
func IsDataURL(src []byte) bool {
	return len(src) > 5 && strings.EqualFold(string(src[:5]), "data:")
}

// ParseDataURL extracts the payload of a data URL
func ParseDataURL(s string) ([]byte, error) {
	if !IsDataURL([]byte(s)) {
		return nil, fmt.Errorf("not a data URL")
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URL: missing payload")
	}
	meta, payload := s[5:comma], s[comma+1:]
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data URL: %w", err)
		}
		return data, nil
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URL: %w", err)
	}
	return []byte(raw), nil
}

// ReadSource reads image bytes from a file path or an http(s) URL
func (p *Processor) ReadSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.FetchImage(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// FetchImage downloads image bytes from a URL. Bodies larger than 64 MiB
// are rejected.
func (p *Processor) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "cropbox/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > maxFetchSize {
		return nil, fmt.Errorf("image too large: more than %d bytes", maxFetchSize)
	}
	return data, nil
}

// Encode renders img as a raster artifact in the requested format
func (p *Processor) Encode(img image.Image, format Format) (Artifact, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case FormatPNG, "":
		format = FormatPNG
		err = imaging.Encode(&buf, img, imaging.PNG)
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Lossless: true})
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.JPEGQuality))
	default:
		return Artifact{}, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	b := img.Bounds()
	return Artifact{
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Data:   buf.Bytes(),
	}, nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
