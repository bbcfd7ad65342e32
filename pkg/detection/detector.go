package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/cropbox/pkg/client"
	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model to locate the subject the crop should follow
const DefaultPrompt = `You are an image subject locator for a photo cropping tool.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3", "tag4", "tag5"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner of the box.
- cx,cy is the point a crop should be centered on: a face or the visual center of the subject.
- The box should tightly include the visually dominant subject (prefer people/vehicles/animals; else the most salient object).
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50},"cx":0.5,"cy":0.5},
    "description":"centered generic scene",
    "tags":["generic","center","subject","photo","scene"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options controls how images are sent to the model
type Options struct {
	Model         string
	Prompt        string
	SendFormat    string
	SendSize      int
	SendQuality   int
	MinConfidence float64
}

// DefaultOptions returns options suited to small local vision models
func DefaultOptions(model string) Options {
	return Options{
		Model:         model,
		Prompt:        DefaultPrompt,
		SendFormat:    "jpg",
		SendSize:      672,
		SendQuality:   90,
		MinConfidence: 0.2,
	}
}

// Detector locates image subjects using a vision model
type Detector struct {
	client client.VisionClient
	proc   *processing.Processor
	opts   Options
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, opts Options) *Detector {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Detector{client: client, proc: processing.NewProcessor(), opts: opts}
}

// FocusPoint asks the model for the subject and returns its normalized
// center. Uncertain answers fall back to the image center.
func (d *Detector) FocusPoint(ctx context.Context, img image.Image) (float64, float64, error) {
	imgB64, err := d.proc.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare image: %w", err)
	}

	result, err := d.DetectSubject(ctx, imgB64)
	if err != nil {
		return 0, 0, err
	}
	if result.Primary.Label == "none" || result.Primary.Confidence < d.opts.MinConfidence {
		return 0.5, 0.5, nil
	}
	return focusOf(result.Primary)
}

// DetectSubject analyzes a base64 encoded image and detects the primary subject
func (d *Detector) DetectSubject(ctx context.Context, imageB64 string) (*types.AnalysisResult, error) {
	result, err := d.client.AnalyzeImage(ctx, d.opts.Model, d.opts.Prompt, imageB64)
	if err != nil {
		return nil, fmt.Errorf("subject detection failed: %w", err)
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	return validateResult(result), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.opts.Model, SimpleTestPrompt, imageB64)
}

// Describe prepares img the way FocusPoint does and asks the model to
// describe it, which shows whether the model receives the image at all
func (d *Detector) Describe(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.proc.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	answer, err := d.TestVision(ctx, imgB64)
	if err != nil {
		return "", fmt.Errorf("vision test failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// focusOf prefers the reported center and keeps it inside the box
func focusOf(p types.Primary) (float64, float64, error) {
	b := p.Box
	cx, cy := p.Cx, p.Cy
	if cx <= 0 && cy <= 0 {
		cx, cy = b.X+b.W/2, b.Y+b.H/2
	}
	if b.W > 0 && b.H > 0 {
		cx = clamp(cx, b.X, b.X+b.W)
		cy = clamp(cy, b.Y, b.Y+b.H)
	}
	return clamp(cx, 0, 1), clamp(cy, 0, 1), nil
}

var fallbackIndicators = []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "no json"}

// validateResult marks the client's fallback answers as "none"
func validateResult(result *types.AnalysisResult) *types.AnalysisResult {
	label := strings.ToLower(result.Primary.Label)
	if label == "none" {
		return result
	}

	desc := strings.ToLower(result.Description)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) || strings.Contains(desc, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0.0
			break
		}
	}
	return result
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
