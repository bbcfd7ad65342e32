package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/cropbox/pkg/types"
)

type fakeClient struct {
	result *types.AnalysisResult
	err    error

	model  string
	prompt string
	image  string
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.model, f.prompt, f.image = model, prompt, imgB64
	return "a red square", f.err
}

func (f *fakeClient) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error) {
	f.model, f.prompt, f.image = model, prompt, imgB64
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 10, 10, 255})
		}
	}
	return img
}

func subject(label string, conf float64, box types.Box, cx, cy float64) *types.AnalysisResult {
	return &types.AnalysisResult{
		Primary:     types.Primary{Label: label, Confidence: conf, Box: box, Cx: cx, Cy: cy},
		Description: "a subject",
		Tags:        []string{"Subject", " subject ", "photo"},
	}
}

func TestFocusPointUsesReportedCenter(t *testing.T) {
	fc := &fakeClient{result: subject("dog", 0.9, types.Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.3}, 0.2, 0.3)}
	d := NewDetector(fc, DefaultOptions("minicpm-v"))

	fx, fy, err := d.FocusPoint(context.Background(), testImage(1200, 800))
	require.NoError(t, err)
	require.InDelta(t, 0.2, fx, 1e-9)
	require.InDelta(t, 0.3, fy, 1e-9)

	require.Equal(t, "minicpm-v", fc.model)
	require.Equal(t, DefaultPrompt, fc.prompt)

	raw, err := base64.StdEncoding.DecodeString(fc.image)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestFocusPointFallsBackToBoxCenter(t *testing.T) {
	fc := &fakeClient{result: subject("car", 0.8, types.Box{X: 0.6, Y: 0.0, W: 0.4, H: 0.2}, 0, 0)}
	d := NewDetector(fc, DefaultOptions("m"))

	fx, fy, err := d.FocusPoint(context.Background(), testImage(64, 64))
	require.NoError(t, err)
	require.InDelta(t, 0.8, fx, 1e-9)
	require.InDelta(t, 0.1, fy, 1e-9)
}

func TestFocusPointKeepsCenterInsideBox(t *testing.T) {
	fc := &fakeClient{result: subject("cat", 0.8, types.Box{X: 0.5, Y: 0.5, W: 0.2, H: 0.2}, 0.1, 0.9)}
	d := NewDetector(fc, DefaultOptions("m"))

	fx, fy, err := d.FocusPoint(context.Background(), testImage(64, 64))
	require.NoError(t, err)
	require.InDelta(t, 0.5, fx, 1e-9)
	require.InDelta(t, 0.7, fy, 1e-9)
}

func TestFocusPointUncertainAnswers(t *testing.T) {
	cases := map[string]*types.AnalysisResult{
		"none":           subject("none", 0, types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}, 0.1, 0.1),
		"low confidence": subject("bird", 0.05, types.Box{W: 0.1, H: 0.1}, 0.05, 0.05),
		"parse fallback": subject("parse error", 0.1, types.Box{W: 0.1, H: 0.1}, 0.05, 0.05),
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDetector(&fakeClient{result: res}, DefaultOptions("m"))
			fx, fy, err := d.FocusPoint(context.Background(), testImage(32, 32))
			require.NoError(t, err)
			require.Equal(t, 0.5, fx)
			require.Equal(t, 0.5, fy)
		})
	}
}

func TestFocusPointClientError(t *testing.T) {
	boom := errors.New("connection refused")
	d := NewDetector(&fakeClient{err: boom}, DefaultOptions("m"))

	_, _, err := d.FocusPoint(context.Background(), testImage(32, 32))
	require.ErrorIs(t, err, boom)
}

func TestDetectSubjectNormalizes(t *testing.T) {
	fc := &fakeClient{result: subject("dog", 0.9, types.Box{X: -0.5, Y: 0.9, W: 2, H: 0.5}, 0.5, 0.5)}
	d := NewDetector(fc, DefaultOptions("m"))

	res, err := d.DetectSubject(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Primary.Box.X)
	require.Equal(t, 0.9, res.Primary.Box.Y)
	require.InDelta(t, 0.1, res.Primary.Box.H, 1e-9)
	require.Equal(t, 1.0, res.Primary.Box.W)
	require.Equal(t, []string{"subject", "photo"}, res.Tags)
}

func TestTestVision(t *testing.T) {
	fc := &fakeClient{}
	d := NewDetector(fc, DefaultOptions("m"))

	out, err := d.TestVision(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "a red square", out)
	require.Equal(t, SimpleTestPrompt, fc.prompt)
}

func TestDescribe(t *testing.T) {
	fc := &fakeClient{}
	opts := DefaultOptions("m")
	opts.SendFormat = "png"
	opts.SendSize = 32
	d := NewDetector(fc, opts)

	out, err := d.Describe(context.Background(), testImage(128, 64))
	require.NoError(t, err)
	require.Equal(t, "a red square", out)
	require.Equal(t, SimpleTestPrompt, fc.prompt)

	raw, err := base64.StdEncoding.DecodeString(fc.image)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Width)
	require.Equal(t, 16, cfg.Height)

	fc.err = errors.New("connection refused")
	_, err = d.Describe(context.Background(), testImage(8, 8))
	require.ErrorContains(t, err, "connection refused")
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{"A", "b", "a", "", "c", "d", "e", "f"})
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}
