package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/cropbox/pkg/types"
)

// Interpolator resolves a resampling kernel by name
func Interpolator(name string) (xdraw.Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bilinear":
		return xdraw.BiLinear, nil
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "approx-bilinear":
		return xdraw.ApproxBiLinear, nil
	case "catmullrom":
		return xdraw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown interpolation %q (use nearest, approx-bilinear, bilinear or catmullrom)", name)
	}
}

// DrawPlaced draws the whole of src scaled to pl.Width x pl.Height with its
// top-left corner at (pl.X, pl.Y) in dst coordinates. Pixels falling outside
// dst are discarded.
func DrawPlaced(dst xdraw.Image, src image.Image, pl types.Placement, interp xdraw.Interpolator) {
	sb := src.Bounds()
	if sb.Empty() || !(pl.Width > 0) || !(pl.Height > 0) {
		return
	}
	if interp == nil {
		interp = xdraw.BiLinear
	}
	sx := pl.Width / float64(sb.Dx())
	sy := pl.Height / float64(sb.Dy())
	m := f64.Aff3{
		sx, 0, pl.X - sx*float64(sb.Min.X),
		0, sy, pl.Y - sy*float64(sb.Min.Y),
	}
	interp.Transform(dst, m, src, sb, xdraw.Over, nil)
}

// RenderViewport produces a preview of what the viewport shows: the placed
// background and, when frame is set, the crop-frame outline.
func RenderViewport(src image.Image, pl types.Placement, viewport types.Size, frame *types.Frame, interp xdraw.Interpolator) *image.NRGBA {
	canvas := imaging.New(viewport.Width, viewport.Height, color.NRGBA{40, 40, 40, 255})
	if src != nil {
		DrawPlaced(canvas, src, pl, interp)
	}
	if frame == nil {
		return canvas
	}

	gold := color.NRGBA{255, 204, 0, 255}
	stroke := int(math.Max(1, 0.004*float64(min(viewport.Width, viewport.Height))))
	x0 := int(math.Round(float64(viewport.Width)/2 + frame.MarginLeft))
	y0 := int(math.Round(float64(viewport.Height)/2 + frame.MarginTop))
	drawRect(canvas, x0, y0, x0+frame.Width, y0+frame.Height, gold, stroke)
	return canvas
}

// drawRect strokes the outline of [x0,x1)x[y0,y1); parts outside img are clipped
func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	x1 = max(x1, x0+1)
	y1 = max(y1, y0+1)
	src := image.NewUniform(c)
	for _, r := range []image.Rectangle{
		image.Rect(x0, y0, x1, y0+stroke),
		image.Rect(x0, y1-stroke, x1, y1),
		image.Rect(x0, y0, x0+stroke, y1),
		image.Rect(x1-stroke, y0, x1, y1),
	} {
		xdraw.Draw(img, r.Intersect(image.Rect(x0, y0, x1, y1)), src, image.Point{}, xdraw.Src)
	}
}
