package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// SubjectDetector finds salient regions locally, without a vision model
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// MaxAnalysisSize bounds the long side of the image the saliency map is
	// computed on; 0 analyzes the full image.
	MaxAnalysisSize int
	MaxRegions      int
}

// DefaultConfig returns the detector defaults
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.3,
		ColorWeight:     0.2,
		MinSubjectRatio: 0.05,
		MaxAnalysisSize: 256,
		MaxRegions:      10,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	return &SubjectDetector{config: config}
}

// Region represents a rectangular region of interest in image pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// FocusPoint returns the score-weighted center of the detected subjects in
// normalized coordinates. Images without subjects focus on their center.
func (d *SubjectDetector) FocusPoint(ctx context.Context, img image.Image) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0.5, 0.5, nil
	}

	regions, err := d.DetectSubjects(img)
	if err != nil {
		return 0, 0, err
	}

	var sx, sy, total float64
	for _, r := range regions {
		cx, cy := r.Center()
		sx += float64(cx) * r.Score
		sy += float64(cy) * r.Score
		total += r.Score
	}
	if total == 0 {
		return 0.5, 0.5, nil
	}
	fx := (sx / total) / float64(bounds.Dx())
	fy := (sy / total) / float64(bounds.Dy())
	return clamp(fx, 0, 1), clamp(fy, 0, 1), nil
}

// DetectSubjects analyzes an image and returns regions of interest, best
// first, in the coordinates of img.
func (d *SubjectDetector) DetectSubjects(img image.Image) ([]Region, error) {
	bounds := img.Bounds()
	work := image.Image(img)
	scale := 1.0

	if m := d.config.MaxAnalysisSize; m > 0 && (bounds.Dx() > m || bounds.Dy() > m) {
		if bounds.Dx() >= bounds.Dy() {
			work = imaging.Resize(img, m, 0, imaging.Box)
		} else {
			work = imaging.Resize(img, 0, m, imaging.Box)
		}
		scale = float64(bounds.Dx()) / float64(work.Bounds().Dx())
	}

	wb := work.Bounds()
	width, height := wb.Dx(), wb.Dy()
	saliency := d.calculateSaliencyMap(work)
	regions := d.filterAndScoreRegions(d.findImportantRegions(saliency, width, height), width, height)

	if d.config.MaxRegions > 0 && len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}
	if scale != 1 {
		for i := range regions {
			regions[i].X = int(float64(regions[i].X) * scale)
			regions[i].Y = int(float64(regions[i].Y) * scale)
			regions[i].Width = int(float64(regions[i].Width) * scale)
			regions[i].Height = int(float64(regions[i].Height) * scale)
		}
	}
	return regions, nil
}

var neighbors = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

func (d *SubjectDetector) calculateSaliencyMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	saliencyMap := make([][]float64, height)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, width)
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			var edgeStrength float64
			for _, offset := range neighbors {
				r2, g2, b2, _ := img.At(x+offset[0]+bounds.Min.X, y+offset[1]+bounds.Min.Y).RGBA()
				dr := float64(r1) - float64(r2)
				dg := float64(g1) - float64(g2)
				db := float64(b1) - float64(b2)
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8.0 * 65535.0

			brightness := (float64(r1) + float64(g1) + float64(b1)) / (3.0 * 65535.0)
			saliencyMap[y][x] = d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*brightness
		}
	}

	return saliencyMap
}

func (d *SubjectDetector) findImportantRegions(saliencyMap [][]float64, width, height int) []Region {
	var regions []Region

	for _, windowSize := range []int{width / 16, width / 8, width / 4} {
		if windowSize < 4 {
			continue
		}
		step := max(windowSize/4, 1)
		for y := 0; y <= height-windowSize; y += step {
			for x := 0; x <= width-windowSize; x += step {
				score := calculateRegionScore(saliencyMap, x, y, windowSize, windowSize)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: windowSize, Height: windowSize, Score: score})
				}
			}
		}
	}

	return regions
}

func calculateRegionScore(saliencyMap [][]float64, x, y, width, height int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+height && ry < len(saliencyMap); ry++ {
		for rx := x; rx < x+width && rx < len(saliencyMap[ry]); rx++ {
			total += saliencyMap[ry][rx]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)

	filtered := regions[:0]
	for _, region := range regions {
		if region.Area() >= minArea {
			filtered = append(filtered, region)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered
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
