package material

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"

	"hotelcctv/internal/pipeline"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestClassify(t *testing.T) {
	t.Parallel()

	gray := color.RGBA{R: 100, G: 100, B: 100, A: 255}
	green := color.RGBA{G: 200, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	card := solid(640, 480, gray)
	draw.Draw(card, image.Rect(296, 225, 344, 255), &image.Uniform{C: white}, image.Point{}, draw.Src)

	tests := []struct {
		name     string
		img      image.Image
		a, b     pipeline.Point
		kind     Kind
		positive bool
		bill     string
	}{
		{
			name: "green banknote",
			img:  solid(640, 480, green),
			a:    pipeline.Point{X: 300, Y: 240}, b: pipeline.Point{X: 360, Y: 240},
			kind: KindCash, positive: true, bill: "10000_won",
		},
		{
			name: "glossy card",
			img:  card,
			a:    pipeline.Point{X: 280, Y: 240}, b: pipeline.Point{X: 360, Y: 240},
			kind: KindCard, positive: true,
		},
		{
			name: "empty hands",
			img:  solid(640, 480, gray),
			a:    pipeline.Point{X: 300, Y: 240}, b: pipeline.Point{X: 360, Y: 240},
			kind: KindNone,
		},
		{
			name: "roi clamped below minimum",
			img:  solid(640, 480, green),
			a:    pipeline.Point{X: -25, Y: -25}, b: pipeline.Point{X: -25, Y: -25},
			kind: KindNone,
		},
	}

	d := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Classify(tt.img, tt.a, tt.b)
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.positive, v.Positive)
			assert.Equal(t, tt.bill, v.Bill)
		})
	}
}

func TestClassifyScores(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig())
	v := d.Classify(solid(640, 480, color.RGBA{G: 200, A: 255}), pipeline.Point{X: 300, Y: 240}, pipeline.Point{X: 360, Y: 240})
	assert.InDelta(t, 1.0, v.Chromatic, 1e-9)
	assert.Zero(t, v.Photometric)
	assert.Zero(t, v.Geometric)
	assert.Equal(t, pipeline.BBox{X1: 300, Y1: 210, X2: 360, Y2: 270}, v.ROI)
	assert.True(t, v.IsCash())
	assert.Equal(t, "10000_won", v.Label())
}

func TestROI(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig())
	bounds := image.Rect(0, 0, 640, 480)

	// 0.4 * 200 = 80 > 30
	assert.Equal(t, pipeline.BBox{X1: 120, Y1: 160, X2: 280, Y2: 320},
		d.ROI(pipeline.Point{X: 100, Y: 240}, pipeline.Point{X: 300, Y: 240}, bounds))
	// minimum half-size of 30
	assert.Equal(t, pipeline.BBox{X1: 570, Y1: 210, X2: 630, Y2: 270},
		d.ROI(pipeline.Point{X: 595, Y: 240}, pipeline.Point{X: 605, Y: 240}, bounds))
}

func TestMinAreaRect(t *testing.T) {
	t.Parallel()

	rect := []point{{0, 0}, {160, 0}, {160, 100}, {0, 100}, {80, 50}}
	hull := convexHull(rect)
	assert.Len(t, hull, 4)
	assert.InDelta(t, 16000, hullArea(hull), 1e-9)

	w, h := minAreaRect(hull)
	assert.InDelta(t, 16000, w*h, 1e-6)

	// Diamond: a square rotated by 45 degrees
	diamond := convexHull([]point{{50, 0}, {100, 50}, {50, 100}, {0, 50}})
	w, h = minAreaRect(diamond)
	assert.InDelta(t, w, h, 1e-9)
	assert.InDelta(t, 5000, w*h, 1e-6)
}

func TestHSVScale(t *testing.T) {
	t.Parallel()

	h, s, v := hsv(color.RGBA{G: 200, A: 255})
	assert.Equal(t, 60, h)
	assert.Equal(t, 255, s)
	assert.Equal(t, 200, v)
}
