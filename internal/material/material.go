// Package material classifies the object held between two hands as cash,
// card or nothing by combining a shape, a glare and a color filter.
package material

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/effect"

	"hotelcctv/internal/pipeline"
)

// Kind is the classified material
type Kind string

const (
	KindNone Kind = "none"
	KindCash Kind = "cash"
	KindCard Kind = "card"
)

// HSVRange is an inclusive HSV band on the 0-180 hue / 0-255 scale
type HSVRange struct {
	Name  string `yaml:"name" json:"name"`
	Lower [3]int `yaml:"lower" json:"lower"`
	Upper [3]int `yaml:"upper" json:"upper"`
}

func (r HSVRange) contains(h, s, v int) bool {
	return h >= r.Lower[0] && h <= r.Upper[0] &&
		s >= r.Lower[1] && s <= r.Upper[1] &&
		v >= r.Lower[2] && v <= r.Upper[2]
}

// KRWBands are the Korean won banknote color bands
var KRWBands = []HSVRange{
	{Name: "50000_won", Lower: [3]int{15, 100, 100}, Upper: [3]int{30, 255, 255}},
	{Name: "10000_won", Lower: [3]int{40, 50, 50}, Upper: [3]int{80, 255, 255}},
	{Name: "5000_won", Lower: [3]int{0, 100, 100}, Upper: [3]int{15, 255, 255}},
	{Name: "1000_won", Lower: [3]int{100, 50, 50}, Upper: [3]int{130, 255, 255}},
}

// Config holds discriminator parameters
type Config struct {
	ROIScale       float64 // Half-size of the ROI as a fraction of the hand distance
	MinROIHalfSize int
	MinROISide     int
	CardAspect     float64
	MinEdgeArea    float64
	CannyLow       float64
	CannyHigh      float64
	GlareLevel     uint8   // Gray values above this count as glare
	GlareFullRatio float64 // Glare ratio mapped to a score of 1
	BillMinPixels  int
	BillBoostPixel int
	BillBoostScore float64
	MinConfidence  float64 // Verdicts must exceed this to be positive
	Bands          []HSVRange
}

// DefaultConfig returns the default discriminator configuration
func DefaultConfig() Config {
	return Config{
		ROIScale:       0.4,
		MinROIHalfSize: 30,
		MinROISide:     10,
		CardAspect:     1.586,
		MinEdgeArea:    100,
		CannyLow:       50,
		CannyHigh:      150,
		GlareLevel:     240,
		GlareFullRatio: 0.10,
		BillMinPixels:  50,
		BillBoostPixel: 100,
		BillBoostScore: 0.7,
		MinConfidence:  0.5,
		Bands:          KRWBands,
	}
}

// Verdict is the outcome of one classification
type Verdict struct {
	Kind        Kind          `json:"kind"`
	Bill        string        `json:"bill,omitempty"` // Detected denomination, cash only
	Geometric   float64       `json:"geometric"`
	Photometric float64       `json:"photometric"`
	Chromatic   float64       `json:"chromatic"`
	Confidence  float64       `json:"confidence"`
	Positive    bool          `json:"positive"`
	ROI         pipeline.BBox `json:"roi"`
}

// Label returns a short human-readable material name
func (v Verdict) Label() string {
	switch v.Kind {
	case KindCash:
		if v.Bill != "" {
			return v.Bill
		}
		return string(KindCash)
	case KindCard:
		return string(KindCard)
	}
	return string(KindNone)
}

// Discriminator runs the three filters on the region between two hands.
// It holds no per-frame state and is safe for concurrent use.
type Discriminator struct {
	cfg Config
}

// New creates a discriminator
func New(cfg Config) *Discriminator {
	if len(cfg.Bands) == 0 {
		cfg.Bands = KRWBands
	}
	return &Discriminator{cfg: cfg}
}

// ROI returns the analysis region between two hands, clamped to bounds.
func (d *Discriminator) ROI(a, b pipeline.Point, bounds image.Rectangle) pipeline.BBox {
	half := max(int(d.cfg.ROIScale*a.Dist(b)), d.cfg.MinROIHalfSize)
	return pipeline.Around(a.Mid(b), half).Clamp(bounds)
}

// Classify analyses the handover region between hand positions a and b.
func (d *Discriminator) Classify(img image.Image, a, b pipeline.Point) Verdict {
	if img == nil {
		return Verdict{Kind: KindNone}
	}
	roi := d.ROI(a, b, img.Bounds())
	if roi.Width() < d.cfg.MinROISide || roi.Height() < d.cfg.MinROISide {
		return Verdict{Kind: KindNone, ROI: roi}
	}

	zone := crop(img, roi.Rect())
	gray := grayPlane(zone)

	v := Verdict{
		Kind:        KindNone,
		ROI:         roi,
		Geometric:   d.geometric(gray),
		Photometric: d.photometric(zone),
	}
	var bill string
	v.Chromatic, bill = d.chromatic(zone)

	p, c, g := v.Photometric, v.Chromatic, v.Geometric
	switch {
	case p > 0.5 && c < 0.4 && g > 0.6:
		v.Kind = KindCard
		v.Confidence = (p + g + (1 - c)) / 3
	case c > 0.6 && p < 0.5 && bill != "":
		v.Kind = KindCash
		v.Bill = bill
		v.Confidence = c
	case c > 0.5 && bill != "":
		v.Kind = KindCash
		v.Bill = bill
		v.Confidence = c * 0.8
	}
	v.Positive = v.Kind != KindNone && v.Confidence > d.cfg.MinConfidence
	return v
}

// IsCash reports whether the verdict is a positive cash classification.
func (v Verdict) IsCash() bool {
	return v.Positive && v.Kind == KindCash
}

// crop copies rect out of img into a new image whose origin is (0,0).
func crop(img image.Image, rect image.Rectangle) *image.RGBA {
	var sub image.Image = img
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		sub = s.SubImage(rect)
	}
	out := clone.AsRGBA(sub)
	out.Rect = image.Rect(0, 0, out.Rect.Dx(), out.Rect.Dy())
	return out
}

// grayPlane converts to a row-major luminance plane.
func grayPlane(img *image.RGBA) *plane {
	g := effect.Grayscale(img)
	b := g.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < p.w; x++ {
			p.v[y*p.w+x] = float64(row[x*4])
		}
	}
	return p
}

type plane struct {
	w, h int
	v    []float64
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, v: make([]float64, w*h)}
}

func (p *plane) at(x, y int) float64 {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)
	return p.v[y*p.w+x]
}

func round(f float64) int { return int(math.Round(f)) }
