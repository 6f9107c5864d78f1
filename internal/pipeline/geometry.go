package pipeline

import (
	"image"
	"math"
)

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1"` // Left
	Y1 int `json:"y1"` // Top
	X2 int `json:"x2"` // Right
	Y2 int `json:"y2"` // Bottom
}

// Point is a 2D pixel position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Mid returns the midpoint of p and q.
func (p Point) Mid(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// RectXYWH builds a box from an x, y, width, height rectangle.
func RectXYWH(x, y, w, h int) BBox {
	return BBox{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

func (b BBox) Center() Point {
	return Point{X: float64(b.X1+b.X2) / 2, Y: float64(b.Y1+b.Y2) / 2}
}

// Intersect returns the overlapping box; the result has zero area when
// the boxes do not overlap.
func (b BBox) Intersect(o BBox) BBox {
	r := BBox{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
	if r.X2 < r.X1 {
		r.X2 = r.X1
	}
	if r.Y2 < r.Y1 {
		r.Y2 = r.Y1
	}
	return r
}

// Union returns the smallest box containing both boxes.
func (b BBox) Union(o BBox) BBox {
	if b.Area() == 0 {
		return o
	}
	if o.Area() == 0 {
		return b
	}
	return BBox{
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
		X2: max(b.X2, o.X2),
		Y2: max(b.Y2, o.Y2),
	}
}

// IoU returns intersection over union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	inter := b.Intersect(o).Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// OverlapOfSmaller returns intersection area divided by the smaller box area.
func (b BBox) OverlapOfSmaller(o BBox) float64 {
	smaller := min(b.Area(), o.Area())
	if smaller == 0 {
		return 0
	}
	return float64(b.Intersect(o).Area()) / float64(smaller)
}

// Clamp restricts the box to bounds.
func (b BBox) Clamp(bounds image.Rectangle) BBox {
	return b.Intersect(BBox{X1: bounds.Min.X, Y1: bounds.Min.Y, X2: bounds.Max.X, Y2: bounds.Max.Y})
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Around returns the square box of half-size r centered on p.
func Around(p Point, r int) BBox {
	x, y := int(math.Round(p.X)), int(math.Round(p.Y))
	return BBox{X1: x - r, Y1: y - r, X2: x + r, Y2: y + r}
}

// HandsFromKeypoints extracts wrist positions with confidence at least minConf.
func HandsFromKeypoints(kps []Keypoint, minConf float64) []Hand {
	var hands []Hand
	if len(kps) > KeypointLeftWrist {
		if kp := kps[KeypointLeftWrist]; kp.Conf >= minConf {
			hands = append(hands, Hand{Side: HandLeft, Pos: Point{X: kp.X, Y: kp.Y}, Conf: kp.Conf})
		}
	}
	if len(kps) > KeypointRightWrist {
		if kp := kps[KeypointRightWrist]; kp.Conf >= minConf {
			hands = append(hands, Hand{Side: HandRight, Pos: Point{X: kp.X, Y: kp.Y}, Conf: kp.Conf})
		}
	}
	return hands
}

// BodyCenter prefers the hip midpoint, then the shoulder midpoint, then the
// box center.
func BodyCenter(kps []Keypoint, box BBox) Point {
	pair := func(a, b int) (Point, bool) {
		if len(kps) <= b {
			return Point{}, false
		}
		ka, kb := kps[a], kps[b]
		if ka.Conf > 0.3 && kb.Conf > 0.3 {
			return Point{X: (ka.X + kb.X) / 2, Y: (ka.Y + kb.Y) / 2}, true
		}
		return Point{}, false
	}
	if p, ok := pair(KeypointLeftHip, KeypointRightHip); ok {
		return p
	}
	if p, ok := pair(KeypointLeftShoulder, KeypointRightShoulder); ok {
		return p
	}
	return box.Center()
}
