// Package zone implements cashier and cash-drawer regions and the
// zone-based role classifier.
package zone

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"hotelcctv/internal/pipeline"
)

// Zone is a region of the camera image, either an axis-aligned rectangle or
// a simple polygon. The zero value is an empty zone that contains nothing.
type Zone struct {
	rect    *pipeline.BBox
	polygon []pipeline.Point
}

// Rect creates a rectangular zone from x, y, width, height.
func Rect(x, y, w, h int) Zone {
	b := pipeline.RectXYWH(x, y, w, h)
	return Zone{rect: &b}
}

// Polygon creates a polygon zone. Fewer than three points yields an empty zone.
func Polygon(pts []pipeline.Point) Zone {
	if len(pts) < 3 {
		return Zone{}
	}
	cp := make([]pipeline.Point, len(pts))
	copy(cp, pts)
	return Zone{polygon: cp}
}

// IsEmpty reports whether the zone has no area.
func (z Zone) IsEmpty() bool {
	if z.rect != nil {
		return z.rect.Area() == 0
	}
	return len(z.polygon) < 3
}

// IsPolygon reports whether the zone was defined by points.
func (z Zone) IsPolygon() bool { return z.rect == nil && len(z.polygon) >= 3 }

// Bounds returns the bounding box of the zone.
func (z Zone) Bounds() pipeline.BBox {
	if z.rect != nil {
		return *z.rect
	}
	if len(z.polygon) == 0 {
		return pipeline.BBox{}
	}
	b := pipeline.BBox{X1: int(z.polygon[0].X), Y1: int(z.polygon[0].Y), X2: int(z.polygon[0].X), Y2: int(z.polygon[0].Y)}
	for _, p := range z.polygon[1:] {
		b.X1 = min(b.X1, int(p.X))
		b.Y1 = min(b.Y1, int(p.Y))
		b.X2 = max(b.X2, int(p.X))
		b.Y2 = max(b.Y2, int(p.Y))
	}
	return b
}

// Points returns the zone outline. Rectangles are returned clockwise from the
// top-left corner.
func (z Zone) Points() []pipeline.Point {
	if z.rect != nil {
		return rectPoints(*z.rect)
	}
	cp := make([]pipeline.Point, len(z.polygon))
	copy(cp, z.polygon)
	return cp
}

// Contains reports whether p lies inside the zone. Rectangle edges count as
// inside.
func (z Zone) Contains(p pipeline.Point) bool {
	if z.rect != nil {
		r := z.rect
		return p.X >= float64(r.X1) && p.X <= float64(r.X2) && p.Y >= float64(r.Y1) && p.Y <= float64(r.Y2)
	}
	if len(z.polygon) < 3 {
		return false
	}
	// Ray casting
	inside := false
	n := len(z.polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := z.polygon[i], z.polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// OverlapFraction returns the fraction of box's area that lies inside the zone.
func (z Zone) OverlapFraction(box pipeline.BBox) float64 {
	area := box.Area()
	if area == 0 || z.IsEmpty() {
		return 0
	}
	if z.rect != nil {
		return float64(box.Intersect(*z.rect).Area()) / float64(area)
	}
	clipped := clipToBox(z.polygon, box)
	return polygonArea(clipped) / float64(area)
}

func rectPoints(b pipeline.BBox) []pipeline.Point {
	return []pipeline.Point{
		{X: float64(b.X1), Y: float64(b.Y1)},
		{X: float64(b.X2), Y: float64(b.Y1)},
		{X: float64(b.X2), Y: float64(b.Y2)},
		{X: float64(b.X1), Y: float64(b.Y2)},
	}
}

// clipToBox clips a polygon against an axis-aligned box (Sutherland-Hodgman).
func clipToBox(poly []pipeline.Point, box pipeline.BBox) []pipeline.Point {
	x1, y1, x2, y2 := float64(box.X1), float64(box.Y1), float64(box.X2), float64(box.Y2)
	edges := []struct {
		inside func(p pipeline.Point) bool
		cross  func(a, b pipeline.Point) pipeline.Point
	}{
		{func(p pipeline.Point) bool { return p.X >= x1 }, func(a, b pipeline.Point) pipeline.Point { return atX(a, b, x1) }},
		{func(p pipeline.Point) bool { return p.X <= x2 }, func(a, b pipeline.Point) pipeline.Point { return atX(a, b, x2) }},
		{func(p pipeline.Point) bool { return p.Y >= y1 }, func(a, b pipeline.Point) pipeline.Point { return atY(a, b, y1) }},
		{func(p pipeline.Point) bool { return p.Y <= y2 }, func(a, b pipeline.Point) pipeline.Point { return atY(a, b, y2) }},
	}

	out := poly
	for _, e := range edges {
		if len(out) == 0 {
			break
		}
		in := out
		out = nil
		prev := in[len(in)-1]
		for _, cur := range in {
			switch {
			case e.inside(cur) && e.inside(prev):
				out = append(out, cur)
			case e.inside(cur):
				out = append(out, e.cross(prev, cur), cur)
			case e.inside(prev):
				out = append(out, e.cross(prev, cur))
			}
			prev = cur
		}
	}
	return out
}

func atX(a, b pipeline.Point, x float64) pipeline.Point {
	t := (x - a.X) / (b.X - a.X)
	return pipeline.Point{X: x, Y: a.Y + t*(b.Y-a.Y)}
}

func atY(a, b pipeline.Point, y float64) pipeline.Point {
	t := (y - a.Y) / (b.Y - a.Y)
	return pipeline.Point{X: a.X + t*(b.X-a.X), Y: y}
}

// polygonArea is the shoelace formula, returned as an absolute value.
func polygonArea(pts []pipeline.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s float64
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	if s < 0 {
		s = -s
	}
	return s / 2
}

// fromRaw builds a zone from either [x,y,w,h] or [[x,y],...].
func fromRaw(raw []any) (Zone, error) {
	if len(raw) == 0 {
		return Zone{}, nil
	}
	if _, nested := raw[0].([]any); !nested {
		if len(raw) != 4 {
			return Zone{}, fmt.Errorf("rectangle zone needs 4 values [x,y,w,h], got %d", len(raw))
		}
		var v [4]int
		for i, x := range raw {
			n, ok := toFloat(x)
			if !ok {
				return Zone{}, fmt.Errorf("rectangle zone value %d is not a number", i)
			}
			v[i] = int(n)
		}
		if v[2] <= 0 || v[3] <= 0 {
			return Zone{}, fmt.Errorf("rectangle zone must have positive size, got %dx%d", v[2], v[3])
		}
		return Rect(v[0], v[1], v[2], v[3]), nil
	}

	pts := make([]pipeline.Point, 0, len(raw))
	for i, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return Zone{}, fmt.Errorf("polygon point %d must be [x,y]", i)
		}
		x, okx := toFloat(pair[0])
		y, oky := toFloat(pair[1])
		if !okx || !oky {
			return Zone{}, fmt.Errorf("polygon point %d is not numeric", i)
		}
		pts = append(pts, pipeline.Point{X: x, Y: y})
	}
	if len(pts) < 3 {
		return Zone{}, fmt.Errorf("polygon zone needs at least 3 points, got %d", len(pts))
	}
	return Polygon(pts), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (z Zone) raw() any {
	if z.rect != nil {
		r := z.rect
		return []int{r.X1, r.Y1, r.Width(), r.Height()}
	}
	if len(z.polygon) == 0 {
		return nil
	}
	pts := make([][2]float64, len(z.polygon))
	for i, p := range z.polygon {
		pts[i] = [2]float64{p.X, p.Y}
	}
	return pts
}

// MarshalJSON encodes rectangles as [x,y,w,h] and polygons as [[x,y],...].
func (z Zone) MarshalJSON() ([]byte, error) {
	return json.Marshal(z.raw())
}

// UnmarshalJSON accepts both the rectangle and polygon forms.
func (z *Zone) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid zone: %w", err)
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (z Zone) MarshalYAML() (any, error) {
	return z.raw(), nil
}

// UnmarshalYAML accepts both the rectangle and polygon forms.
func (z *Zone) UnmarshalYAML(node *yaml.Node) error {
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid zone at line %d: %w", node.Line, err)
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*z = parsed
	return nil
}
