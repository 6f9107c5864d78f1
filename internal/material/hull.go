package material

import (
	"math"
	"sort"
)

// convexHull returns the hull in counter-clockwise order (monotone chain).
func convexHull(pts []point) []point {
	if len(pts) < 3 {
		return pts
	}
	ps := make([]point, len(pts))
	copy(ps, pts)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].x != ps[j].x {
			return ps[i].x < ps[j].x
		}
		return ps[i].y < ps[j].y
	})

	cross := func(o, a, b point) float64 {
		return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
	}

	hull := make([]point, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

func hullArea(h []point) float64 {
	if len(h) < 3 {
		return 0
	}
	var s float64
	for i := range h {
		j := (i + 1) % len(h)
		s += h[i].x*h[j].y - h[j].x*h[i].y
	}
	return math.Abs(s) / 2
}

// minAreaRect returns the side lengths of the smallest enclosing rotated
// rectangle of a convex hull (rotating calipers over hull edges).
func minAreaRect(h []point) (float64, float64) {
	if len(h) < 3 {
		return 0, 0
	}
	bestArea := math.Inf(1)
	var bw, bh float64
	for i := range h {
		a, b := h[i], h[(i+1)%len(h)]
		ex, ey := b.x-a.x, b.y-a.y
		l := math.Hypot(ex, ey)
		if l == 0 {
			continue
		}
		ux, uy := ex/l, ey/l
		minU, maxU := math.Inf(1), math.Inf(-1)
		minN, maxN := math.Inf(1), math.Inf(-1)
		for _, p := range h {
			pu := p.x*ux + p.y*uy
			pn := -p.x*uy + p.y*ux
			minU, maxU = math.Min(minU, pu), math.Max(maxU, pu)
			minN, maxN = math.Min(minN, pn), math.Max(maxN, pn)
		}
		w, ht := maxU-minU, maxN-minN
		if area := w * ht; area < bestArea {
			bestArea, bw, bh = area, w, ht
		}
	}
	return bw, bh
}
