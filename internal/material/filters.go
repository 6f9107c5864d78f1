package material

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/util"
)

// geometric scores how closely the dominant edge shape matches a card's
// aspect ratio.
func (d *Discriminator) geometric(gray *plane) float64 {
	edges := canny(gray, d.cfg.CannyLow, d.cfg.CannyHigh)

	var best []point
	bestArea := 0.0
	for _, comp := range components(edges, gray.w, gray.h) {
		hull := convexHull(comp)
		if a := hullArea(hull); a > bestArea {
			best, bestArea = hull, a
		}
	}
	if bestArea < d.cfg.MinEdgeArea {
		return 0
	}

	w, h := minAreaRect(best)
	if w == 0 || h == 0 {
		return 0
	}
	aspect := math.Max(w, h) / math.Min(w, h)
	return math.Max(0, 1-math.Abs(aspect-d.cfg.CardAspect))
}

// photometric scores the share of near-white glare pixels.
func (d *Discriminator) photometric(zone *image.RGBA) float64 {
	mask := segment.Threshold(zone, d.cfg.GlareLevel+1)
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	bright := 0
	for _, px := range mask.Pix {
		if px != 0 {
			bright++
		}
	}
	ratio := float64(bright) / float64(total)
	return math.Min(1, ratio/d.cfg.GlareFullRatio)
}

// chromatic scores mean saturation and detects the dominant banknote band.
func (d *Discriminator) chromatic(zone *image.RGBA) (float64, string) {
	b := zone.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0, ""
	}

	counts := make([]int, len(d.cfg.Bands))
	var satSum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			h, s, v := hsv(zone.RGBAAt(x, y))
			satSum += float64(s)
			for i, band := range d.cfg.Bands {
				if band.contains(h, s, v) {
					counts[i]++
				}
			}
		}
	}
	score := satSum / float64(total) / 255

	bill, most := "", 0
	for i, n := range counts {
		if n > most && n > d.cfg.BillMinPixels {
			bill, most = d.cfg.Bands[i].Name, n
		}
	}
	if bill != "" && most > d.cfg.BillBoostPixel {
		score = math.Max(score, d.cfg.BillBoostScore)
	}
	return score, bill
}

// hsv converts to the 0-180 hue, 0-255 saturation/value scale.
func hsv(c color.RGBA) (int, int, int) {
	h, s, v := util.RGBToHSV(c)
	return round(h / 2), round(s * 255), round(v * 255)
}

type point struct{ x, y float64 }

// canny returns an edge mask using Sobel gradients, non-maximum suppression
// and hysteresis thresholding.
func canny(g *plane, low, high float64) []bool {
	w, h := g.w, g.h
	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1) -
				g.at(x-1, y-1) - 2*g.at(x-1, y) - g.at(x-1, y+1)
			gy := g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1) -
				g.at(x-1, y-1) - 2*g.at(x, y-1) - g.at(x+1, y-1)
			mag[y*w+x] = math.Abs(gx) + math.Abs(gy)
			dir[y*w+x] = quantizeDir(gx, gy)
		}
	}

	// Direction offsets: 0 horizontal gradient, 1 diagonal /, 2 vertical, 3 diagonal \
	offsets := [4][2]int{{1, 0}, {1, -1}, {0, 1}, {1, 1}}
	magAt := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			o := offsets[dir[i]]
			if m < magAt(x+o[0], y+o[1]) || m < magAt(x-o[0], y-o[1]) {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	edges := make([]bool, w*h)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if edges[i] {
			continue
		}
		edges[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] != none && !edges[j] {
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

func quantizeDir(gx, gy float64) uint8 {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 0
	case angle < 67.5:
		return 3
	case angle < 112.5:
		return 2
	default:
		return 1
	}
}

// components groups edge pixels into 8-connected components.
func components(edges []bool, w, h int) [][]point {
	seen := make([]bool, len(edges))
	var out [][]point
	for start, on := range edges {
		if !on || seen[start] {
			continue
		}
		var comp []point
		stack := []int{start}
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			comp = append(comp, point{float64(x), float64(y)})
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if edges[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		out = append(out, comp)
	}
	return out
}
