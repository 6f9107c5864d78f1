package engine

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/clone"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/transaction"
)

var (
	colorCashier  = color.RGBA{0, 255, 0, 255}
	colorCustomer = color.RGBA{0, 128, 255, 255}
	colorZone     = color.RGBA{255, 255, 0, 255}
	colorDrawer   = color.RGBA{0, 255, 255, 255}
	colorHand     = color.RGBA{255, 0, 255, 255}
)

// LabelColor returns the overlay color for an event label
func LabelColor(l pipeline.Label) color.RGBA {
	switch l {
	case pipeline.LabelCash:
		return color.RGBA{0, 255, 0, 255}
	case pipeline.LabelViolence:
		return color.RGBA{255, 0, 0, 255}
	case pipeline.LabelFire:
		return color.RGBA{255, 165, 0, 255}
	}
	return color.RGBA{255, 255, 255, 255}
}

// annotate draws zones, people and detections on a copy of img.
func (e *Engine) annotate(img *image.RGBA, res Result) *image.RGBA {
	if img == nil {
		return nil
	}
	out := clone.AsRGBA(img)

	if e.settings.CashEnabled {
		if z := e.settings.Zones.CashierZone; !z.IsEmpty() {
			DrawPolygon(out, z.Points(), colorZone)
			b := z.Bounds()
			DrawLabel(out, b.X1, b.Y1-15, "CASHIER ZONE", colorZone)
		}
		d := e.transaction.DrawerZone()
		DrawPolygon(out, d.Points(), colorDrawer)
		b := d.Bounds()
		DrawLabel(out, b.X1, b.Y2+2, "CASH DRAWER", colorDrawer)
	}

	for _, o := range res.Observations {
		c := colorCustomer
		if o.Role == pipeline.RoleCashier {
			c = colorCashier
		}
		DrawBox(out, o.BBox, c, 2)
		DrawLabel(out, o.BBox.X1, o.BBox.Y1-15, fmt.Sprintf("#%d %s", o.ID, o.Role), c)
		for _, h := range o.Hands {
			DrawBox(out, pipeline.Around(h.Pos, 4), colorHand, 2)
		}
	}

	if p := e.transaction.Pending(); p != nil && res.Transaction == transaction.StateTracking {
		label := fmt.Sprintf("TRACKING %d/%d", p.Elapsed, e.settings.Transaction.TrackingBudget)
		DrawLabel(out, 10, 10, label, colorDrawer)
	}

	for _, d := range res.Detections {
		c := LabelColor(d.Label)
		DrawBox(out, d.BBox, c, 3)
		DrawLabel(out, d.BBox.X1, d.BBox.Y1-15, fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100), c)
	}
	return out
}

// DrawBox draws a rectangle outline clipped to the image
func DrawBox(img *image.RGBA, b pipeline.BBox, c color.RGBA, thickness int) {
	r := img.Bounds()
	set := func(x, y int) {
		if (image.Point{X: x, Y: y}).In(r) {
			img.SetRGBA(x, y, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for x := b.X1; x <= b.X2; x++ {
			set(x, b.Y1+t)
			set(x, b.Y2-t)
		}
		for y := b.Y1; y <= b.Y2; y++ {
			set(b.X1+t, y)
			set(b.X2-t, y)
		}
	}
}

// DrawPolygon draws a closed outline through pts
func DrawPolygon(img *image.RGBA, pts []pipeline.Point, c color.RGBA) {
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		drawLine(img, int(a.X), int(a.Y), int(b.X), int(b.Y), c)
	}
}

// drawLine is Bresenham's line algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	r := img.Bounds()
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errv := dx + dy
	for {
		if (image.Point{X: x0, Y: y0}).In(r) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * errv
		if e2 >= dy {
			errv += dy
			x0 += sx
		}
		if e2 <= dx {
			errv += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DrawLabel draws text on a dark background
func DrawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	r := img.Bounds()
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			if p := (image.Point{X: x + dx, Y: y + dy}); p.In(r) {
				img.SetRGBA(p.X, p.Y, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}
