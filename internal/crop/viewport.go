package crop

import "math"

// Viewer zoom limits.
const (
	MinZoom  = 0.5
	MaxZoom  = 3.0
	ZoomStep = 0.25
)

// Viewport is the transform between page pixels and the rendered surface:
// a zoom factor and a clockwise rotation in multiples of 90 degrees.
type Viewport struct {
	Zoom     float64 `json:"zoom" yaml:"zoom"`
	Rotation int     `json:"rotation" yaml:"rotation"`
}

// Identity is the unzoomed, unrotated viewport.
func Identity() Viewport { return Viewport{Zoom: 1, Rotation: 0} }

// Normalize clamps the zoom and reduces the rotation to 0, 90, 180 or 270.
// A zero zoom is treated as 1.
func (v Viewport) Normalize() Viewport {
	if v.Zoom == 0 {
		v.Zoom = 1
	}
	v.Zoom = math.Min(MaxZoom, math.Max(MinZoom, v.Zoom))
	r := v.Rotation % 360
	if r < 0 {
		r += 360
	}
	v.Rotation = (r / 90) * 90
	return v
}

// ZoomIn increases the zoom by one step.
func (v Viewport) ZoomIn() Viewport {
	v = v.Normalize()
	v.Zoom = math.Min(MaxZoom, v.Zoom+ZoomStep)
	return v
}

// ZoomOut decreases the zoom by one step.
func (v Viewport) ZoomOut() Viewport {
	v = v.Normalize()
	v.Zoom = math.Max(MinZoom, v.Zoom-ZoomStep)
	return v
}

// Rotate turns the view a further 90 degrees clockwise.
func (v Viewport) Rotate() Viewport {
	v = v.Normalize()
	v.Rotation = (v.Rotation + 90) % 360
	return v
}

func (v Viewport) swapsAxes() bool {
	return v.Rotation == 90 || v.Rotation == 270
}

// SurfaceBounds returns the rendered surface size for a page.
func (v Viewport) SurfaceBounds(page Bounds) Bounds {
	v = v.Normalize()
	w, h := page.Width, page.Height
	if v.swapsAxes() {
		w, h = h, w
	}
	return Bounds{Width: roundInt(float64(w) * v.Zoom), Height: roundInt(float64(h) * v.Zoom)}
}

// ToPage maps a crop drawn on the rendered surface back to page pixels.
func (v Viewport) ToPage(r Rect, page Bounds) Rect {
	v = v.Normalize()
	rotated := page
	if v.swapsAxes() {
		rotated = Bounds{Width: page.Height, Height: page.Width}
	}
	unzoomed := Rect{
		X:      roundInt(float64(r.X) / v.Zoom),
		Y:      roundInt(float64(r.Y) / v.Zoom),
		Width:  roundInt(float64(r.Width) / v.Zoom),
		Height: roundInt(float64(r.Height) / v.Zoom),
	}
	unzoomed = Clamp(unzoomed, rotated)

	var out Rect
	switch v.Rotation {
	case 90:
		out = Rect{
			X:      unzoomed.Y,
			Y:      page.Height - unzoomed.X - unzoomed.Width,
			Width:  unzoomed.Height,
			Height: unzoomed.Width,
		}
	case 180:
		out = Rect{
			X:      page.Width - unzoomed.X - unzoomed.Width,
			Y:      page.Height - unzoomed.Y - unzoomed.Height,
			Width:  unzoomed.Width,
			Height: unzoomed.Height,
		}
	case 270:
		out = Rect{
			X:      page.Width - unzoomed.Y - unzoomed.Height,
			Y:      unzoomed.X,
			Width:  unzoomed.Height,
			Height: unzoomed.Width,
		}
	default:
		out = unzoomed
	}
	return Clamp(out, page)
}

// FromPage maps a page-pixel crop onto the rendered surface.
func (v Viewport) FromPage(r Rect, page Bounds) Rect {
	v = v.Normalize()
	r = Clamp(r, page)

	var rot Rect
	switch v.Rotation {
	case 90:
		rot = Rect{X: page.Height - r.Bottom(), Y: r.X, Width: r.Height, Height: r.Width}
	case 180:
		rot = Rect{X: page.Width - r.Right(), Y: page.Height - r.Bottom(), Width: r.Width, Height: r.Height}
	case 270:
		rot = Rect{X: r.Y, Y: page.Width - r.Right(), Width: r.Height, Height: r.Width}
	default:
		rot = r
	}
	out := Rect{
		X:      roundInt(float64(rot.X) * v.Zoom),
		Y:      roundInt(float64(rot.Y) * v.Zoom),
		Width:  roundInt(float64(rot.Width) * v.Zoom),
		Height: roundInt(float64(rot.Height) * v.Zoom),
	}
	return Clamp(out, v.SurfaceBounds(page))
}
