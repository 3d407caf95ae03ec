// Package crop models the user-selected crop rectangle over a rendered page
// surface. All operations are pure: they take the current surface bounds as an
// argument and return a new rectangle.
package crop

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// MinSize is the smallest width or height, in pixels, a crop may have.
const MinSize = 50

var (
	// ErrCropTooSmall is returned when a crop is narrower or shorter than MinSize.
	ErrCropTooSmall = errors.New("crop region is smaller than the minimum size")
	// ErrSurfaceTooSmall is returned when the surface cannot hold a minimum-sized crop.
	ErrSurfaceTooSmall = errors.New("surface is smaller than the minimum crop size")
	// ErrSurfaceUnavailable is returned when no rendered surface is present.
	ErrSurfaceUnavailable = errors.New("no rendered surface available")
)

// ValidationError reports why a crop or surface was rejected before scanning.
type ValidationError struct {
	Rect   Rect
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("crop validation failed for %s: %v", e.Rect, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Rect is an axis-aligned crop in page pixel units.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Bounds is the size of the rendered surface a rectangle is constrained to.
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Image converts the rectangle into an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// Within reports whether the rectangle lies entirely inside b.
func (r Rect) Within(b Bounds) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 &&
		r.Right() <= b.Width && r.Bottom() <= b.Height
}

// FromImage builds bounds from the dimensions of an image rectangle.
func FromImage(r image.Rectangle) Bounds {
	return Bounds{Width: r.Dx(), Height: r.Dy()}
}

// Full returns a rectangle covering the whole surface.
func (b Bounds) Full() Rect {
	return Rect{Width: b.Width, Height: b.Height}
}

// IsEligibleForScan reports whether the rectangle meets the minimum size.
func IsEligibleForScan(r Rect) bool {
	return r.Width >= MinSize && r.Height >= MinSize
}

// Validate returns a *ValidationError when r cannot be scanned on a surface of bounds b.
func Validate(r Rect, b Bounds) error {
	if b.Width <= 0 || b.Height <= 0 {
		return &ValidationError{Rect: r, Reason: ErrSurfaceUnavailable}
	}
	if !IsEligibleForScan(r) {
		return &ValidationError{Rect: r, Reason: ErrCropTooSmall}
	}
	if !r.Within(b) {
		return &ValidationError{Rect: r, Reason: fmt.Errorf("crop exceeds surface %dx%d", b.Width, b.Height)}
	}
	return nil
}

// Begin returns a centered default crop: half of each surface dimension,
// but never smaller than MinSize.
func Begin(b Bounds) (Rect, error) {
	if b.Width < MinSize || b.Height < MinSize {
		return Rect{}, &ValidationError{Rect: b.Full(), Reason: ErrSurfaceTooSmall}
	}
	w := max(b.Width/2, MinSize)
	h := max(b.Height/2, MinSize)
	return Rect{
		X:      (b.Width - w) / 2,
		Y:      (b.Height - h) / 2,
		Width:  w,
		Height: h,
	}, nil
}

// BeginAt returns a default-sized crop anchored at the given point, shifted
// as needed to stay inside the surface.
func BeginAt(b Bounds, anchor image.Point) (Rect, error) {
	r, err := Begin(b)
	if err != nil {
		return r, err
	}
	r.X, r.Y = anchor.X, anchor.Y
	return Clamp(r, b), nil
}

// Clamp shrinks r to fit inside b and then shifts it so no edge is outside.
func Clamp(r Rect, b Bounds) Rect {
	r.Width = clampInt(r.Width, 0, b.Width)
	r.Height = clampInt(r.Height, 0, b.Height)
	r.X = clampInt(r.X, 0, b.Width-r.Width)
	r.Y = clampInt(r.Y, 0, b.Height-r.Height)
	return r
}

// Rebase scales r proportionally from the old surface bounds onto the new ones.
// Used when the surface is re-rendered at another size (zoom, window resize).
func Rebase(r Rect, from, to Bounds) Rect {
	if from.Width <= 0 || from.Height <= 0 {
		return Clamp(r, to)
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)
	out := Rect{
		X:      roundInt(float64(r.X) * sx),
		Y:      roundInt(float64(r.Y) * sy),
		Width:  roundInt(float64(r.Width) * sx),
		Height: roundInt(float64(r.Height) * sy),
	}
	return Clamp(out, to)
}

// ParseRect parses "x,y,width,height".
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("invalid crop %q: expected x,y,width,height", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, fmt.Errorf("invalid crop %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[2] < 0 || vals[3] < 0 {
		return Rect{}, fmt.Errorf("invalid crop %q: negative size", s)
	}
	return Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}
