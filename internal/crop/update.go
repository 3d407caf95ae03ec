package crop

import "fmt"

// Handle identifies the edge or corner grabbed during a resize.
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTop
	HandleTopRight
	HandleRight
	HandleBottomRight
	HandleBottom
	HandleBottomLeft
	HandleLeft
)

var handleNames = map[Handle]string{
	HandleNone:        "none",
	HandleTopLeft:     "top-left",
	HandleTop:         "top",
	HandleTopRight:    "top-right",
	HandleRight:       "right",
	HandleBottomRight: "bottom-right",
	HandleBottom:      "bottom",
	HandleBottomLeft:  "bottom-left",
	HandleLeft:        "left",
}

func (h Handle) String() string {
	if n, ok := handleNames[h]; ok {
		return n
	}
	return fmt.Sprintf("handle(%d)", int(h))
}

func (h Handle) movesLeft() bool {
	return h == HandleTopLeft || h == HandleLeft || h == HandleBottomLeft
}

func (h Handle) movesRight() bool {
	return h == HandleTopRight || h == HandleRight || h == HandleBottomRight
}

func (h Handle) movesTop() bool {
	return h == HandleTopLeft || h == HandleTop || h == HandleTopRight
}

func (h Handle) movesBottom() bool {
	return h == HandleBottomLeft || h == HandleBottom || h == HandleBottomRight
}

// DeltaKind distinguishes translating the whole crop from moving its edges.
type DeltaKind int

const (
	Drag DeltaKind = iota
	Resize
)

// Delta is one pointer movement applied to a crop.
type Delta struct {
	Kind   DeltaKind
	Handle Handle
	DX, DY int
}

// DragBy returns a translation delta.
func DragBy(dx, dy int) Delta { return Delta{Kind: Drag, DX: dx, DY: dy} }

// ResizeBy returns a delta that moves the edges named by h.
func ResizeBy(h Handle, dx, dy int) Delta { return Delta{Kind: Resize, Handle: h, DX: dx, DY: dy} }

// Update applies d to r within bounds b. When the result would violate the
// minimum size the update is rejected: the prior rectangle is returned
// (clamped to b) together with false.
func Update(r Rect, d Delta, b Bounds) (Rect, bool) {
	prior := Clamp(r, b)

	switch d.Kind {
	case Drag:
		moved := prior
		moved.X += d.DX
		moved.Y += d.DY
		return Clamp(moved, b), true
	case Resize:
		next, ok := resize(prior, d, b)
		if !ok {
			return prior, false
		}
		return next, true
	default:
		return prior, false
	}
}

func resize(r Rect, d Delta, b Bounds) (Rect, bool) {
	left, top, right, bottom := r.X, r.Y, r.Right(), r.Bottom()

	if d.Handle.movesLeft() {
		left = clampInt(left+d.DX, 0, b.Width)
	}
	if d.Handle.movesRight() {
		right = clampInt(right+d.DX, 0, b.Width)
	}
	if d.Handle.movesTop() {
		top = clampInt(top+d.DY, 0, b.Height)
	}
	if d.Handle.movesBottom() {
		bottom = clampInt(bottom+d.DY, 0, b.Height)
	}

	next := Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
	if !IsEligibleForScan(next) {
		return r, false
	}
	return next, true
}
