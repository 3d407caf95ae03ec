package crop

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestUpdate_StaysInBoundsAndAboveMinimum drives random drags and resizes
// and checks that every accepted state is a scannable in-bounds rectangle.
func TestUpdate_StaysInBoundsAndAboveMinimum(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("updates never leave bounds or shrink below minimum", prop.ForAll(
		func(w, h int, moves []int) bool {
			b := Bounds{Width: w, Height: h}
			r, err := Begin(b)
			if err != nil {
				return false
			}
			for i := 0; i+2 < len(moves); i += 3 {
				var d Delta
				if moves[i]%2 == 0 {
					d = DragBy(moves[i+1], moves[i+2])
				} else {
					handle := Handle(1 + (abs(moves[i]) % 8))
					d = ResizeBy(handle, moves[i+1], moves[i+2])
				}
				r, _ = Update(r, d, b)
				if !r.Within(b) || !IsEligibleForScan(r) {
					return false
				}
			}
			return true
		},
		gen.IntRange(MinSize, 2000),
		gen.IntRange(MinSize, 2000),
		gen.SliceOfN(30, gen.IntRange(-400, 400)),
	))

	properties.TestingRun(t)
}

func TestRebase_AlwaysWithinTarget(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("rebased crops fit the new surface", prop.ForAll(
		func(fw, fh, tw, th int) bool {
			from := Bounds{Width: fw, Height: fh}
			to := Bounds{Width: tw, Height: th}
			r, err := Begin(from)
			if err != nil {
				return false
			}
			return Rebase(r, from, to).Within(to)
		},
		gen.IntRange(MinSize, 3000),
		gen.IntRange(MinSize, 3000),
		gen.IntRange(1, 3000),
		gen.IntRange(1, 3000),
	))

	properties.TestingRun(t)
}

func TestViewport_ToPageWithinPage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("surface crops map inside the page", prop.ForAll(
		func(pw, ph, steps, rotations, x, y int) bool {
			page := Bounds{Width: pw, Height: ph}
			vp := Identity()
			for range steps {
				vp = vp.ZoomIn()
			}
			for range rotations {
				vp = vp.Rotate()
			}
			sb := vp.SurfaceBounds(page)
			r := Clamp(Rect{X: x, Y: y, Width: sb.Width / 2, Height: sb.Height / 2}, sb)
			return vp.ToPage(r, page).Within(page)
		},
		gen.IntRange(MinSize, 1500),
		gen.IntRange(MinSize, 1500),
		gen.IntRange(0, 8),
		gen.IntRange(0, 4),
		gen.IntRange(0, 3000),
		gen.IntRange(0, 3000),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
