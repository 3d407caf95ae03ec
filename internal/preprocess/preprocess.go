// Package preprocess turns a cropped page region into the binary bitmap fed
// to the OCR engine. Every step is a pure function of its input.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/disintegration/imaging"
)

// Default binarization thresholds. Upscaled crops use a lower cut so thin
// strokes softened by interpolation survive.
const (
	DefaultUpscaleFactor     = 2.0
	DefaultUpscaledThreshold = 120
	DefaultNativeThreshold   = 127
)

// Error reports a failure in one preprocessing step.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preprocessing error in %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures the preprocessing chain.
type Options struct {
	// UpscaleFactor enlarges the crop before binarization when greater than 1.
	UpscaleFactor     float64 `json:"upscale_factor"`
	UpscaledThreshold uint8   `json:"upscaled_threshold"`
	NativeThreshold   uint8   `json:"native_threshold"`
}

// DefaultOptions upscales by two and uses the matching threshold.
func DefaultOptions() Options {
	return Options{
		UpscaleFactor:     DefaultUpscaleFactor,
		UpscaledThreshold: DefaultUpscaledThreshold,
		NativeThreshold:   DefaultNativeThreshold,
	}
}

// Upscaled reports whether these options enlarge the crop.
func (o Options) Upscaled() bool { return o.UpscaleFactor > 1 }

// Threshold returns the binarization cut for these options.
func (o Options) Threshold() uint8 {
	if o.Upscaled() {
		return o.UpscaledThreshold
	}
	return o.NativeThreshold
}

// Validate checks the options before use.
func (o Options) Validate() error {
	if o.UpscaleFactor < 0 || math.IsNaN(o.UpscaleFactor) || math.IsInf(o.UpscaleFactor, 0) {
		return fmt.Errorf("invalid upscale factor: %v", o.UpscaleFactor)
	}
	if o.UpscaleFactor > 8 {
		return fmt.Errorf("upscale factor %v too large (max 8)", o.UpscaleFactor)
	}
	return nil
}

// Bitmap is the single-channel binary image passed to OCR.
type Bitmap struct {
	Gray      *image.Gray
	Factor    float64
	Threshold uint8
}

// Width returns the bitmap width in pixels.
func (b *Bitmap) Width() int { return b.Gray.Bounds().Dx() }

// Height returns the bitmap height in pixels.
func (b *Bitmap) Height() int { return b.Gray.Bounds().Dy() }

// PNG encodes the bitmap for engines that take encoded image bytes.
func (b *Bitmap) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.Gray); err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// Preprocess extracts rect from surface and runs the full chain:
// extract, optional upscale, grayscale, sharpen and threshold.
// The surface is never modified.
func Preprocess(surface image.Image, rect crop.Rect, opts Options) (*Bitmap, error) {
	if err := opts.Validate(); err != nil {
		return nil, &Error{Op: "options", Err: err}
	}

	region, err := Extract(surface, rect)
	if err != nil {
		return nil, err
	}

	factor := 1.0
	if opts.Upscaled() {
		factor = opts.UpscaleFactor
		region = Upscale(region, factor)
	}

	gray := Grayscale(region)
	sharp := Sharpen(gray)
	t := opts.Threshold()

	return &Bitmap{Gray: Threshold(sharp, t), Factor: factor, Threshold: t}, nil
}

// Extract copies rect (relative to the surface origin) into a new buffer of
// exactly rect.Width by rect.Height pixels.
func Extract(surface image.Image, rect crop.Rect) (*image.NRGBA, error) {
	if surface == nil {
		return nil, &Error{Op: "extract", Err: errors.New("surface is nil")}
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return nil, &Error{Op: "extract", Err: fmt.Errorf("empty crop %s", rect)}
	}
	sb := surface.Bounds()
	if !rect.Within(crop.FromImage(sb)) {
		return nil, &Error{
			Op:  "extract",
			Err: fmt.Errorf("crop %s outside surface %dx%d", rect, sb.Dx(), sb.Dy()),
		}
	}

	src := rect.Image().Add(sb.Min)
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	draw.Draw(dst, dst.Bounds(), surface, src.Min, draw.Src)
	return dst, nil
}

// Upscale resizes img by factor using Catmull-Rom interpolation. Output
// dimensions are round(w*factor) by round(h*factor).
func Upscale(img image.Image, factor float64) *image.NRGBA {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	return imaging.Resize(img, max(w, 1), max(h, 1), imaging.CatmullRom)
}

// Grayscale averages the red, green and blue channels with equal weight,
// rounding to the nearest level.
func Grayscale(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			sum := int(img.Pix[i]) + int(img.Pix[i+1]) + int(img.Pix[i+2])
			out.Pix[y*out.Stride+x] = uint8((sum + 1) / 3)
		}
	}
	return out
}

// Sharpen applies 1.5*orig - 0.5*blur, where blur is a 3x3 box mean with
// border pixels replicated.
func Sharpen(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	at := func(x, y int) int {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return int(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	for y := range h {
		for x := range w {
			sum := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += at(x+dx, y+dy)
				}
			}
			blur := float64(sum) / 9
			v := 1.5*float64(at(x, y)) - 0.5*blur
			out.Pix[y*out.Stride+x] = clampByte(v)
		}
	}
	return out
}

// Threshold maps every pixel above t to 255 and everything else to 0.
func Threshold(img *image.Gray, t uint8) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
