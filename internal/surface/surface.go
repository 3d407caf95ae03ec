// Package surface loads page rasters and renders them for a crop viewport.
package surface

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedExtensions lists the raster formats a page can be loaded from.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

// Error wraps a failure in one surface operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("surface error in %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Metadata describes a loaded page raster.
type Metadata struct {
	Path      string `json:"path,omitempty"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// IsSupported reports whether path has a raster extension this package decodes.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Load opens and decodes a page raster from disk.
func Load(path string) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &Error{Op: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, Metadata{}, &Error{Op: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied page path
	if err != nil {
		return nil, Metadata{}, &Error{Op: "load", Err: err}
	}

	img, meta, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, err
	}
	meta.Path = path
	meta.SizeBytes = int64(len(data))
	return img, meta, nil
}

// Decode reads a page raster from r.
func Decode(r io.Reader) (image.Image, Metadata, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, Metadata{}, &Error{Op: "decode", Err: err}
	}
	b := img.Bounds()
	return img, Metadata{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Bounds returns the crop bounds of an image, or zero bounds for nil.
func Bounds(img image.Image) crop.Bounds {
	if img == nil {
		return crop.Bounds{}
	}
	return crop.FromImage(img.Bounds())
}

// Render produces the surface the user draws on: the page rotated clockwise
// by the viewport rotation and scaled by its zoom. The result's origin is 0,0.
func Render(page image.Image, vp crop.Viewport) *image.NRGBA {
	vp = vp.Normalize()
	rotated := Orient(page, vp.Rotation)
	if vp.Zoom == 1 {
		return rotated
	}
	target := vp.SurfaceBounds(Bounds(page))
	return imaging.Resize(rotated, target.Width, target.Height, imaging.Linear)
}

// Orient rotates img clockwise by rotation degrees, normalized to a multiple
// of 90. The result is always a copy with origin 0,0.
func Orient(img image.Image, rotation int) *image.NRGBA {
	switch (crop.Viewport{Zoom: 1, Rotation: rotation}).Normalize().Rotation {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// ResolveCrop maps a crop drawn on the rendered surface back to page pixels,
// so preprocessing always samples the page at its reference resolution.
func ResolveCrop(page image.Image, vp crop.Viewport, surfaceRect crop.Rect) crop.Rect {
	return vp.ToPage(surfaceRect, Bounds(page))
}
