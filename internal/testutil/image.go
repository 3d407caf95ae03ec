package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common page sizes for tests.
	SmallPage  = ImageSize{320, 240}
	MediumPage = ImageSize{640, 480}
	LargePage  = ImageSize{1280, 960}
)

// LegendConfig describes a synthetic sign legend drawn onto a page.
type LegendConfig struct {
	Lines      []string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	FontFace   font.Face
	// Origin is the top-left corner of the first text line.
	Origin image.Point
	// Scale enlarges glyphs by nearest-neighbour resampling so an OCR
	// engine can read them. Values below 2 draw at the native 7x13 size.
	Scale int
}

// DefaultLegendConfig returns a white page with the standard legend.
func DefaultLegendConfig() LegendConfig {
	return LegendConfig{
		Lines:      StandardLegend(),
		Size:       MediumPage,
		Background: color.White,
		Foreground: color.Black,
		FontFace:   basicfont.Face7x13,
		Origin:     image.Pt(20, 20),
		Scale:      2,
	}
}

// StandardLegend is a legend table as it appears on a traffic plan sheet.
func StandardLegend() []string {
	return []string{
		"SIGN LEGEND",
		"CODE SIZE DESCRIPTION QTY",
		"M4-8 18 X 24 DO NOT ENTER 3",
		"R1-1 30 X 30 STOP 2",
		"W20-1 48 X 48 ROAD WORK AHEAD 4",
	}
}

// GenerateLegendImage renders cfg.Lines onto a new page.
func GenerateLegendImage(cfg LegendConfig) *image.RGBA {
	if cfg.FontFace == nil {
		cfg.FontFace = basicfont.Face7x13
	}
	scale := cfg.Scale
	if scale < 1 {
		scale = 1
	}

	page := CreateTestImage(cfg.Size.Width, cfg.Size.Height, cfg.Background)

	lineHeight := cfg.FontFace.Metrics().Height.Ceil()
	ascent := cfg.FontFace.Metrics().Ascent.Ceil()
	for i, line := range cfg.Lines {
		w := font.MeasureString(cfg.FontFace, line).Ceil()
		if w == 0 {
			continue
		}
		glyphs := image.NewRGBA(image.Rect(0, 0, w, lineHeight))
		draw.Draw(glyphs, glyphs.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)
		d := &font.Drawer{
			Dst:  glyphs,
			Src:  &image.Uniform{cfg.Foreground},
			Face: cfg.FontFace,
			Dot:  fixed.P(0, ascent),
		}
		d.DrawString(line)

		var src image.Image = glyphs
		if scale > 1 {
			src = imaging.Resize(glyphs, w*scale, lineHeight*scale, imaging.NearestNeighbor)
		}
		at := cfg.Origin.Add(image.Pt(0, i*(lineHeight+4)*scale))
		draw.Draw(page, src.Bounds().Add(at), src, image.Point{}, draw.Src)
	}
	return page
}

// LegendBounds returns the region covered by the lines of cfg, padded by pad
// pixels and clipped to the page.
func LegendBounds(cfg LegendConfig, pad int) image.Rectangle {
	if cfg.FontFace == nil {
		cfg.FontFace = basicfont.Face7x13
	}
	scale := cfg.Scale
	if scale < 1 {
		scale = 1
	}
	lineHeight := cfg.FontFace.Metrics().Height.Ceil()
	maxW := 0
	for _, line := range cfg.Lines {
		if w := font.MeasureString(cfg.FontFace, line).Ceil(); w > maxW {
			maxW = w
		}
	}
	h := len(cfg.Lines) * (lineHeight + 4) * scale
	r := image.Rect(cfg.Origin.X, cfg.Origin.Y, cfg.Origin.X+maxW*scale, cfg.Origin.Y+h).Inset(-pad)
	return r.Intersect(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
}

// CreateTestImage creates a uniformly coloured image.
func CreateTestImage(width, height int, background color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	return img
}

// CreateStripedImage alternates black and white columns of the given width.
func CreateStripedImage(width, height, stripe int) *image.RGBA {
	img := CreateTestImage(width, height, color.White)
	if stripe < 1 {
		stripe = 1
	}
	for x := 0; x < width; x++ {
		if (x/stripe)%2 == 1 {
			for y := 0; y < height; y++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

// EncodeImage encodes img as PNG.
func EncodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img as PNG and fails the test on error.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := EncodeImage(img)
	require.NoError(t, err, "Failed to encode PNG image")
	return data
}

// SaveImage saves an image as PNG at path, creating directories as needed.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)), "Failed to create directory for %s", path)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// WriteLegendPNG renders the default legend into dir and returns the file path.
func WriteLegendPNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	SaveImage(t, GenerateLegendImage(DefaultLegendConfig()), path)
	return path
}

// LoadImage loads an image from path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image %s", path)
	return img
}

// CompareImages reports whether two images of equal bounds differ by at most
// tolerance, as a fraction of the maximum possible per-pixel difference.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b := img1.Bounds()
	if b.Dx() != img2.Bounds().Dx() || b.Dy() != img2.Bounds().Dy() {
		return false
	}
	if b.Empty() {
		return true
	}
	o := img2.Bounds().Min.Sub(b.Min)

	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x+o.X, y+o.Y).RGBA()
			dr, dg, db, da := float64(r1)-float64(r2), float64(g1)-float64(g2), float64(b1)-float64(b2), float64(a1)-float64(a2)
			total += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
		}
	}
	avg := total / float64(b.Dx()*b.Dy())
	return avg/math.Sqrt(4*65535*65535) <= tolerance
}

// DescribeImage is a short "WxH" label used in test names.
func DescribeImage(img image.Image) string {
	return fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy())
}
