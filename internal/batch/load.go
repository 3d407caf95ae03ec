package batch

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/signscan/internal/pdf"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

// LoadPage reads a page image from an image file, or the largest image
// embedded in the given page of a scanned PDF.
func LoadPage(path string, page int, opts pdf.Options) (image.Image, error) {
	if isPDF(path) {
		if page < 1 {
			page = 1
		}
		img, err := pdf.LargestPageImage(path, page, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", page, path, err)
		}
		return img, nil
	}
	img, _, err := surface.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return img, nil
}
