//go:build !tesseract

package ocr

// The in-process gosseract backend needs cgo and libtesseract, so it is only
// compiled with -tags=tesseract. The exec backend works without it.
func newGosseractEngine() (Engine, error) {
	return nil, ErrBackendNotLinked
}
