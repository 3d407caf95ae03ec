//go:build tesseract

package ocr

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/signscan/internal/preprocess"
	"github.com/otiai10/gosseract/v2"
)

// GosseractEngine binds libtesseract in-process through gosseract.
// Build with -tags=tesseract; the library and headers must be installed.
type GosseractEngine struct {
	client *gosseract.Client
}

func newGosseractEngine() (Engine, error) {
	return &GosseractEngine{client: gosseract.NewClient()}, nil
}

// Configure applies language, page segmentation and variables to the client.
func (e *GosseractEngine) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.DataPath != "" {
		if err := e.client.SetTessdataPrefix(opts.DataPath); err != nil {
			return err
		}
	}
	if err := e.client.SetLanguage(opts.Language); err != nil {
		return err
	}
	if err := e.client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
		return err
	}
	for k, v := range opts.Variables {
		if err := e.client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Recognize hands the PNG-encoded bitmap to tesseract.
func (e *GosseractEngine) Recognize(ctx context.Context, bmp *preprocess.Bitmap) (string, error) {
	if e.client == nil {
		return "", errors.New("engine closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := bmp.PNG()
	if err != nil {
		return "", err
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return "", err
	}
	return e.client.Text()
}

// Close releases the tesseract handle.
func (e *GosseractEngine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
