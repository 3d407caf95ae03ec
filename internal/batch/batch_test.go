package batch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/ocr/mock"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/testutil"
)

const legendText = "R1-1 30 X 30 STOP 2\nW20-1 48 X 48 ROAD WORK AHEAD 4\n"

func newPipeline(t *testing.T, script *mock.Script) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.NewBuilder().WithEngineFactory(script.Factory()).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func writePages(t *testing.T, n, w, h int) []string {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, n)
	for i := range files {
		files[i] = filepath.Join(dir, string(rune('a'+i))+".png")
		testutil.SaveImage(t, testutil.CreateTestImage(w, h, color.White), files[i])
	}
	return files
}

func TestRun(t *testing.T) {
	script := mock.NewScript(legendText)
	files := writePages(t, 5, 320, 240)

	res, err := Run(t.Context(), newPipeline(t, script), files, Options{Workers: 3})
	require.NoError(t, err)
	require.Len(t, res.Items, 5)
	assert.Equal(t, 3, res.Workers)
	assert.Zero(t, res.Failed())
	assert.Equal(t, 10, res.Signs())

	ids := map[string]bool{}
	for i, it := range res.Items {
		assert.Equal(t, files[i], it.File, "items keep input order")
		require.NoError(t, it.Err)
		assert.Equal(t, files[i], it.Result.Source)
		ids[it.Result.ID] = true
	}
	assert.Len(t, ids, 5)
}

func TestRunCropAndViewport(t *testing.T) {
	script := mock.NewScript(legendText)
	files := writePages(t, 1, 320, 240)
	r := crop.Rect{X: 10, Y: 10, Width: 60, Height: 50}

	res, err := Run(t.Context(), newPipeline(t, script), files, Options{Crop: &r})
	require.NoError(t, err)
	assert.Equal(t, r, res.Items[0].Result.Crop)
	w, h := script.LastSize()
	assert.Equal(t, 120, w)
	assert.Equal(t, 100, h)

	// left 60 columns black: after a clockwise quarter turn they are the top rows
	page := testutil.CreateTestImage(320, 240, color.White)
	draw.Draw(page, image.Rect(0, 0, 60, 240), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	sideways := filepath.Join(t.TempDir(), "sideways.png")
	testutil.SaveImage(t, page, sideways)

	_, err = Run(t.Context(), newPipeline(t, script), []string{sideways}, Options{Viewport: crop.Viewport{Rotation: 90}})
	require.NoError(t, err)
	w, h = script.LastSize()
	assert.Equal(t, 480, w)
	assert.Equal(t, 640, h)
	bmp := script.LastBitmap()
	require.NotNil(t, bmp)
	assert.Equal(t, uint8(0), bmp.Gray.GrayAt(240, 40).Y, "bitmap is upright")
	assert.Equal(t, uint8(255), bmp.Gray.GrayAt(240, 600).Y)
}

func TestRunKeepsGoingAfterFailures(t *testing.T) {
	files := writePages(t, 2, 100, 100)
	files = append([]string{filepath.Join(t.TempDir(), "missing.png")}, files...)
	r := crop.Rect{X: 50, Y: 50, Width: 80, Height: 80}

	res, err := Run(t.Context(), newPipeline(t, mock.NewScript(legendText)), files, Options{Workers: 2, Crop: &r})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed())
	assert.Contains(t, res.Items[0].Err.Error(), "failed to load")

	var verr *crop.ValidationError
	assert.ErrorAs(t, res.Items[1].Err, &verr)
}

func TestRunCanceled(t *testing.T) {
	files := writePages(t, 3, 100, 100)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := Run(ctx, newPipeline(t, mock.NewScript(legendText)), files, Options{Workers: 1})
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.ErrorIs(t, it.Err, context.Canceled)
	}
}

func TestRunErrors(t *testing.T) {
	_, err := Run(t.Context(), nil, []string{"a.png"}, Options{})
	require.Error(t, err)

	_, err = Run(t.Context(), newPipeline(t, mock.NewScript("")), nil, Options{})
	require.Error(t, err)
}

// countingProgress checks that callbacks from concurrent scans arrive.
type countingProgress struct {
	pipeline.NoOpProgressCallback
	mu       sync.Mutex
	complete int
}

func (c *countingProgress) OnComplete(string, *pipeline.ScanResult) {
	c.mu.Lock()
	c.complete++
	c.mu.Unlock()
}

func TestRunProgress(t *testing.T) {
	files := writePages(t, 4, 100, 100)
	progress := &countingProgress{}

	_, err := Run(t.Context(), newPipeline(t, mock.NewScript(legendText)), files, Options{Workers: 4, Progress: progress})
	require.NoError(t, err)
	assert.Equal(t, 4, progress.complete)
}

func TestEngineFailureIsNotAnItemError(t *testing.T) {
	script := mock.NewScript("")
	script.RecognizeErr = errors.New("boom")
	files := writePages(t, 1, 100, 100)

	res, err := Run(t.Context(), newPipeline(t, script), files, Options{})
	require.NoError(t, err)
	require.NoError(t, res.Items[0].Err)
	assert.Empty(t, res.Items[0].Result.Records)
	assert.True(t, res.Items[0].Result.OCRStatus.Failed())
}
