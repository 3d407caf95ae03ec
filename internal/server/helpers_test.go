package server

import (
	"bytes"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/signscan/internal/ocr/mock"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/testutil"
)

const legendText = "SIGN LEGEND\nCODE SIZE DESCRIPTION QTY\nR1-1 30 X 30 STOP 2\nW20-1 48 X 48 ROAD WORK AHEAD 4\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a server whose pipeline reads text through a scripted
// engine.
func newTestServer(t *testing.T, script *mock.Script, configure ...func(*Config)) *Server {
	t.Helper()
	p, err := pipeline.NewBuilder().
		WithEngineFactory(script.Factory()).
		WithLogger(discardLogger()).
		Build()
	require.NoError(t, err)

	cfg := Config{
		Pipeline:    p,
		Policy:      pipeline.PolicyReject,
		MaxUploadMB: 5,
		TimeoutSec:  10,
		Logger:      discardLogger(),
		Version:     "test",
	}
	for _, c := range configure {
		c(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// pagePNG returns a blank white page large enough for any test crop.
func pagePNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateTestImage(640, 480, color.White))
}

// createMultipartRequest builds a multipart upload of data under "file" with
// the given part content type and extra form fields.
func createMultipartRequest(t *testing.T, target, fileName, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}
