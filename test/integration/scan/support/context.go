// Package support holds the godog step definitions for the scan API suite.
package support

import (
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/ocr/mock"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/recent"
	"github.com/MeKo-Tech/signscan/internal/server"
	"github.com/MeKo-Tech/signscan/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Script *mock.Script
	Page   []byte
	TmpDir string

	Server      *httptest.Server
	scanServer  *server.Server
	policy      pipeline.InFlightPolicy
	recentStore *recent.FileStore

	// Upstream fakes the BidX API and records the bodies it received.
	Upstream      *httptest.Server
	upstreamMu    sync.Mutex
	UpstreamCalls [][]byte

	LastStatus  int
	LastBody    []byte
	LastHeaders http.Header
	LastRecords []parser.SignRecord

	WSMessages []server.WebSocketScanResponse
}

// NewTestContext creates a scenario context with a temp dir and a white page.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "signscan-integration-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		Script: mock.NewScript(""),
		TmpDir: dir,
		policy: pipeline.PolicyReject,
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setPage encodes a white page of the given size.
func (tc *TestContext) setPage(width, height int) error {
	data, err := testutil.EncodeImage(testutil.CreateTestImage(width, height, color.White))
	if err != nil {
		return err
	}
	tc.Page = data
	return nil
}

// ensureServer starts the API on first use.
func (tc *TestContext) ensureServer() error {
	if tc.Server != nil {
		return nil
	}
	tc.recentStore = recent.NewFileStore(filepath.Join(tc.TmpDir, "recent.yaml"))
	p, err := pipeline.NewBuilder().
		WithEngineFactory(tc.Script.Factory()).
		WithSink(&recent.Sink{Store: tc.recentStore}).
		WithLogger(discardLogger()).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	var bidx *export.BidXClient
	if tc.Upstream != nil {
		bidx = export.NewBidXClient(tc.Upstream.URL, "test-key", 0)
	}
	s, err := server.NewServer(server.Config{
		Pipeline:    p,
		Policy:      tc.policy,
		MaxUploadMB: 5,
		TimeoutSec:  10,
		BidX:        bidx,
		Recent:      tc.recentStore,
		Logger:      discardLogger(),
		Version:     "integration",
	})
	if err != nil {
		_ = p.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	tc.scanServer = s
	tc.Server = httptest.NewServer(mux)
	return nil
}

// startUpstream fakes BidX. It must run before the API server starts.
func (tc *TestContext) startUpstream() {
	tc.Upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tc.upstreamMu.Lock()
		tc.UpstreamCalls = append(tc.UpstreamCalls, body)
		tc.upstreamMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Sign list uploaded","recordId":"BIDX-42"}`))
	}))
}

// Cleanup stops the servers and removes the temp dir.
func (tc *TestContext) Cleanup() error {
	if tc.Server != nil {
		tc.Server.Close()
	}
	if tc.scanServer != nil {
		_ = tc.scanServer.Close()
	}
	if tc.Upstream != nil {
		tc.Upstream.Close()
	}
	return os.RemoveAll(tc.TmpDir)
}
