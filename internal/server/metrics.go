package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/signscan/internal/pipeline"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Scan metrics
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_scans_total",
			Help: "Total number of scans by source and outcome",
		},
		[]string{"source", "outcome"}, // source: image, pdf, websocket
	)

	scanStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signscan_scan_stage_duration_seconds",
			Help:    "Scan stage duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"}, // stage: preprocess, ocr, parse, refine, total
	)

	scanRecords = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signscan_scan_records",
			Help:    "Number of sign records per scan",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	ocrStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_ocr_status_total",
			Help: "OCR outcomes by status",
		},
		[]string{"status"},
	)

	refineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_refine_total",
			Help: "Refinement outcomes",
		},
		[]string{"outcome"}, // outcome: refined, failed, skipped
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signscan_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// recordScan records the metrics of a finished scan.
func recordScan(source string, res *pipeline.ScanResult, err error) {
	if err != nil || res == nil {
		scansTotal.WithLabelValues(source, "error").Inc()
		return
	}
	scansTotal.WithLabelValues(source, "success").Inc()
	scanRecords.Observe(float64(len(res.Records)))
	if res.OCRStatus != "" {
		ocrStatusTotal.WithLabelValues(string(res.OCRStatus)).Inc()
	}
	switch {
	case res.Refined:
		refineTotal.WithLabelValues("refined").Inc()
	case res.RefineError != "":
		refineTotal.WithLabelValues("failed").Inc()
	default:
		refineTotal.WithLabelValues("skipped").Inc()
	}

	t := res.Timings
	for stage, d := range map[string]time.Duration{
		"preprocess": t.Preprocess,
		"ocr":        t.OCR,
		"parse":      t.Parse,
		"refine":     t.Refine,
		"total":      t.Total,
	} {
		scanStageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}
