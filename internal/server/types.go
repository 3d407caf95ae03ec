package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/recent"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    *pipeline.Pipeline
	sessions    *sessionRegistry
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
	bidx        *export.BidXClient
	recent      recent.Store
	logger      *slog.Logger
	version     string
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// Pipeline runs the scans; the server closes it on Close.
	Pipeline *pipeline.Pipeline
	// Policy applies per client: a second scan from the same client is
	// rejected or supersedes the first.
	Policy    pipeline.InFlightPolicy
	RateLimit RateLimitConfig
	BidX      *export.BidXClient
	// Recent is optional; without it GET /recent returns an empty list.
	Recent  recent.Store
	Logger  *slog.Logger
	Version string
}

// RateLimitConfig holds per-client request limits. Zero values disable a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	RequestsPerDay    int
	MaxDataPerDay     int64
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// StatusResponse is returned by GET /.
type StatusResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ExportRequest is the body of POST /export/csv.
type ExportRequest struct {
	Signs    []parser.SignRecord `json:"signs"`
	FileName string              `json:"fileName,omitempty"`
}

// BidXUploadRequest is the body of POST /upload/bidx.
type BidXUploadRequest struct {
	ProjectName string              `json:"projectName"`
	PDFFileName string              `json:"pdfFileName,omitempty"`
	UploadDate  string              `json:"uploadDate,omitempty"`
	Signs       []parser.SignRecord `json:"signs"`
	RecentID    string              `json:"recentId,omitempty"`
}

// RecentResponse is returned by GET /recent.
type RecentResponse struct {
	Files []recent.RecentFile `json:"files"`
	Count int                 `json:"count"`
}

// NewServer creates a new scan server instance.
func NewServer(config Config) (*Server, error) {
	if config.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}

	s := &Server{
		pipeline:    config.Pipeline,
		sessions:    newSessionRegistry(config.Pipeline, config.Policy),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: maxUpload,
		timeoutSec:  config.TimeoutSec,
		bidx:        config.BidX,
		recent:      config.Recent,
		logger:      logger,
		version:     config.Version,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.sessions != nil {
		s.sessions.cancelAll()
	}
	if s.pipeline == nil {
		return nil
	}
	return s.pipeline.Close()
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.corsMiddleware(s.rootHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.rateLimitMiddleware(s.scanImageHandler)))
	mux.HandleFunc("/process-image", s.corsMiddleware(s.rateLimitMiddleware(s.scanImageHandler)))
	mux.HandleFunc("/scan/pdf", s.corsMiddleware(s.rateLimitMiddleware(s.scanPDFHandler)))
	mux.HandleFunc("/ws/scan", s.rateLimitMiddleware(s.scanWebSocketHandler))
	mux.HandleFunc("/export/csv", s.corsMiddleware(s.exportCSVHandler))
	mux.HandleFunc("/upload/bidx", s.corsMiddleware(s.rateLimitMiddleware(s.uploadBidXHandler)))
	mux.HandleFunc("/recent", s.corsMiddleware(s.recentHandler))
	mux.Handle("/metrics", metricsHandler())
}

// sessionRegistry keeps one scan session per client so a client has at most
// one scan in flight.
type sessionRegistry struct {
	pipeline *pipeline.Pipeline
	policy   pipeline.InFlightPolicy

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session  *pipeline.Session
	lastUsed time.Time
}

// sessionIdleTTL is how long an idle client session is kept.
const sessionIdleTTL = 30 * time.Minute

func newSessionRegistry(p *pipeline.Pipeline, policy pipeline.InFlightPolicy) *sessionRegistry {
	return &sessionRegistry{pipeline: p, policy: policy, sessions: make(map[string]*sessionEntry)}
}

// get returns the session of client, creating it on first use. Idle
// sessions of other clients are dropped on the way.
func (r *sessionRegistry) get(client string) *pipeline.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, e := range r.sessions {
		if id != client && now.Sub(e.lastUsed) > sessionIdleTTL && !e.session.InFlight() {
			delete(r.sessions, id)
		}
	}

	e, ok := r.sessions[client]
	if !ok {
		e = &sessionEntry{session: pipeline.NewSession(r.pipeline, r.policy)}
		r.sessions[client] = e
	}
	e.lastUsed = now
	return e.session
}

// newSession returns a session that is not shared with other requests.
func (r *sessionRegistry) newSession(policy pipeline.InFlightPolicy) *pipeline.Session {
	return pipeline.NewSession(r.pipeline, policy)
}

func (r *sessionRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sessions {
		e.session.Cancel()
	}
}
