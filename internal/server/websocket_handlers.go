package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketScanRequest asks for a scan of a crop of an image.
type WebSocketScanRequest struct {
	Type     string     `json:"type"` // "scan" or "cancel"
	Image    []byte     `json:"image,omitempty"`
	Source   string     `json:"source,omitempty"`
	Crop     *crop.Rect `json:"crop,omitempty"`
	Rotation int        `json:"rotation,omitempty"`
	Zoom     float64    `json:"zoom,omitempty"`
	Refine   *bool      `json:"refine,omitempty"`
}

// WebSocketScanResponse reports the progress of a scan.
type WebSocketScanResponse struct {
	Type      string              `json:"type"`
	Status    string              `json:"status"` // scanning, analyzing, complete, error
	ScanID    string              `json:"scan_id,omitempty"`
	Records   []parser.SignRecord `json:"records,omitempty"`
	OCRStatus string              `json:"ocr_status,omitempty"`
	Refined   bool                `json:"refined,omitempty"`
	Warning   string              `json:"warning,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorType string              `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedWriter serializes writes from the read loop and scan goroutines.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// scanWebSocketHandler streams scan progress to the client. Each connection
// owns a session in which a new scan supersedes the running one.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	out := &lockedWriter{conn: conn}
	session := s.sessions.newSession(pipeline.PolicySupersede)
	defer session.Cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType != websocket.TextMessage {
			continue
		}
		req, scanReq, err := s.parseWebSocketMessage(data)
		if err != nil {
			s.sendWebSocketError(out, "", "invalid_request", err.Error())
			continue
		}
		if req.Type == "cancel" {
			session.Cancel()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runWebSocketScan(ctx, out, session, scanReq)
		}()
	}
}

// parseWebSocketMessage decodes a client message into a scan request.
func (s *Server) parseWebSocketMessage(data []byte) (WebSocketScanRequest, pipeline.ScanRequest, error) {
	var req WebSocketScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, pipeline.ScanRequest{}, fmt.Errorf("failed to parse request: %w", err)
	}
	switch req.Type {
	case "cancel":
		return req, pipeline.ScanRequest{}, nil
	case "scan":
	default:
		return req, pipeline.ScanRequest{}, fmt.Errorf("unsupported request type: %s", req.Type)
	}
	if len(req.Image) == 0 {
		return req, pipeline.ScanRequest{}, errors.New("no image data provided")
	}
	page, _, err := surface.Decode(bytes.NewReader(req.Image))
	if err != nil {
		return req, pipeline.ScanRequest{}, fmt.Errorf("failed to decode image: %w", err)
	}

	vp := crop.Identity()
	vp.Rotation = req.Rotation
	if req.Zoom != 0 {
		vp.Zoom = req.Zoom
	}
	vp = vp.Normalize()

	rect := vp.SurfaceBounds(surface.Bounds(page)).Full()
	if req.Crop != nil {
		rect = *req.Crop
	}
	return req, pipeline.ScanRequest{
		Page:     page,
		Crop:     rect,
		Viewport: &vp,
		Source:   req.Source,
		Refine:   req.Refine,
	}, nil
}

func (s *Server) runWebSocketScan(ctx context.Context, out WebSocketConnWriter, session *pipeline.Session, req pipeline.ScanRequest) {
	scanCtx, cancel := s.requestContext(ctx)
	defer cancel()

	cb := pipeline.NewMultiProgressCallback(s.logProgress(), &wsProgress{server: s, out: out})
	res, err := session.RunScan(scanCtx, req, cb)
	recordScan("websocket", res, err)
	// Every failure of a started scan has been reported through cb; only a
	// rejection never reaches it.
	if errors.Is(err, pipeline.ErrScanInFlight) {
		s.sendWebSocketError(out, "", "scan_in_flight", err.Error())
	}
}

// wsProgress forwards scan progress to a WebSocket client.
type wsProgress struct {
	server *Server
	out    WebSocketConnWriter
}

func (p *wsProgress) OnStart(string) {}

func (p *wsProgress) OnStage(scanID string, stage pipeline.Stage) {
	if stage == pipeline.StageComplete || stage == pipeline.StageFailed {
		return
	}
	p.server.sendWebSocketResponse(p.out, WebSocketScanResponse{Type: "scan_progress", Status: string(stage), ScanID: scanID})
}

func (p *wsProgress) OnWarning(scanID string, message string) {
	p.server.sendWebSocketResponse(p.out, WebSocketScanResponse{Type: "scan_progress", Status: string(pipeline.StageAnalyzing), ScanID: scanID, Warning: message})
}

func (p *wsProgress) OnComplete(scanID string, result *pipeline.ScanResult) {
	p.server.sendWebSocketResponse(p.out, WebSocketScanResponse{
		Type:      "scan_progress",
		Status:    string(pipeline.StageComplete),
		ScanID:    scanID,
		Records:   result.Records,
		OCRStatus: string(result.OCRStatus),
		Refined:   result.Refined,
	})
}

func (p *wsProgress) OnError(scanID string, err error) {
	errType := "processing_error"
	var verr *crop.ValidationError
	switch {
	case errors.As(err, &verr):
		errType = "invalid_crop"
	case errors.Is(err, context.Canceled):
		errType = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		errType = "timeout"
	}
	p.server.sendWebSocketError(p.out, scanID, errType, err.Error())
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketScanResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, scanID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "scan_progress",
		Status:    "error",
		ScanID:    scanID,
		Error:     message,
		ErrorType: errorType,
	})
}
