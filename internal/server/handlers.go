package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pdf"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/preprocess"
	"github.com/MeKo-Tech/signscan/internal/recent"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

// rootHandler answers the liveness probe the web client polls.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeErrorResponse(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Message: "MUTCD OCR API is running!"})
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// scanImageHandler scans a crop of an uploaded page image.
func (s *Server) scanImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, header, ok := s.readUpload(w, r)
	if !ok {
		scansTotal.WithLabelValues("image", "error").Inc()
		return
	}
	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		scansTotal.WithLabelValues("image", "error").Inc()
		s.writeErrorResponse(w, "File must be an image", http.StatusBadRequest)
		return
	}

	page, _, err := surface.Decode(bytes.NewReader(data))
	if err != nil {
		scansTotal.WithLabelValues("image", "error").Inc()
		s.writeErrorResponse(w, "Invalid image file", http.StatusBadRequest)
		return
	}

	s.runScan(w, r, "image", page, header.Filename)
}

// scanPDFHandler scans a crop of one page of an uploaded scanned PDF.
func (s *Server) scanPDFHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, header, ok := s.readUpload(w, r)
	if !ok {
		scansTotal.WithLabelValues("pdf", "error").Inc()
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		scansTotal.WithLabelValues("pdf", "error").Inc()
		s.writeErrorResponse(w, "Invalid PDF file", http.StatusBadRequest)
		return
	}

	pageNum := 1
	if v := r.FormValue("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			scansTotal.WithLabelValues("pdf", "error").Inc()
			s.writeErrorResponse(w, fmt.Sprintf("Invalid page number: %s", v), http.StatusBadRequest)
			return
		}
		pageNum = n
	}

	page, err := pdf.LargestPageImageBytes(data, pageNum, pdf.Options{UserPassword: r.FormValue("password")})
	if err != nil {
		scansTotal.WithLabelValues("pdf", "error").Inc()
		switch {
		case pdf.IsPasswordError(err):
			s.writeErrorResponse(w, "PDF is password protected", http.StatusUnauthorized)
		case errors.Is(err, pdf.ErrNoPageImage):
			s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			s.writeErrorResponse(w, fmt.Sprintf("Failed to read PDF: %v", err), http.StatusBadRequest)
		}
		return
	}

	s.runScan(w, r, "pdf", page, header.Filename)
}

// readUpload enforces the size limit and reads the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, *multipart.FileHeader, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorResponse(w, "No file provided", http.StatusBadRequest)
		return nil, nil, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, nil, false
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read file data", http.StatusInternalServerError)
		return nil, nil, false
	}
	return data, header, true
}

// runScan parses the crop fields, runs the scan in the client's session and
// writes the response.
func (s *Server) runScan(w http.ResponseWriter, r *http.Request, source string, page image.Image, fileName string) {
	req, err := scanRequestFromForm(r, page)
	if err != nil {
		scansTotal.WithLabelValues(source, "error").Inc()
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Source = fileName

	format := strings.ToLower(r.FormValue("format"))
	if format == "" {
		format = strings.ToLower(r.URL.Query().Get("format"))
	}
	if format != "" && format != pipeline.FormatJSON && format != pipeline.FormatCSV && format != pipeline.FormatText {
		scansTotal.WithLabelValues(source, "error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("Unsupported format: %s", format), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	session := s.sessions.get(getClientIP(r))
	res, err := session.RunScan(ctx, req, s.logProgress())
	recordScan(source, res, err)
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	s.writeScanResponse(w, res, format)
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeoutSec > 0 {
		return context.WithTimeout(parent, time.Duration(s.timeoutSec)*time.Second)
	}
	return context.WithCancel(parent)
}

func (s *Server) logProgress() pipeline.ProgressCallback {
	return pipeline.NewLogProgressCallback(s.logger, slog.LevelDebug)
}

// scanRequestFromForm reads x, y, width, height, rotation, zoom and refine.
// Without crop fields the whole rendered surface is scanned.
func scanRequestFromForm(r *http.Request, page image.Image) (pipeline.ScanRequest, error) {
	vp := crop.Identity()
	if v := r.FormValue("rotation"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return pipeline.ScanRequest{}, fmt.Errorf("invalid rotation: %s", v)
		}
		vp.Rotation = n
	}
	if v := r.FormValue("zoom"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pipeline.ScanRequest{}, fmt.Errorf("invalid zoom: %s", v)
		}
		vp.Zoom = z
	}
	vp = vp.Normalize()

	rect, err := cropFromForm(r, vp.SurfaceBounds(surface.Bounds(page)))
	if err != nil {
		return pipeline.ScanRequest{}, err
	}

	req := pipeline.ScanRequest{Page: page, Crop: rect, Viewport: &vp}
	if v := r.FormValue("refine"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return pipeline.ScanRequest{}, fmt.Errorf("invalid refine flag: %s", v)
		}
		req.Refine = &b
	}
	return req, nil
}

func cropFromForm(r *http.Request, bounds crop.Bounds) (crop.Rect, error) {
	fields := []string{"x", "y", "width", "height"}
	values := make([]int, len(fields))
	present := 0
	for i, f := range fields {
		v := r.FormValue(f)
		if v == "" {
			continue
		}
		fv, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return crop.Rect{}, fmt.Errorf("invalid %s: %s", f, v)
		}
		values[i] = int(fv + 0.5)
		if fv < 0 {
			values[i] = int(fv - 0.5)
		}
		present++
	}
	switch present {
	case 0:
		return bounds.Full(), nil
	case len(fields):
		return crop.Rect{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
	default:
		return crop.Rect{}, errors.New("crop requires x, y, width and height")
	}
}

// writeScanError maps scan failures to status codes.
func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	var verr *crop.ValidationError
	var perr *preprocess.Error
	switch {
	case errors.As(err, &verr):
		s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, pipeline.ErrScanInFlight), errors.Is(err, pipeline.ErrScanSuperseded):
		s.writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, "Scan timed out", http.StatusGatewayTimeout)
	case errors.As(err, &perr):
		s.writeErrorResponse(w, fmt.Sprintf("Image preprocessing failed: %v", err), http.StatusInternalServerError)
	default:
		s.writeErrorResponse(w, fmt.Sprintf("Scan failed: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) writeScanResponse(w http.ResponseWriter, res *pipeline.ScanResult, format string) {
	w.Header().Set("X-Scan-ID", res.ID)
	w.Header().Set("X-OCR-Status", string(res.OCRStatus))
	w.Header().Set("X-Refined", strconv.FormatBool(res.Refined))

	switch format {
	case pipeline.FormatCSV:
		body, err := pipeline.ToCSV(res)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		s.writeCSV(w, body, export.DefaultCSVName(res.StartedAt))
	case pipeline.FormatText:
		body, err := pipeline.ToPlainText(res)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, body)
	default:
		s.writeJSON(w, http.StatusOK, res.Records)
	}
}

// exportCSVHandler converts posted records to a CSV download. The body is a
// JSON array of records or an ExportRequest.
func (s *Server) exportCSVHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, fileName, err := decodeExport(http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024))
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if fileName == "" {
		fileName = export.DefaultCSVName(time.Now())
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, records); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("CSV export failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeCSV(w, buf.String(), fileName)
}

func decodeExport(body io.Reader) ([]parser.SignRecord, string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, "", errors.New("empty body")
	}
	if raw[0] == '[' {
		var records []parser.SignRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, "", err
		}
		return records, "", nil
	}
	var req ExportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, "", err
	}
	return req.Signs, req.FileName, nil
}

// uploadBidXHandler forwards a sign list to BidX.
func (s *Server) uploadBidXHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.bidx.Configured() {
		s.writeErrorResponse(w, export.ErrBidXNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}

	var body BidXUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)).Decode(&body); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	project := body.ProjectName
	if project == "" {
		project = body.PDFFileName
	}
	if strings.TrimSpace(project) == "" {
		s.writeErrorResponse(w, "projectName is required", http.StatusBadRequest)
		return
	}
	date := time.Now()
	if body.UploadDate != "" {
		d, err := time.Parse(time.RFC3339, body.UploadDate)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("Invalid uploadDate: %s", body.UploadDate), http.StatusBadRequest)
			return
		}
		date = d
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	result, err := s.bidx.Upload(ctx, export.UploadRequest{ProjectName: project, UploadDate: date, Signs: body.Signs})
	if err != nil {
		s.logger.Error("BidX upload failed", "project", project, "error", err)
		var uerr *export.UploadError
		if errors.As(err, &uerr) {
			s.writeErrorResponse(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.writeErrorResponse(w, fmt.Sprintf("Failed to upload to BidX: %v", err), http.StatusInternalServerError)
		return
	}

	if body.RecentID != "" && s.recent != nil {
		if err := s.markUploaded(body.RecentID); err != nil {
			s.logger.Warn("Failed to mark recent file uploaded", "id", body.RecentID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) markUploaded(id string) error {
	if fs, ok := s.recent.(*recent.FileStore); ok {
		return fs.Update(func(list []recent.RecentFile) []recent.RecentFile {
			out, _ := recent.MarkUploaded(list, id)
			return out
		})
	}
	list, err := s.recent.Load()
	if err != nil {
		return err
	}
	out, found := recent.MarkUploaded(list, id)
	if !found {
		return fmt.Errorf("recent file %s not found", id)
	}
	return s.recent.Save(out)
}

// recentHandler lists recently scanned files.
func (s *Server) recentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	files := []recent.RecentFile{}
	if s.recent != nil {
		list, err := s.recent.Load()
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("Failed to load recent files: %v", err), http.StatusInternalServerError)
			return
		}
		if list != nil {
			files = list
		}
	}
	s.writeJSON(w, http.StatusOK, RecentResponse{Files: files, Count: len(files)})
}

func (s *Server) writeCSV(w http.ResponseWriter, body, fileName string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	_, _ = io.WriteString(w, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
