package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/parser"
)

// ErrBidXNotConfigured is returned when no BidX endpoint is set.
var ErrBidXNotConfigured = errors.New("bidx api url is not configured")

// UploadError reports a non-2xx response from BidX.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("bidx api error: %d %s: %s", e.Status, http.StatusText(e.Status), body)
}

// UploadRequest is one sign list headed for BidX.
type UploadRequest struct {
	ProjectName string
	UploadDate  time.Time
	Signs       []parser.SignRecord
	// Confidence and Location are optional per-sign extras keyed by record id.
	Confidence map[string]float64
	Location   map[string]crop.Rect
}

// UploadResult is the acknowledgement of an upload.
type UploadResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RecordID      string `json:"recordId"`
	SignsUploaded int    `json:"signsUploaded"`
}

type bidxSign struct {
	MUTCDCode       string     `json:"mutcd_code"`
	Dimensions      string     `json:"dimensions"`
	Description     string     `json:"description"`
	Quantity        int        `json:"quantity"`
	ConfidenceScore *float64   `json:"confidence_score,omitempty"`
	IsPrimary       bool       `json:"is_primary"`
	Coordinates     *crop.Rect `json:"coordinates,omitempty"`
}

type bidxPayload struct {
	ProjectName string     `json:"project_name"`
	UploadDate  string     `json:"upload_date"`
	SignList    []bidxSign `json:"sign_list"`
	TotalCount  int        `json:"total_count"`
}

// BidXClient posts sign lists to a BidX endpoint.
type BidXClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewBidXClient creates a client with the given request timeout.
func NewBidXClient(baseURL, apiKey string, timeout time.Duration) *BidXClient {
	return &BidXClient{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}}
}

// Configured reports whether an endpoint is set.
func (c *BidXClient) Configured() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != ""
}

// Payload builds the JSON body sent for req.
func Payload(req UploadRequest) ([]byte, error) {
	date := req.UploadDate
	if date.IsZero() {
		date = time.Now()
	}
	p := bidxPayload{
		ProjectName: req.ProjectName,
		UploadDate:  date.UTC().Format(time.RFC3339),
		SignList:    make([]bidxSign, 0, len(req.Signs)),
	}
	for _, s := range req.Signs {
		sign := bidxSign{
			MUTCDCode:   s.Code,
			Dimensions:  s.Size,
			Description: s.Description,
			Quantity:    quantity(s.Quantity),
			IsPrimary:   true,
		}
		if c, ok := req.Confidence[s.ID]; ok {
			sign.ConfidenceScore = &c
		}
		if loc, ok := req.Location[s.ID]; ok {
			sign.Coordinates = &loc
		}
		p.SignList = append(p.SignList, sign)
	}
	p.TotalCount = len(p.SignList)
	return json.Marshal(p)
}

// quantity converts a parsed quantity to a count. Rows without a usable
// quantity count once.
func quantity(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Upload sends req and decodes the acknowledgement. An endpoint that
// answers 2xx without a JSON body is treated as a plain success.
func (c *BidXClient) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !c.Configured() {
		return nil, ErrBidXNotConfigured
	}
	body, err := Payload(req)
	if err != nil {
		return nil, fmt.Errorf("encode bidx payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create bidx request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bidx request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read bidx response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UploadError{Status: resp.StatusCode, Body: string(raw)}
	}

	result := &UploadResult{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return nil, fmt.Errorf("decode bidx response: %w", err)
		}
	} else {
		result.Success = true
	}
	if result.Message == "" {
		result.Message = "Sign list uploaded successfully"
	}
	if result.SignsUploaded == 0 {
		result.SignsUploaded = len(req.Signs)
	}
	return result, nil
}
