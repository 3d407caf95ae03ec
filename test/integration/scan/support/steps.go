package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/server"
)

// RegisterSteps binds the step definitions to sc.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a plan page of (\d+)x(\d+) pixels$`, tc.aPlanPageOf)
	sc.Step(`^the OCR engine reads:$`, tc.theOCREngineReads)
	sc.Step(`^the OCR engine fails with "([^"]*)"$`, tc.theOCREngineFails)
	sc.Step(`^the OCR engine takes (\d+)ms per scan$`, tc.theOCREngineTakes)
	sc.Step(`^a BidX endpoint is available$`, tc.aBidXEndpointIsAvailable)
	sc.Step(`^scans from one client supersede each other$`, tc.scansSupersede)

	sc.Step(`^I scan the crop (\d+),(\d+),(\d+),(\d+)$`, tc.iScanTheCrop)
	sc.Step(`^I scan the crop (\d+),(\d+),(\d+),(\d+) as "([^"]*)"$`, tc.iScanTheCropAs)
	sc.Step(`^I scan the whole page rotated by (\d+) degrees$`, tc.iScanRotated)
	sc.Step(`^I export the records as CSV$`, tc.iExportTheRecordsAsCSV)
	sc.Step(`^I upload the records to BidX as project "([^"]*)"$`, tc.iUploadTheRecords)
	sc.Step(`^I request the recent files$`, tc.iRequestTheRecentFiles)
	sc.Step(`^I scan the crop (\d+),(\d+),(\d+),(\d+) over a WebSocket$`, tc.iScanOverWebSocket)
	sc.Step(`^I send two WebSocket scans back to back$`, tc.iSendTwoWebSocketScans)

	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response should contain (\d+) records?$`, tc.theResponseShouldContainRecords)
	sc.Step(`^record (\d+) should have code "([^"]*)", size "([^"]*)" and quantity "([^"]*)"$`, tc.recordShouldHave)
	sc.Step(`^every record should have a unique id$`, tc.everyRecordShouldHaveAUniqueID)
	sc.Step(`^the header "([^"]*)" should be "([^"]*)"$`, tc.theHeaderShouldBe)
	sc.Step(`^the header "([^"]*)" should contain "([^"]*)"$`, tc.theHeaderShouldContain)
	sc.Step(`^the response body should contain "([^"]*)"$`, tc.theResponseBodyShouldContain)
	sc.Step(`^the recent list should show "([^"]*)" with (\d+) signs?$`, tc.theRecentListShouldShow)
	sc.Step(`^the OCR engine should have received a (\d+)x(\d+) bitmap$`, tc.theEngineShouldHaveReceived)
	sc.Step(`^BidX should have received (\d+) signs? for project "([^"]*)"$`, tc.bidXShouldHaveReceived)
	sc.Step(`^the recent file "([^"]*)" should be marked uploaded$`, tc.theRecentFileShouldBeUploaded)
	sc.Step(`^the WebSocket statuses should be "([^"]*)"$`, tc.theWebSocketStatusesShouldBe)
	sc.Step(`^the last WebSocket message should carry (\d+) records?$`, tc.theLastWebSocketMessageShouldCarry)
	sc.Step(`^only the second WebSocket scan should complete$`, tc.onlyTheSecondScanShouldComplete)
}

// Given steps.

func (tc *TestContext) aPlanPageOf(width, height int) error {
	return tc.setPage(width, height)
}

func (tc *TestContext) theOCREngineReads(text *godog.DocString) error {
	tc.Script.Text = text.Content
	return nil
}

func (tc *TestContext) theOCREngineFails(message string) error {
	tc.Script.RecognizeErr = errors.New(message)
	return nil
}

func (tc *TestContext) theOCREngineTakes(ms int) error {
	tc.Script.Delay = time.Duration(ms) * time.Millisecond
	return nil
}

func (tc *TestContext) aBidXEndpointIsAvailable() error {
	if tc.Server != nil {
		return errors.New("the BidX endpoint must be set up before the first request")
	}
	tc.startUpstream()
	return nil
}

func (tc *TestContext) scansSupersede() error {
	tc.policy = pipeline.PolicySupersede
	return nil
}

// When steps.

func (tc *TestContext) iScanTheCrop(x, y, w, h int) error {
	return tc.iScanTheCropAs(x, y, w, h, "")
}

func (tc *TestContext) iScanTheCropAs(x, y, w, h int, format string) error {
	fields := map[string]string{
		"x":      strconv.Itoa(x),
		"y":      strconv.Itoa(y),
		"width":  strconv.Itoa(w),
		"height": strconv.Itoa(h),
	}
	if format != "" {
		fields["format"] = format
	}
	return tc.postScan(fields)
}

func (tc *TestContext) iScanRotated(rotation int) error {
	return tc.postScan(map[string]string{"rotation": strconv.Itoa(rotation)})
}

func (tc *TestContext) postScan(fields map[string]string) error {
	if err := tc.ensureServer(); err != nil {
		return err
	}
	if tc.Page == nil {
		return errors.New("no page image set up")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="plan.png"`)
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(tc.Page); err != nil {
		return err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.Server.URL+"/scan", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := tc.do(req); err != nil {
		return err
	}
	if tc.LastStatus == http.StatusOK && strings.HasPrefix(tc.LastHeaders.Get("Content-Type"), "application/json") {
		tc.LastRecords = nil
		if err := json.Unmarshal(tc.LastBody, &tc.LastRecords); err != nil {
			return fmt.Errorf("failed to decode records: %w", err)
		}
	}
	return nil
}

func (tc *TestContext) iExportTheRecordsAsCSV() error {
	if err := tc.ensureServer(); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{"signs": tc.LastRecords, "fileName": "legend.csv"})
	if err != nil {
		return err
	}
	return tc.postJSON("/export/csv", payload)
}

func (tc *TestContext) iUploadTheRecords(project string) error {
	if err := tc.ensureServer(); err != nil {
		return err
	}
	list, err := tc.recentStore.Load()
	if err != nil {
		return err
	}
	body := server.BidXUploadRequest{ProjectName: project, Signs: tc.LastRecords}
	if len(list) > 0 {
		body.RecentID = list[0].ID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tc.postJSON("/upload/bidx", payload)
}

func (tc *TestContext) iRequestTheRecentFiles() error {
	if err := tc.ensureServer(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.Server.URL+"/recent", nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) postJSON(path string, payload []byte) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.Server.URL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	tc.LastStatus = resp.StatusCode
	tc.LastHeaders = resp.Header
	tc.LastBody = buf.Bytes()
	return nil
}

func (tc *TestContext) dialWebSocket() (*websocket.Conn, error) {
	if err := tc.ensureServer(); err != nil {
		return nil, err
	}
	url := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return conn, nil
}

func (tc *TestContext) scanMessage(x, y, w, h int) server.WebSocketScanRequest {
	r := crop.Rect{X: x, Y: y, Width: w, Height: h}
	return server.WebSocketScanRequest{Type: "scan", Image: tc.Page, Source: "plan.png", Crop: &r}
}

// readUntil collects messages until done returns true or the deadline passes.
func (tc *TestContext) readUntil(conn *websocket.Conn, done func(server.WebSocketScanResponse) bool) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg server.WebSocketScanResponse
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WebSocket message: %w", err)
		}
		tc.WSMessages = append(tc.WSMessages, msg)
		if done(msg) {
			return nil
		}
	}
}

func (tc *TestContext) iScanOverWebSocket(x, y, w, h int) error {
	conn, err := tc.dialWebSocket()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(tc.scanMessage(x, y, w, h)); err != nil {
		return err
	}
	return tc.readUntil(conn, func(m server.WebSocketScanResponse) bool {
		return m.Status == "complete" || m.Status == "error"
	})
}

func (tc *TestContext) iSendTwoWebSocketScans() error {
	conn, err := tc.dialWebSocket()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(tc.scanMessage(0, 0, 200, 100)); err != nil {
		return err
	}
	// Wait until the first scan is running before superseding it.
	if err := tc.readUntil(conn, func(m server.WebSocketScanResponse) bool { return m.Status == "scanning" }); err != nil {
		return err
	}
	if err := conn.WriteJSON(tc.scanMessage(0, 0, 300, 150)); err != nil {
		return err
	}
	return tc.readUntil(conn, func(m server.WebSocketScanResponse) bool { return m.Status == "complete" })
}

// Then steps.

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	if tc.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseShouldContainRecords(n int) error {
	if len(tc.LastRecords) != n {
		return fmt.Errorf("expected %d records, got %d", n, len(tc.LastRecords))
	}
	return nil
}

func (tc *TestContext) recordShouldHave(i int, code, size, qty string) error {
	if i < 1 || i > len(tc.LastRecords) {
		return fmt.Errorf("no record %d (have %d)", i, len(tc.LastRecords))
	}
	r := tc.LastRecords[i-1]
	if r.Code != code || r.Size != size || r.Quantity != qty {
		return fmt.Errorf("record %d is %s/%s/%s, expected %s/%s/%s", i, r.Code, r.Size, r.Quantity, code, size, qty)
	}
	return nil
}

func (tc *TestContext) everyRecordShouldHaveAUniqueID() error {
	return uniqueIDs(tc.LastRecords)
}

func uniqueIDs(records []parser.SignRecord) error {
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d has no id", i+1)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

func (tc *TestContext) theHeaderShouldBe(name, value string) error {
	if got := tc.LastHeaders.Get(name); got != value {
		return fmt.Errorf("expected header %s %q, got %q", name, value, got)
	}
	return nil
}

func (tc *TestContext) theHeaderShouldContain(name, value string) error {
	if got := tc.LastHeaders.Get(name); !strings.Contains(got, value) {
		return fmt.Errorf("header %s %q does not contain %q", name, got, value)
	}
	return nil
}

func (tc *TestContext) theRecentListShouldShow(name string, count int) error {
	var body server.RecentResponse
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("failed to decode recent files: %w", err)
	}
	for _, f := range body.Files {
		if f.FileName == name {
			if f.SignCount != count {
				return fmt.Errorf("%s has %d signs, expected %d", name, f.SignCount, count)
			}
			return nil
		}
	}
	return fmt.Errorf("%s is not in the recent list", name)
}

func (tc *TestContext) theResponseBodyShouldContain(text string) error {
	if !bytes.Contains(tc.LastBody, []byte(text)) {
		return fmt.Errorf("response body does not contain %q: %s", text, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theEngineShouldHaveReceived(w, h int) error {
	gw, gh := tc.Script.LastSize()
	if gw != w || gh != h {
		return fmt.Errorf("expected a %dx%d bitmap, engine got %dx%d", w, h, gw, gh)
	}
	return nil
}

func (tc *TestContext) bidXShouldHaveReceived(n int, project string) error {
	tc.upstreamMu.Lock()
	defer tc.upstreamMu.Unlock()
	if len(tc.UpstreamCalls) == 0 {
		return errors.New("BidX received no upload")
	}
	var payload struct {
		ProjectName string `json:"project_name"`
		TotalCount  int    `json:"total_count"`
	}
	if err := json.Unmarshal(tc.UpstreamCalls[len(tc.UpstreamCalls)-1], &payload); err != nil {
		return err
	}
	if payload.ProjectName != project || payload.TotalCount != n {
		return fmt.Errorf("BidX got %d signs for %q", payload.TotalCount, payload.ProjectName)
	}
	return nil
}

func (tc *TestContext) theRecentFileShouldBeUploaded(name string) error {
	list, err := tc.recentStore.Load()
	if err != nil {
		return err
	}
	for _, f := range list {
		if f.FileName == name {
			if !f.UploadedToBidX {
				return fmt.Errorf("%s is not marked uploaded", name)
			}
			return nil
		}
	}
	return fmt.Errorf("%s is not in the recent list", name)
}

func (tc *TestContext) theWebSocketStatusesShouldBe(want string) error {
	got := make([]string, 0, len(tc.WSMessages))
	for _, m := range tc.WSMessages {
		got = append(got, m.Status)
	}
	if strings.Join(got, ", ") != want {
		return fmt.Errorf("expected statuses %q, got %q", want, strings.Join(got, ", "))
	}
	return nil
}

func (tc *TestContext) theLastWebSocketMessageShouldCarry(n int) error {
	if len(tc.WSMessages) == 0 {
		return errors.New("no WebSocket messages")
	}
	last := tc.WSMessages[len(tc.WSMessages)-1]
	if len(last.Records) != n {
		return fmt.Errorf("expected %d records, got %d (%s %s)", n, len(last.Records), last.Status, last.Error)
	}
	return uniqueIDs(last.Records)
}

func (tc *TestContext) onlyTheSecondScanShouldComplete() error {
	var first string
	completed := 0
	for _, m := range tc.WSMessages {
		if first == "" && m.ScanID != "" {
			first = m.ScanID
		}
		if m.Status == "complete" {
			completed++
			if m.ScanID == first {
				return errors.New("the superseded scan completed")
			}
		}
	}
	if completed != 1 {
		return fmt.Errorf("expected one completed scan, got %d", completed)
	}
	return nil
}
