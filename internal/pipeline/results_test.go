package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *ScanResult {
	return &ScanResult{
		ID: "scan-1-0",
		Records: []parser.SignRecord{
			{ID: "sign-1-0", Code: "M4-8", Size: "18 X 24", Description: "DO NOT ENTER", Quantity: "3"},
			{ID: "sign-1-1", Code: "R2-1", Size: "24 X 30", Description: "SPEED LIMIT"},
		},
	}
}

func TestToJSON(t *testing.T) {
	s, err := ToJSON(sampleResult())
	require.NoError(t, err)
	var back ScanResult
	require.NoError(t, json.Unmarshal([]byte(s), &back))
	assert.Equal(t, sampleResult().Records, back.Records)

	_, err = ToJSON(nil)
	assert.Error(t, err)
}

func TestToJSONRecords(t *testing.T) {
	s, err := ToJSONRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	s, err = ToJSONRecords(sampleResult().Records)
	require.NoError(t, err)
	assert.Contains(t, s, `"code": "M4-8"`)
}

func TestToCSVAndPlainText(t *testing.T) {
	csv, err := ToCSV(sampleResult())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,code,size,description,quantity", lines[0])

	txt, err := ToPlainText(sampleResult())
	require.NoError(t, err)
	assert.Contains(t, txt, "CODE")
	assert.Contains(t, txt, "DO NOT ENTER")

	txt, err = ToPlainText(&ScanResult{Records: []parser.SignRecord{}})
	require.NoError(t, err)
	assert.Equal(t, "No signs detected.\n", txt)
}

func TestFormat(t *testing.T) {
	for _, f := range []string{"", FormatJSON, FormatCSV, FormatText, "CSV"} {
		_, err := Format(sampleResult(), f)
		assert.NoError(t, err, f)
	}
	_, err := Format(sampleResult(), "xml")
	assert.Error(t, err)
}

func TestValidateScanResult(t *testing.T) {
	require.NoError(t, ValidateScanResult(sampleResult()))

	dup := sampleResult()
	dup.Records[1].ID = dup.Records[0].ID
	assert.Error(t, ValidateScanResult(dup))

	noCode := sampleResult()
	noCode.Records[0].Code = " "
	assert.Error(t, ValidateScanResult(noCode))

	assert.Error(t, ValidateScanResult(&ScanResult{}))
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleProgressCallback(&buf)
	c.OnStart("s")
	c.OnStage("s", StageScanning)
	c.OnStage("s", StageAnalyzing)
	c.OnWarning("s", "refinement failed")
	c.OnComplete("s", sampleResult())
	c.OnError("s", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Scanning crop...")
	assert.Contains(t, out, "Analyzing...")
	assert.Contains(t, out, "Warning: refinement failed")
	assert.Contains(t, out, "Analysis complete! 2 sign(s)")
	assert.Contains(t, out, "Scan failed: boom")
}

func TestLogAndMultiProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := &recorder{}
	m := NewMultiProgressCallback(NewLogProgressCallback(logger, slog.LevelInfo), nil, rec)

	m.OnStart("s")
	m.OnStage("s", StageScanning)
	m.OnComplete("s", sampleResult())

	assert.Equal(t, []string{"start", "scanning", "done"}, rec.Events())
	assert.Contains(t, buf.String(), "Scan completed")
	assert.Contains(t, buf.String(), "records=2")

	var noop NoOpProgressCallback
	noop.OnError("s", nil)
}
