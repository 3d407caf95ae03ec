package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records() []parser.SignRecord {
	return []parser.SignRecord{
		{ID: "sign-1-0", Code: "M4-8", Size: "18 X 24", Description: "DO NOT ENTER", Quantity: "3"},
		{ID: "sign-1-1", Code: "R2-1", Size: "24 X 30", Description: "SPEED LIMIT, 45", Quantity: ""},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records()))
	assert.Equal(t,
		"id,code,size,description,quantity\n"+
			"sign-1-0,M4-8,18 X 24,DO NOT ENTER,3\n"+
			"sign-1-1,R2-1,24 X 30,\"SPEED LIMIT, 45\",\n",
		buf.String())
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "id,code,size,description,quantity\n", buf.String())
}

func TestWriteCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSVFile(path, records()))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "M4-8")
}

func TestDefaultCSVName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "mutcd-signs-1700000000123.csv", DefaultCSVName(now))
}

func TestPayload(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := Payload(UploadRequest{
		ProjectName: "plans.pdf",
		UploadDate:  date,
		Signs:       records(),
		Confidence:  map[string]float64{"sign-1-0": 0.9},
		Location:    map[string]crop.Rect{"sign-1-1": {X: 1, Y: 2, Width: 60, Height: 70}},
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "plans.pdf", got["project_name"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["upload_date"])
	assert.EqualValues(t, 2, got["total_count"])

	list := got["sign_list"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "M4-8", first["mutcd_code"])
	assert.Equal(t, "18 X 24", first["dimensions"])
	assert.EqualValues(t, 3, first["quantity"])
	assert.EqualValues(t, 0.9, first["confidence_score"])
	assert.Equal(t, true, first["is_primary"])
	assert.NotContains(t, first, "coordinates")

	second := list[1].(map[string]any)
	assert.EqualValues(t, 1, second["quantity"], "missing quantity counts once")
	assert.NotContains(t, second, "confidence_score")
	assert.Contains(t, second, "coordinates")
}

func TestBidXClient_Upload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","recordId":"BIDX-1","signsUploaded":2}`))
	}))
	defer srv.Close()

	c := NewBidXClient(srv.URL, "secret", time.Second)
	res, err := c.Upload(context.Background(), UploadRequest{ProjectName: "p", Signs: records()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "BIDX-1", res.RecordID)
	assert.Equal(t, 2, res.SignsUploaded)
	assert.Contains(t, string(body), `"project_name":"p"`)
}

func TestBidXClient_EmptyBodyIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewBidXClient(srv.URL, "", time.Second).Upload(context.Background(), UploadRequest{Signs: records()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SignsUploaded)
	assert.NotEmpty(t, res.Message)
}

func TestBidXClient_Errors(t *testing.T) {
	_, err := (&BidXClient{}).Upload(context.Background(), UploadRequest{})
	assert.ErrorIs(t, err, ErrBidXNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err = NewBidXClient(srv.URL, "wrong", time.Second).Upload(context.Background(), UploadRequest{Signs: records()})
	var upErr *UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.Contains(t, upErr.Error(), "bad key")
}
