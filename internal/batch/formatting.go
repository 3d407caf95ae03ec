package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
)

type fileJSON struct {
	File      string              `json:"file"`
	ScanID    string              `json:"scan_id,omitempty"`
	OCRStatus string              `json:"ocr_status,omitempty"`
	Refined   bool                `json:"refined"`
	Records   []parser.SignRecord `json:"records"`
	Error     string              `json:"error,omitempty"`
}

type batchJSON struct {
	Files      []fileJSON `json:"files"`
	Total      int        `json:"total_files"`
	Failed     int        `json:"failed_files"`
	Signs      int        `json:"total_signs"`
	DurationMS int64      `json:"duration_ms"`
}

// Format renders the batch as json, csv or text.
func (r *Result) Format(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", pipeline.FormatJSON:
		return r.formatJSON()
	case pipeline.FormatCSV:
		return r.formatCSV()
	case pipeline.FormatText:
		return r.formatText()
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

func (r *Result) formatJSON() (string, error) {
	out := batchJSON{
		Files:      make([]fileJSON, len(r.Items)),
		Total:      len(r.Items),
		Failed:     r.Failed(),
		Signs:      r.Signs(),
		DurationMS: r.Duration.Milliseconds(),
	}
	for i, it := range r.Items {
		f := fileJSON{File: it.File, Records: []parser.SignRecord{}}
		if it.Err != nil {
			f.Error = it.Err.Error()
		}
		if it.Result != nil {
			f.ScanID = it.Result.ID
			f.OCRStatus = string(it.Result.OCRStatus)
			f.Refined = it.Result.Refined
			f.Records = it.Result.Records
		}
		out.Files[i] = f
	}
	b, err := json.MarshalIndent(out, "", "  ")
	return string(b), err
}

// formatCSV writes one row per record, prefixed by its file.
func (r *Result) formatCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"file", "id", "code", "size", "description", "quantity"})
	for _, it := range r.Items {
		if it.Result == nil {
			continue
		}
		for _, rec := range it.Result.Records {
			_ = w.Write([]string{it.File, rec.ID, rec.Code, rec.Size, rec.Description, rec.Quantity})
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func (r *Result) formatText() (string, error) {
	var buf bytes.Buffer
	for _, it := range r.Items {
		switch {
		case it.Err != nil:
			_, _ = fmt.Fprintf(&buf, "%s: error: %v\n\n", it.File, it.Err)
			continue
		case len(it.Result.Records) == 0:
			_, _ = fmt.Fprintf(&buf, "%s: no signs detected (ocr %s)\n\n", it.File, it.Result.OCRStatus)
			continue
		}
		_, _ = fmt.Fprintf(&buf, "%s: %d sign(s)\n", it.File, len(it.Result.Records))
		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		for _, rec := range it.Result.Records {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.Code, rec.Size, rec.Quantity, rec.Description)
		}
		if err := tw.Flush(); err != nil {
			return "", err
		}
		buf.WriteByte('\n')
	}
	_, _ = fmt.Fprintf(&buf, "%d file(s), %d failed, %d sign(s) in %v\n",
		len(r.Items), r.Failed(), r.Signs(), r.Duration.Round(time.Millisecond))
	return buf.String(), nil
}
