package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/parser"
)

// Output formats accepted by Format.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

// ToJSON serializes a whole ScanResult to pretty JSON.
func ToJSON(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONRecords serializes only the records, the shape the HTTP API returns.
func ToJSONRecords(records []parser.SignRecord) (string, error) {
	if records == nil {
		records = []parser.SignRecord{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToCSV exports the records with the standard CSV header.
func ToCSV(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, res.Records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ToPlainText renders the records as an aligned table.
func ToPlainText(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	if len(res.Records) == 0 {
		return "No signs detected.\n", nil
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tSIZE\tQTY\tDESCRIPTION")
	for _, r := range res.Records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Code, r.Size, r.Quantity, r.Description)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Format renders res in the named format.
func Format(res *ScanResult, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return ToJSON(res)
	case FormatCSV:
		return ToCSV(res)
	case FormatText:
		return ToPlainText(res)
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// ValidateScanResult checks the record invariants of a result: ids are
// present and unique, and every record carries a code.
func ValidateScanResult(res *ScanResult) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.Records == nil {
		return errors.New("records must not be nil")
	}
	seen := make(map[string]int, len(res.Records))
	for i, r := range res.Records {
		if r.ID == "" {
			return fmt.Errorf("record %d: empty id", i)
		}
		if j, dup := seen[r.ID]; dup {
			return fmt.Errorf("record %d: id %q already used by record %d", i, r.ID, j)
		}
		seen[r.ID] = i
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("record %d: empty code", i)
		}
	}
	return nil
}
