// Package export writes sign lists to CSV and uploads them to BidX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/signscan/internal/parser"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"id", "code", "size", "description", "quantity"}

// WriteCSV writes records with CSVHeader. Fields are quoted as needed.
func WriteCSV(w io.Writer, records []parser.SignRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.ID, r.Code, r.Size, r.Description, r.Quantity}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes records to path, replacing any existing file.
func WriteCSVFile(path string, records []parser.SignRecord) error {
	f, err := os.Create(path) //nolint:gosec // path chosen by the user
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// DefaultCSVName is the download name of an export created at now.
func DefaultCSVName(now time.Time) string {
	return fmt.Sprintf("mutcd-signs-%d.csv", now.UnixMilli())
}
