package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/parser"
)

// uploadCmd represents the upload command.
var uploadCmd = &cobra.Command{
	Use:   "upload <records.json>",
	Short: "Upload a sign list to BidX",
	Long: `Upload sign records, as printed by "signscan scan --format json", to the
configured BidX endpoint (bidx.api_url, or BIDX_API_URL and BIDX_API_KEY).

Examples:
  signscan scan plan.png --format json --output signs.json
  signscan upload signs.json --project "Main St resurfacing"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}
		records, err := decodeRecords(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		date := time.Now()
		if s, _ := cmd.Flags().GetString("date"); s != "" {
			if date, err = time.Parse(time.RFC3339, s); err != nil {
				return fmt.Errorf("invalid date %q: %w", s, err)
			}
		}

		return uploadRecords(cmd.Context(), cmd, GetConfig(), export.UploadRequest{
			ProjectName: project,
			UploadDate:  date,
			Signs:       records,
		})
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("project", "", "project name (default is the file name)")
	uploadCmd.Flags().String("date", "", "upload date in RFC 3339 (default now)")
}

// decodeRecords accepts a bare record array, a scan result with "records"
// or an export body with "signs".
func decodeRecords(data []byte) ([]parser.SignRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []parser.SignRecord
		err := json.Unmarshal(data, &records)
		return records, err
	}
	var doc struct {
		Records []parser.SignRecord `json:"records"`
		Signs   []parser.SignRecord `json:"signs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Records != nil {
		return doc.Records, nil
	}
	return doc.Signs, nil
}
