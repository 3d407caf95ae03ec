// Package recent keeps the list of recently processed plan files.
package recent

import (
	"strconv"
	"strings"
	"time"
)

// MaxEntries is the default length of the recent-files list.
const MaxEntries = 12

// DetectionStatus summarizes the last scan of a file.
type DetectionStatus string

const (
	StatusNotStarted   DetectionStatus = "not-started"
	StatusSuccessful   DetectionStatus = "successful"
	StatusUnsuccessful DetectionStatus = "unsuccessful"
)

// RecentFile is one entry of the list.
type RecentFile struct {
	ID              string          `json:"id" yaml:"id"`
	FileName        string          `json:"fileName" yaml:"file_name"`
	Path            string          `json:"path,omitempty" yaml:"path,omitempty"`
	SignCount       int             `json:"signCount" yaml:"sign_count"`
	ProcessedAt     time.Time       `json:"processedAt" yaml:"processed_at"`
	UploadedToBidX  bool            `json:"uploadedToBidX" yaml:"uploaded_to_bidx"`
	DetectionStatus DetectionStatus `json:"detectionStatus" yaml:"detection_status"`
}

// NewEntry describes a file just scanned at now.
func NewEntry(fileName, path string, signCount int, now time.Time) RecentFile {
	status := StatusUnsuccessful
	if signCount > 0 {
		status = StatusSuccessful
	}
	return RecentFile{
		ID:              strconv.FormatInt(now.UnixMilli(), 10),
		FileName:        fileName,
		Path:            path,
		SignCount:       signCount,
		ProcessedAt:     now,
		DetectionStatus: status,
	}
}

// Record returns list with entry added. An entry with the same file name is
// replaced in place, otherwise entry goes first. The result holds at most limit
// entries (MaxEntries when limit is not positive). list is not modified.
func Record(list []RecentFile, entry RecentFile, limit int) []RecentFile {
	if limit <= 0 {
		limit = MaxEntries
	}
	out := make([]RecentFile, 0, len(list)+1)
	replaced := false
	for _, f := range list {
		if !replaced && f.FileName == entry.FileName {
			out = append(out, entry)
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append([]RecentFile{entry}, out...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkUploaded flags the entry with id as uploaded to BidX.
func MarkUploaded(list []RecentFile, id string) ([]RecentFile, bool) {
	return update(list, id, func(f *RecentFile) { f.UploadedToBidX = true })
}

// Rename changes the display name of the entry with id. Blank names are rejected.
func Rename(list []RecentFile, id, name string) ([]RecentFile, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return list, false
	}
	return update(list, id, func(f *RecentFile) { f.FileName = name })
}

// Remove drops the entry with id.
func Remove(list []RecentFile, id string) ([]RecentFile, bool) {
	out := make([]RecentFile, 0, len(list))
	found := false
	for _, f := range list {
		if f.ID == id {
			found = true
			continue
		}
		out = append(out, f)
	}
	return out, found
}

// Find returns the entry with id.
func Find(list []RecentFile, id string) (RecentFile, bool) {
	for _, f := range list {
		if f.ID == id {
			return f, true
		}
	}
	return RecentFile{}, false
}

func update(list []RecentFile, id string, fn func(*RecentFile)) ([]RecentFile, bool) {
	out := append([]RecentFile(nil), list...)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
			return out, true
		}
	}
	return out, false
}
