// Package pdf pulls page rasters out of scanned plan PDFs. Plan sheets are
// scanned, so each page carries its drawing as an embedded image; that image
// is the page surface a crop is drawn on.
package pdf

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/signscan/internal/surface"
)

var (
	// ErrNoPageImage is returned when a page carries no embedded raster.
	ErrNoPageImage = errors.New("page has no embedded image")
	// ErrEncrypted is returned for password-protected files opened without a password.
	ErrEncrypted = errors.New("pdf is password protected")
)

// Options carries optional credentials for encrypted files.
type Options struct {
	UserPassword  string
	OwnerPassword string
}

func (o Options) configuration() *model.Configuration {
	if o.UserPassword == "" && o.OwnerPassword == "" {
		return nil
	}
	conf := model.NewDefaultConfiguration()
	conf.UserPW = o.UserPassword
	conf.OwnerPW = o.OwnerPassword
	return conf
}

// PageCount returns the number of pages in filename.
func PageCount(filename string) (int, error) {
	n, err := api.PageCountFile(filename)
	if err != nil {
		return 0, wrap("count pages", err)
	}
	return n, nil
}

// ExtractPageImages extracts the embedded images of the pages in pageRange
// ("" means all pages), grouped by page number.
func ExtractPageImages(filename, pageRange string, opts Options) (map[int][]image.Image, error) {
	pages, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "signscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(filename, tempDir, pageStrings(pages), opts.configuration()); err != nil {
		return nil, wrap("extract images", err)
	}

	result, err := collectExtractedImages(tempDir, stem(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	return result, nil
}

// LargestPageImage returns the largest raster on page, which on a scanned
// sheet is the sheet itself.
func LargestPageImage(filename string, page int, opts Options) (image.Image, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page number %d", page)
	}
	images, err := ExtractPageImages(filename, strconv.Itoa(page), opts)
	if err != nil {
		return nil, err
	}
	img := largest(images[page])
	if img == nil {
		return nil, fmt.Errorf("page %d: %w", page, ErrNoPageImage)
	}
	return img, nil
}

// LargestPageImageBytes is LargestPageImage for an in-memory document.
func LargestPageImageBytes(data []byte, page int, opts Options) (image.Image, error) {
	f, err := os.CreateTemp("", "signscan-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return LargestPageImage(f.Name(), page, opts)
}

// WritePageImages extracts the page images of pageRange into outDir and
// returns the written file names, sorted.
func WritePageImages(filename, pageRange, outDir string, opts Options) ([]string, error) {
	pages, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := api.ExtractImagesFile(filename, outDir, pageStrings(pages), opts.configuration()); err != nil {
		return nil, wrap("extract images", err)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	var files []string
	prefix := stem(filename)
	for _, e := range entries {
		if e.IsDir() || !surface.IsSupported(e.Name()) {
			continue
		}
		if _, err := parsePageFromFilename(e.Name(), prefix); err == nil {
			files = append(files, filepath.Join(outDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsPasswordError reports whether err stems from missing or wrong credentials.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEncrypted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"password", "encrypted", "decrypt"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func wrap(op string, err error) error {
	if IsPasswordError(err) {
		return fmt.Errorf("failed to %s: %w: %v", op, ErrEncrypted, err)
	}
	return fmt.Errorf("failed to %s from PDF: %w", op, err)
}

func pageStrings(pages []int) []string {
	if len(pages) == 0 {
		return nil
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}

func largest(images []image.Image) image.Image {
	var best image.Image
	bestArea := 0
	for _, img := range images {
		if img == nil {
			continue
		}
		b := img.Bounds()
		if a := b.Dx() * b.Dy(); a > bestArea {
			best, bestArea = img, a
		}
	}
	return best
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// collectExtractedImages loads the images in dir and groups them by page.
// Unreadable files and names that carry no page number are skipped.
func collectExtractedImages(dir, prefix string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		page, err := parsePageFromFilename(d.Name(), prefix)
		if err != nil {
			return nil
		}
		img, _, err := surface.Load(path)
		if err != nil {
			return nil
		}
		result[page] = append(result[page], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parsePageFromFilename reads the page number from an extracted image name.
// pdfcpu writes "<stem>_<page>_<name>.<ext>"; "page_<page>_..." is accepted too.
func parsePageFromFilename(filename, prefix string) (int, error) {
	var rest string
	switch {
	case prefix != "" && strings.HasPrefix(filename, prefix+"_"):
		rest = strings.TrimPrefix(filename, prefix+"_")
	case strings.HasPrefix(filename, "page_"):
		rest = strings.TrimPrefix(filename, "page_")
	default:
		return 0, errors.New("not a page image")
	}

	num, _, _ := strings.Cut(rest, "_")
	num = strings.TrimSuffix(num, filepath.Ext(num))
	page, err := strconv.Atoi(num)
	if err != nil || page < 0 {
		return 0, errors.New("invalid page number")
	}
	return page, nil
}

// ParsePageRange parses "1-5" or "1,3,5" style ranges. An empty range means
// all pages and yields nil. Duplicate pages are kept once, in first-seen order.
func ParsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		for _, p := range tokenPages {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	return pages, nil
}

// parseRangeToken parses a single page ("3") or an inclusive range ("1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := parsePage(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", bounds[0])
		}
		end, err := parsePage(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", bounds[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := parsePage(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}

func parsePage(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("page numbers start at 1")
	}
	return n, nil
}
