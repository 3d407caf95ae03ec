package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/signscan/internal/surface"
)

// Discovery selects the files a batch scans.
type Discovery struct {
	Recursive bool
	// Include and Exclude are filepath.Match patterns on the base name.
	// Exclude wins; an empty Include accepts every supported file.
	Include []string
	Exclude []string
}

// IsScannable reports whether path is a page image or a PDF.
func IsScannable(path string) bool {
	return surface.IsSupported(path) || isPDF(path)
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Discover expands args into scannable files. Directories are walked, one
// level unless Recursive is set. Explicit file arguments are kept even when
// their extension is unknown so the scan reports the error.
func (d Discovery) Discover(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !matchesAny(arg, d.Exclude) {
				files = append(files, arg)
			}
			continue
		}
		found, err := d.walk(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func (d Discovery) walk(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if !d.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if IsScannable(path) && d.include(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (d Discovery) include(path string) bool {
	if matchesAny(path, d.Exclude) {
		return false
	}
	return len(d.Include) == 0 || matchesAny(path, d.Include)
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
