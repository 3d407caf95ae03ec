package recent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// Store loads and saves the whole list.
type Store interface {
	Load() ([]RecentFile, error)
	Save(list []RecentFile) error
}

// FileStore persists the list as a YAML document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type document struct {
	Files []RecentFile `yaml:"files"`
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is recent.yaml in the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "signscan-recent.yaml"
	}
	return filepath.Join(dir, "signscan", "recent.yaml")
}

// Path returns the backing file name.
func (s *FileStore) Path() string { return s.path }

// Load reads the list. A missing file is an empty list.
func (s *FileStore) Load() ([]RecentFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() ([]RecentFile, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []RecentFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent files: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse recent files %s: %w", s.path, err)
	}
	if doc.Files == nil {
		doc.Files = []RecentFile{}
	}
	return doc.Files, nil
}

// Save replaces the stored list.
func (s *FileStore) Save(list []RecentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(list)
}

func (s *FileStore) save(list []RecentFile) error {
	if list == nil {
		list = []RecentFile{}
	}
	b, err := yaml.Marshal(document{Files: list})
	if err != nil {
		return fmt.Errorf("encode recent files: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create recent files dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write recent files: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Update applies fn to the stored list under the store lock.
func (s *FileStore) Update(fn func([]RecentFile) []RecentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return err
	}
	return s.save(fn(list))
}

// Sink records every completed scan in a Store.
type Sink struct {
	Store Store
	Max   int
	Now   func() time.Time
}

// Save implements pipeline.ResultSink. Results without a source are ignored.
func (k *Sink) Save(_ context.Context, res *pipeline.ScanResult) error {
	if res == nil || res.Source == "" {
		return nil
	}
	now := time.Now
	if k.Now != nil {
		now = k.Now
	}
	entry := NewEntry(filepath.Base(res.Source), res.Source, len(res.Records), now())

	if fs, ok := k.Store.(*FileStore); ok {
		return fs.Update(func(list []RecentFile) []RecentFile { return Record(list, entry, k.Max) })
	}
	list, err := k.Store.Load()
	if err != nil {
		return err
	}
	return k.Store.Save(Record(list, entry, k.Max))
}
