// Package mock provides a scripted OCR engine for tests and offline demos.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/preprocess"
)

// Engine returns canned text. All engines built by one Script share its
// counters so tests can check acquire and release balance.
type Engine struct {
	script *Script
	closed bool
}

// Script controls the behaviour of engines produced by its Factory.
type Script struct {
	Text         string
	RecognizeErr error
	ConfigureErr error
	FactoryErr   error
	PanicWith    any
	// Delay blocks Recognize until it elapses or the context is done.
	Delay time.Duration

	mu          sync.Mutex
	created     int
	closed      int
	recognized  int
	lastOptions ocr.Options
	lastSize    [2]int
	lastBitmap  *preprocess.Bitmap
}

// NewScript returns a script whose engines always read text.
func NewScript(text string) *Script { return &Script{Text: text} }

// Factory returns an ocr.Factory bound to this script.
func (s *Script) Factory() ocr.Factory {
	return func() (ocr.Engine, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.FactoryErr != nil {
			return nil, s.FactoryErr
		}
		s.created++
		return &Engine{script: s}, nil
	}
}

// Created returns the number of engines acquired.
func (s *Script) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Closed returns the number of engines released.
func (s *Script) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Recognized returns the number of completed Recognize calls.
func (s *Script) Recognized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recognized
}

// LastOptions returns the options of the most recent Configure call.
func (s *Script) LastOptions() ocr.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOptions
}

// LastSize returns the width and height of the most recent bitmap.
func (s *Script) LastSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSize[0], s.lastSize[1]
}

// LastBitmap returns the most recent bitmap handed to Recognize.
func (s *Script) LastBitmap() *preprocess.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBitmap
}

func (e *Engine) Configure(opts ocr.Options) error {
	e.script.mu.Lock()
	defer e.script.mu.Unlock()
	e.script.lastOptions = opts
	return e.script.ConfigureErr
}

func (e *Engine) Recognize(ctx context.Context, bmp *preprocess.Bitmap) (string, error) {
	s := e.script
	s.mu.Lock()
	s.lastSize = [2]int{bmp.Width(), bmp.Height()}
	s.lastBitmap = bmp
	delay, p := s.Delay, s.PanicWith
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p != nil {
		panic(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognized++
	if s.RecognizeErr != nil {
		return "", s.RecognizeErr
	}
	return s.Text, nil
}

func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.script.mu.Lock()
	defer e.script.mu.Unlock()
	e.script.closed++
	return nil
}
