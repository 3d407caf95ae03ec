package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrScanInFlight is returned by a rejecting Session while a scan runs.
	ErrScanInFlight = errors.New("a scan is already in progress")
	// ErrScanSuperseded is returned to a scan replaced by a newer one.
	ErrScanSuperseded = errors.New("scan superseded by a newer request")
)

// InFlightPolicy decides what a Session does with a scan requested while
// another is still running.
type InFlightPolicy int

const (
	// PolicyReject refuses the new scan.
	PolicyReject InFlightPolicy = iota
	// PolicySupersede cancels the running scan and starts the new one.
	PolicySupersede
)

func (p InFlightPolicy) String() string {
	if p == PolicySupersede {
		return "supersede"
	}
	return "reject"
}

// ParseInFlightPolicy parses "reject" or "supersede".
func ParseInFlightPolicy(s string) (InFlightPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return PolicyReject, nil
	case "supersede":
		return PolicySupersede, nil
	default:
		return PolicyReject, fmt.Errorf("unknown in-flight policy %q (want reject or supersede)", s)
	}
}

// Session serializes scans for one user so at most one is in flight.
type Session struct {
	pipeline *Pipeline
	policy   InFlightPolicy

	mu     sync.Mutex
	gen    uint64
	active bool
	cancel context.CancelFunc
}

// NewSession creates a session over p.
func NewSession(p *Pipeline, policy InFlightPolicy) *Session {
	return &Session{pipeline: p, policy: policy}
}

// InFlight reports whether a scan is running.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Policy returns the session policy.
func (s *Session) Policy() InFlightPolicy { return s.policy }

// Cancel stops the running scan, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// RunScan runs req unless the policy rejects it. A superseded scan returns
// ErrScanSuperseded and its late progress notifications are dropped.
func (s *Session) RunScan(ctx context.Context, req ScanRequest, cb ProgressCallback) (*ScanResult, error) {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}

	s.mu.Lock()
	if s.active {
		if s.policy == PolicyReject {
			s.mu.Unlock()
			return nil, ErrScanInFlight
		}
		s.cancel()
	}
	s.gen++
	mine := s.gen
	scanCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	current := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == mine
	}
	scanCtx = context.WithValue(scanCtx, commitKey{}, s.commit(mine))

	res, err := s.pipeline.RunScan(scanCtx, req, gatedCallback{wrapped: cb, open: current})

	s.mu.Lock()
	superseded := s.gen != mine
	if !superseded {
		s.active = false
		s.cancel = nil
	}
	s.mu.Unlock()

	if superseded {
		return nil, ErrScanSuperseded
	}
	return res, err
}

// commit returns a gate that persists a result only while generation gen is
// still the session's current scan. The session lock is held during save, so a
// newer scan cannot take over halfway through.
func (s *Session) commit(gen uint64) commitFunc {
	return func(save func()) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return false
		}
		save()
		return true
	}
}

type commitKey struct{}

// commitFunc runs save and reports true, or reports false without running it
// when the result must not be kept.
type commitFunc func(save func()) bool

// commitResult runs save through the gate stored in ctx, if any.
func commitResult(ctx context.Context, save func()) bool {
	if gate, ok := ctx.Value(commitKey{}).(commitFunc); ok {
		return gate(save)
	}
	save()
	return true
}
