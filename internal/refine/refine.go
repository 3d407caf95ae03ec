// Package refine sends parsed sign records to a language model for
// correction. Refinement is best-effort: any failure returns the input.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/signscan/internal/parser"
)

// Default refinement settings.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.1
	DefaultTimeout     = 60 * time.Second
)

// ErrEmptyResponse is returned when the model produced no usable records.
var ErrEmptyResponse = errors.New("refinement returned no records")

// Error describes a failed refinement. The records it was given remain valid.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("refinement error in %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Refiner corrects sign records. Implementations always return a usable
// list; a non-nil error means the list is the unrefined input.
type Refiner interface {
	Refine(ctx context.Context, records []parser.SignRecord) ([]parser.SignRecord, error)
}

// Completer sends one system and user message pair to a model and returns
// the raw text of its reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Noop returns records unchanged.
type Noop struct{}

func (Noop) Refine(_ context.Context, records []parser.SignRecord) ([]parser.SignRecord, error) {
	return records, nil
}

// Options configures a Stage.
type Options struct {
	Timeout      time.Duration
	SystemPrompt string
	Logger       *slog.Logger
}

// Stage is the fail-open refiner built on a Completer.
type Stage struct {
	completer Completer
	timeout   time.Duration
	system    string
	logger    *slog.Logger
}

// NewStage creates a refinement stage.
func NewStage(c Completer, opts Options) *Stage {
	s := &Stage{completer: c, timeout: opts.Timeout, system: opts.SystemPrompt, logger: opts.Logger}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.system == "" {
		s.system = SystemPrompt
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Refine sends records to the model. On any failure it returns the input
// records together with a *Error.
func (s *Stage) Refine(ctx context.Context, records []parser.SignRecord) ([]parser.SignRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	if s.completer == nil {
		return records, &Error{Op: "complete", Err: errors.New("no completer configured")}
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return records, &Error{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.completer.Complete(ctx, s.system, userPrompt(payload))
	if err != nil {
		return records, &Error{Op: "complete", Err: err}
	}

	refined, err := Decode(reply)
	if err != nil {
		return records, &Error{Op: "decode", Err: err}
	}
	refined = reconcile(records, refined)
	if len(refined) == 0 {
		return records, &Error{Op: "decode", Err: ErrEmptyResponse}
	}

	s.logger.Debug("Refinement completed",
		"input_records", len(records), "output_records", len(refined), "duration", time.Since(start))
	return refined, nil
}

// record accepts the loosely typed JSON models tend to produce.
type record struct {
	ID          flexString `json:"id"`
	Code        flexString `json:"code"`
	Size        flexString `json:"size"`
	Description flexString `json:"description"`
	Quantity    flexString `json:"quantity"`
}

// flexString decodes JSON strings, numbers and null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", s)
	}
	*f = flexString(n.String())
	return nil
}

// Decode extracts the JSON array of records from a model reply, removing
// Markdown code fences and any prose around the array.
func Decode(reply string) ([]parser.SignRecord, error) {
	body := StripCodeFences(reply)
	if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var raw []record
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("bad JSON: %w", err)
	}
	out := make([]parser.SignRecord, 0, len(raw))
	for _, r := range raw {
		out = append(out, parser.SignRecord{
			ID:          strings.TrimSpace(string(r.ID)),
			Code:        strings.TrimSpace(string(r.Code)),
			Size:        strings.TrimSpace(string(r.Size)),
			Description: strings.TrimSpace(string(r.Description)),
			Quantity:    strings.TrimSpace(string(r.Quantity)),
		})
	}
	return out, nil
}

// StripCodeFences removes a surrounding ``` or ```json fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// reconcile keeps ids stable: records the model returned without an id
// inherit the id at the same position when the count is unchanged, and any
// still-missing or unknown ids are regenerated. Records without a code are dropped.
func reconcile(in, out []parser.SignRecord) []parser.SignRecord {
	known := make(map[string]bool, len(in))
	for _, r := range in {
		known[r.ID] = true
	}
	sameShape := len(in) == len(out)

	var ids *parser.BatchIDs
	used := map[string]bool{}
	kept := make([]parser.SignRecord, 0, len(out))
	for i, r := range out {
		if r.Code == "" {
			continue
		}
		if !known[r.ID] || used[r.ID] {
			r.ID = ""
		}
		if r.ID == "" && sameShape && !used[in[i].ID] {
			r.ID = in[i].ID
		}
		if r.ID == "" {
			if ids == nil {
				ids = parser.NewBatchIDs(time.Now())
			}
			for r.ID == "" || known[r.ID] || used[r.ID] {
				r.ID = ids.Next()
			}
		}
		used[r.ID] = true
		kept = append(kept, r)
	}
	return kept
}
