// Package parser turns OCR text from a sign tabulation into sign records.
//
// Lines that cannot be read as a row are skipped silently; the parser never
// fails. Skip counts are available through ParseWithStats for diagnostics.
package parser

import (
	"strings"
	"time"
)

// SignRecord is one row of a sign legend table.
type SignRecord struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Size        string `json:"size"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
}

// Complete reports whether the record carries a code, a size and a description.
func (r SignRecord) Complete() bool {
	return r.Code != "" && r.Size != "" && r.Description != ""
}

// Stats counts how the lines of one input were handled.
type Stats struct {
	Lines      int `json:"lines"`
	Headers    int `json:"headers"`
	TooShort   int `json:"too_short"`
	Incomplete int `json:"incomplete"`
	Records    int `json:"records"`
}

// Skipped returns the number of non-blank lines that produced no record.
func (s Stats) Skipped() int { return s.Headers + s.TooShort + s.Incomplete }

// Parser reads rows according to a Schema.
type Parser struct {
	schema Schema
	now    func() time.Time
	ids    func(time.Time) IDGenerator
}

// Option customizes a Parser.
type Option func(*Parser)

// WithClock overrides the time source used for record ids.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithIDs overrides the per-batch id generator.
func WithIDs(f func(time.Time) IDGenerator) Option {
	return func(p *Parser) { p.ids = f }
}

// New returns a parser for schema. An invalid schema falls back to DefaultSchema.
func New(schema Schema, opts ...Option) *Parser {
	if schema.Validate() != nil {
		schema = DefaultSchema()
	}
	p := &Parser{
		schema: schema,
		now:    time.Now,
		ids:    func(t time.Time) IDGenerator { return NewBatchIDs(t) },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Schema returns the schema in use.
func (p *Parser) Schema() Schema { return p.schema }

// Parse extracts records from raw OCR text.
func (p *Parser) Parse(raw string) []SignRecord {
	records, _ := p.ParseWithStats(raw)
	return records
}

// ParseWithStats extracts records and reports what happened to each line.
func (p *Parser) ParseWithStats(raw string) ([]SignRecord, Stats) {
	var stats Stats
	if p.schema.Clean != nil {
		raw = Clean(raw, *p.schema.Clean)
	}

	ids := p.ids(p.now())
	records := []SignRecord{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stats.Lines++

		if p.schema.isHeader(line) {
			stats.Headers++
			continue
		}

		rec, ok := p.parseRow(strings.Fields(line))
		switch {
		case ok:
			rec.ID = ids.Next()
			records = append(records, rec)
			stats.Records++
		case len(strings.Fields(line)) < p.schema.MinTokens:
			stats.TooShort++
		default:
			stats.Incomplete++
		}
	}
	return records, stats
}

func (p *Parser) parseRow(tokens []string) (SignRecord, bool) {
	s := p.schema
	if len(tokens) < s.MinTokens {
		return SignRecord{}, false
	}

	head := s.CodeTokens + s.SizeTokens
	rec := SignRecord{
		Code: strings.Join(tokens[:s.CodeTokens], " "),
		Size: strings.Join(tokens[s.CodeTokens:head], " "),
	}

	rest := tokens[head:]
	if n := len(rest); n > 0 && s.QuantityPattern != nil && s.QuantityPattern.MatchString(rest[n-1]) {
		rec.Quantity = rest[n-1]
		rest = rest[:n-1]
	}
	rec.Description = strings.Join(rest, " ")

	return rec, rec.Complete()
}

// Parse extracts records from raw with the default schema.
func Parse(raw string) []SignRecord {
	return New(DefaultSchema()).Parse(raw)
}
