package parser

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultHeaderKeywords mark table header and footer lines in MUTCD sign
// tabulations. A line containing any of them (case-insensitive) is skipped.
var DefaultHeaderKeywords = []string{
	"STD. NO.",
	"SIZE",
	"DESCRIPTION",
	"QUANTITY",
	"TABULATION",
	"INCLUDED",
	"CHANNEL",
	"TYPE",
}

// DefaultQuantityPattern matches a trailing quantity token.
var DefaultQuantityPattern = regexp.MustCompile(`^\d+$`)

// Schema describes the column layout of a sign tabulation row.
type Schema struct {
	Name           string
	HeaderKeywords []string
	// MinTokens is the fewest whitespace-separated tokens a row may have.
	MinTokens int
	// CodeTokens and SizeTokens are the leading column widths in tokens.
	CodeTokens int
	SizeTokens int
	// QuantityPattern matches a trailing quantity token; nil disables it.
	QuantityPattern *regexp.Regexp
	Clean           *CleanOptions
}

// DefaultSchema is the standard tabulation row: a code, a three-token size
// such as "24 X 18", a description and an optional trailing quantity.
func DefaultSchema() Schema {
	clean := DefaultCleanOptions()
	return Schema{
		Name:            "standard",
		HeaderKeywords:  append([]string(nil), DefaultHeaderKeywords...),
		MinTokens:       4,
		CodeTokens:      1,
		SizeTokens:      3,
		QuantityPattern: DefaultQuantityPattern,
		Clean:           &clean,
	}
}

// CompactSchema handles tables that print the size as one token ("36x36").
func CompactSchema() Schema {
	s := DefaultSchema()
	s.Name = "compact"
	s.MinTokens = 3
	s.SizeTokens = 1
	return s
}

var schemas = map[string]func() Schema{
	"standard": DefaultSchema,
	"compact":  CompactSchema,
}

// SchemaNames lists the built-in schema names.
func SchemaNames() []string {
	names := make([]string, 0, len(schemas))
	for n := range schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SchemaByName returns a built-in schema.
func SchemaByName(name string) (Schema, error) {
	if name == "" {
		return DefaultSchema(), nil
	}
	f, ok := schemas[strings.ToLower(name)]
	if !ok {
		return Schema{}, fmt.Errorf("unknown parser schema %q (must be one of: %s)", name, strings.Join(SchemaNames(), ", "))
	}
	return f(), nil
}

// Validate checks the column layout is consistent.
func (s Schema) Validate() error {
	if s.CodeTokens < 1 {
		return errors.New("schema code tokens must be at least 1")
	}
	if s.SizeTokens < 1 {
		return errors.New("schema size tokens must be at least 1")
	}
	if s.MinTokens < s.CodeTokens+s.SizeTokens {
		return fmt.Errorf("schema min tokens %d is less than code+size tokens %d",
			s.MinTokens, s.CodeTokens+s.SizeTokens)
	}
	return nil
}

// WithHeaderKeywords returns a copy of s using keywords.
func (s Schema) WithHeaderKeywords(keywords []string) Schema {
	s.HeaderKeywords = append([]string(nil), keywords...)
	return s
}

// WithQuantityPattern returns a copy of s that matches quantities with expr.
func (s Schema) WithQuantityPattern(expr string) (Schema, error) {
	if expr == "" {
		s.QuantityPattern = nil
		return s, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return s, fmt.Errorf("invalid quantity pattern: %w", err)
	}
	s.QuantityPattern = re
	return s, nil
}

func (s Schema) isHeader(line string) bool {
	upper := strings.ToUpper(line)
	for _, kw := range s.HeaderKeywords {
		if kw != "" && strings.Contains(upper, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}
