package parser

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanOptions controls the text cleanup applied to OCR output before lines
// are split into tokens. Line breaks are always preserved.
type CleanOptions struct {
	NormalizeForm      string            // "NFKC" (default), "NFC", "NFD", "NFKD", "none"
	RemoveControlChars bool              // drop non-printable characters except newlines and tabs
	RemoveZeroWidth    bool              // drop zero-width spaces and joiners
	ReplaceMap         map[string]string // applied after normalization, longest key first
}

// DefaultCleanOptions folds compatibility forms and maps the typographic
// characters Tesseract tends to emit in sign tables back to ASCII.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		NormalizeForm:      "NFKC",
		RemoveControlChars: true,
		RemoveZeroWidth:    true,
		ReplaceMap:         DefaultReplaceMap(),
	}
}

// DefaultReplaceMap returns replacements for dashes, quotes and the
// multiplication sign used in sign dimensions.
func DefaultReplaceMap() map[string]string {
	return map[string]string{
		"\u2010": "-",  // hyphen
		"\u2011": "-",  // non-breaking hyphen
		"\u2012": "-",  // figure dash
		"\u2013": "-",  // en dash
		"\u2014": "-",  // em dash
		"\u2212": "-",  // minus sign
		"\u00D7": "X",  // multiplication sign
		"\u2018": "'",  // left single quote
		"\u2019": "'",  // right single quote
		"\u201C": "\"", // left double quote
		"\u201D": "\"", // right double quote
		"\u00A0": " ",  // non-breaking space
	}
}

// Clean applies normalization, character removal and replacements to s.
func Clean(s string, opts CleanOptions) string {
	if s == "" {
		return s
	}
	s = normalize(s, opts.NormalizeForm)
	if opts.RemoveZeroWidth {
		s = removeZeroWidth(s)
	}
	if opts.RemoveControlChars {
		s = removeControlChars(s)
	}
	if len(opts.ReplaceMap) > 0 {
		s = replaceAll(s, opts.ReplaceMap)
	}
	return s
}

func normalize(s, form string) string {
	switch strings.ToUpper(form) {
	case "NFKC", "":
		return norm.NFKC.String(s)
	case "NFC":
		return norm.NFC.String(s)
	case "NFD":
		return norm.NFD.String(s)
	case "NFKD":
		return norm.NFKD.String(s)
	}
	return s
}

func replaceAll(s string, m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// longest first so overlapping keys resolve predictably
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		s = strings.ReplaceAll(s, k, m[k])
	}
	return s
}

func removeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func removeZeroWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
