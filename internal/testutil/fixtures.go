package testutil

import (
	"github.com/MeKo-Tech/signscan/internal/parser"
)

// LegendFixture pairs raw OCR text with the records it must parse into.
// Expected records carry no ids.
type LegendFixture struct {
	Name     string
	Text     string
	Expected []parser.SignRecord
}

// LegendFixtures returns the shared parse fixtures.
func LegendFixtures() []LegendFixture {
	return []LegendFixture{
		{
			Name: "single_row",
			Text: "M4-8 18 X 24 DO NOT ENTER 3",
			Expected: []parser.SignRecord{
				{Code: "M4-8", Size: "18 X 24", Description: "DO NOT ENTER", Quantity: "3"},
			},
		},
		{
			Name: "header_and_rows",
			Text: "SIGN LEGEND\nCODE SIZE DESCRIPTION QTY\nR1-1 30 X 30 STOP 2\nW20-1 48 X 48 ROAD WORK AHEAD 4\n",
			Expected: []parser.SignRecord{
				{Code: "R1-1", Size: "30 X 30", Description: "STOP", Quantity: "2"},
				{Code: "W20-1", Size: "48 X 48", Description: "ROAD WORK AHEAD", Quantity: "4"},
			},
		},
		{
			Name: "no_quantity",
			Text: "R2-1 24 X 30 SPEED LIMIT",
			Expected: []parser.SignRecord{
				{Code: "R2-1", Size: "24 X 30", Description: "SPEED LIMIT", Quantity: ""},
			},
		},
		{
			Name:     "too_short",
			Text:     "R1-1 30 X",
			Expected: []parser.SignRecord{},
		},
		{
			Name:     "empty",
			Text:     "",
			Expected: []parser.SignRecord{},
		},
	}
}

// StripIDs returns a copy of records with ids cleared for comparison.
func StripIDs(records []parser.SignRecord) []parser.SignRecord {
	out := make([]parser.SignRecord, len(records))
	for i, r := range records {
		r.ID = ""
		out[i] = r
	}
	return out
}
