package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1700000000000)

func newTestParser(schema Schema) *Parser {
	return New(schema, WithClock(func() time.Time { return fixedNow }))
}

func TestParse_RowWithQuantity(t *testing.T) {
	recs := newTestParser(DefaultSchema()).Parse("R2-1 24 X 18 SPEED LIMIT 19")
	require.Len(t, recs, 1)
	assert.Equal(t, SignRecord{
		ID:          "sign-1700000000000-0",
		Code:        "R2-1",
		Size:        "24 X 18",
		Description: "SPEED LIMIT",
		Quantity:    "19",
	}, recs[0])
}

func TestParse_RowWithoutQuantity(t *testing.T) {
	recs := Parse("W1-1 30 X 30 CURVE AHEAD")
	require.Len(t, recs, 1)
	assert.Equal(t, "W1-1", recs[0].Code)
	assert.Equal(t, "30 X 30", recs[0].Size)
	assert.Equal(t, "CURVE AHEAD", recs[0].Description)
	assert.Equal(t, "", recs[0].Quantity)
}

func TestParse_SkipsHeaders(t *testing.T) {
	for _, line := range []string{
		"APPROX SIZE CHART",
		"STD. NO. SIZE DESCRIPTION QUANTITY",
		"sign tabulation for channel 3",
		"ALL SIGNS INCLUDED IN BID ITEM",
		"post type B",
	} {
		assert.Empty(t, Parse(line), line)
	}
}

func TestParse_ShortLinesProduceNothing(t *testing.T) {
	assert.Empty(t, Parse("R1-1 30 X"))
	assert.Empty(t, Parse("STOP"))
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("\n\n   \n"))
}

func TestParse_DescriptionRequired(t *testing.T) {
	// the only remaining token is taken as the quantity
	assert.Empty(t, Parse("R2-1 24 X 18 19"))
}

func TestParse_MultipleLinesAndWhitespace(t *testing.T) {
	raw := strings.Join([]string{
		"STD. NO.   SIZE     DESCRIPTION      QUANTITY",
		"",
		"  R1-1    30 X 30   STOP   4  ",
		"M4-8\t18 X 24\tDO NOT ENTER 3",
		"noise",
		"W3-1 36 X 36 STOP AHEAD",
	}, "\n")

	recs, stats := newTestParser(DefaultSchema()).ParseWithStats(raw)
	require.Len(t, recs, 3)
	assert.Equal(t, "STOP", recs[0].Description)
	assert.Equal(t, "4", recs[0].Quantity)
	assert.Equal(t, "M4-8", recs[1].Code)
	assert.Equal(t, "18 X 24", recs[1].Size)
	assert.Equal(t, "DO NOT ENTER", recs[1].Description)
	assert.Equal(t, "3", recs[1].Quantity)
	assert.Equal(t, "", recs[2].Quantity)

	assert.Equal(t, Stats{Lines: 5, Headers: 1, TooShort: 1, Records: 3}, stats)
	assert.Equal(t, 2, stats.Skipped())
}

func TestParse_IDsUniqueWithinBatch(t *testing.T) {
	var lines []string
	for i := range 50 {
		lines = append(lines, fmt.Sprintf("R%d-1 24 X 24 SIGN NUMBER %d", i, i))
	}
	recs := Parse(strings.Join(lines, "\n"))
	require.Len(t, recs, 50)

	seen := map[string]bool{}
	for _, r := range recs {
		assert.True(t, strings.HasPrefix(r.ID, "sign-"))
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestParse_EmittedRecordsAreComplete(t *testing.T) {
	raw := "A B C D\nA B C 1\nR1 2 X 3 X\n1 2 3 4 5"
	for _, r := range Parse(raw) {
		assert.True(t, r.Complete())
	}
}

func TestParse_CleansTypography(t *testing.T) {
	recs := Parse("R2–1 24 × 18 SPEED LIMIT 19")
	require.Len(t, recs, 1)
	assert.Equal(t, "R2-1", recs[0].Code)
	assert.Equal(t, "24 X 18", recs[0].Size)
}

func TestParse_CompactSchema(t *testing.T) {
	recs := newTestParser(CompactSchema()).Parse("R1-1 36x36 STOP 2")
	require.Len(t, recs, 1)
	assert.Equal(t, "36x36", recs[0].Size)
	assert.Equal(t, "STOP", recs[0].Description)
	assert.Equal(t, "2", recs[0].Quantity)
}

func TestParse_CustomKeywordsAndQuantity(t *testing.T) {
	schema, err := DefaultSchema().WithHeaderKeywords([]string{"LEGEND"}).WithQuantityPattern(`^\d+(EA)?$`)
	require.NoError(t, err)

	p := newTestParser(schema)
	assert.Empty(t, p.Parse("SIGN LEGEND"))

	recs := p.Parse("R1-1 30 X 30 STOP 4EA")
	require.Len(t, recs, 1)
	assert.Equal(t, "4EA", recs[0].Quantity)

	// SIZE is no longer a header keyword for this schema
	assert.Len(t, p.Parse("R1-2 30 X 30 SIZE VARIES"), 1)
}

func TestParse_QuantityDisabled(t *testing.T) {
	schema, err := DefaultSchema().WithQuantityPattern("")
	require.NoError(t, err)
	recs := newTestParser(schema).Parse("R2-1 24 X 18 SPEED LIMIT 19")
	require.Len(t, recs, 1)
	assert.Equal(t, "SPEED LIMIT 19", recs[0].Description)
	assert.Empty(t, recs[0].Quantity)
}

func TestNew_InvalidSchemaFallsBack(t *testing.T) {
	p := New(Schema{CodeTokens: 0})
	assert.Equal(t, "standard", p.Schema().Name)
}

func TestBatchIDs(t *testing.T) {
	ids := NewBatchIDs(fixedNow)
	assert.Equal(t, "sign-1700000000000-0", ids.Next())
	assert.Equal(t, "sign-1700000000000-1", ids.Next())
}
