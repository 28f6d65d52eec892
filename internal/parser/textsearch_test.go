package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// glyphs lays out s one character per glyph, 6pt advance, on baseline y.
func glyphs(s string, x, y float64) []Glyph {
	var out []Glyph
	for _, r := range s {
		out = append(out, Glyph{S: string(r), X: x, Y: y, W: 6, FontSize: 12})
		x += 6
	}
	return out
}

func TestMatchGlyphs(t *testing.T) {
	page := PageBox{URX: 612, URY: 792}

	t.Run("single occurrence", func(t *testing.T) {
		boxes := MatchGlyphs(glyphs("Gross salary 5000", 72, 720), page, "salary")
		require.Len(t, boxes, 1)
		assert.InDelta(t, 108, boxes[0].X0, 1e-9)
		assert.InDelta(t, 144, boxes[0].X1, 1e-9)
		assert.InDelta(t, 60, boxes[0].Y0, 1e-9)
		assert.InDelta(t, 74.4, boxes[0].Y1, 1e-9)
	})

	t.Run("case insensitive and repeated", func(t *testing.T) {
		boxes := MatchGlyphs(glyphs("Total TOTAL total", 0, 100), page, "total")
		assert.Len(t, boxes, 3)
	})

	t.Run("absent text", func(t *testing.T) {
		assert.Empty(t, MatchGlyphs(glyphs("Gross salary 5000", 72, 720), page, "bonus"))
	})

	t.Run("blank needle", func(t *testing.T) {
		assert.Empty(t, MatchGlyphs(glyphs("anything", 0, 0), page, "   "))
	})

	t.Run("gap stands in for a missing space", func(t *testing.T) {
		g := append(glyphs("Net", 72, 700), glyphs("pay", 110, 700)...)
		boxes := MatchGlyphs(g, page, "net pay")
		require.Len(t, boxes, 1)
		assert.InDelta(t, 72, boxes[0].X0, 1e-9)
		assert.InDelta(t, 128, boxes[0].X1, 1e-9)
	})

	t.Run("match spanning lines yields a box per line", func(t *testing.T) {
		g := append(glyphs("annual", 72, 700), glyphs("leave", 72, 686)...)
		boxes := MatchGlyphs(g, page, "annual leave")
		require.Len(t, boxes, 2)
		assert.Less(t, boxes[0].Y0, boxes[1].Y0)
	})
}

func TestFindText(t *testing.T) {
	path := writePDF(t, t.TempDir(), "payslip.pdf", []string{"Gross salary 5000"})
	p := NewParser(nil)

	boxes, err := p.FindText(path, 1, "salary")
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 108, boxes[0].X0, 0.5)
	assert.InDelta(t, 60, boxes[0].Y0, 0.5)

	none, err := p.FindText(path, 1, "bonus")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = p.FindText(path, 2, "salary")
	assert.Error(t, err)
}
