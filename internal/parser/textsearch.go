package parser

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"evidence-rag/internal/models"

	"github.com/ledongthuc/pdf"
)

// Glyph is a positioned run of text in PDF user space (origin bottom-left).
type Glyph struct {
	S        string
	X, Y     float64
	W        float64
	FontSize float64
}

// PageBox is a page's MediaBox.
type PageBox struct {
	LLX, LLY, URX, URY float64
}

var letterPage = PageBox{URX: 612, URY: 792}

// FindText returns one box per line of every case-insensitive occurrence of
// needle on the page, in top-left page space.
func (p *ParserConfig) FindText(filePath string, pageNumber int, needle string) (boxes []models.Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			boxes = nil
			err = fmt.Errorf("failed to read text positions on page %d: %v", pageNumber, r)
		}
	}()

	f, reader, err := openPDF(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if pageNumber < 1 || pageNumber > reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range (1-%d)", pageNumber, reader.NumPage())
	}
	page := reader.Page(pageNumber)

	var glyphs []Glyph
	for _, t := range page.Content().Text {
		glyphs = append(glyphs, Glyph{S: t.S, X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize})
	}
	return MatchGlyphs(glyphs, mediaBox(page), needle), nil
}

// MediaBox may be inherited from the page tree.
func mediaBox(page pdf.Page) PageBox {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		mb := v.Key("MediaBox")
		if mb.Kind() == pdf.Array && mb.Len() == 4 {
			return PageBox{
				LLX: mb.Index(0).Float64(),
				LLY: mb.Index(1).Float64(),
				URX: mb.Index(2).Float64(),
				URY: mb.Index(3).Float64(),
			}
		}
	}
	return letterPage
}

type indexedRune struct {
	r     rune
	glyph int // -1 for separators synthesised between glyphs
}

// MatchGlyphs finds needle in the glyph stream. Whitespace is collapsed on
// both sides and a separator is assumed wherever glyphs jump lines or leave
// a visible gap.
func MatchGlyphs(glyphs []Glyph, page PageBox, needle string) []models.Box {
	want := []rune(strings.Join(strings.Fields(strings.ToLower(needle)), " "))
	if len(want) == 0 || len(glyphs) == 0 {
		return nil
	}

	stream := buildStream(glyphs)
	var boxes []models.Box
	for i := 0; i+len(want) <= len(stream); {
		if !matchAt(stream, want, i) {
			i++
			continue
		}
		var owners []int
		for _, ir := range stream[i : i+len(want)] {
			if ir.glyph >= 0 && (len(owners) == 0 || owners[len(owners)-1] != ir.glyph) {
				owners = append(owners, ir.glyph)
			}
		}
		boxes = append(boxes, lineBoxes(glyphs, owners, page)...)
		i += len(want)
	}
	return boxes
}

func buildStream(glyphs []Glyph) []indexedRune {
	var stream []indexedRune
	push := func(r rune, owner int) {
		if unicode.IsSpace(r) {
			if len(stream) == 0 || stream[len(stream)-1].r == ' ' {
				return
			}
			r = ' '
		}
		stream = append(stream, indexedRune{r: r, glyph: owner})
	}

	for i, g := range glyphs {
		if i > 0 && separated(glyphs[i-1], g) {
			push(' ', -1)
		}
		for _, r := range strings.ToLower(g.S) {
			push(r, i)
		}
	}
	return stream
}

func separated(prev, cur Glyph) bool {
	fs := math.Max(prev.FontSize, 1)
	if math.Abs(cur.Y-prev.Y) > fs*0.5 {
		return true
	}
	return cur.X-(prev.X+prev.W) > fs*0.25
}

func matchAt(stream []indexedRune, want []rune, at int) bool {
	for j, r := range want {
		if stream[at+j].r != r {
			return false
		}
	}
	return true
}

// lineBoxes unions the owning glyphs, splitting at baseline changes.
func lineBoxes(glyphs []Glyph, owners []int, page PageBox) []models.Box {
	var boxes []models.Box
	var baseline float64
	for _, idx := range owners {
		g := glyphs[idx]
		fs := math.Max(g.FontSize, 1)
		top := page.URY - (g.Y + fs)
		bottom := page.URY - g.Y + fs*0.2
		x0 := g.X - page.LLX
		x1 := x0 + g.W
		if len(boxes) == 0 || math.Abs(g.Y-baseline) > fs*0.5 {
			boxes = append(boxes, models.Box{X0: x0, Y0: top, X1: x1, Y1: bottom, Confidence: 1})
			baseline = g.Y
			continue
		}
		cur := &boxes[len(boxes)-1]
		cur.X0 = math.Min(cur.X0, x0)
		cur.X1 = math.Max(cur.X1, x1)
		cur.Y0 = math.Min(cur.Y0, top)
		cur.Y1 = math.Max(cur.Y1, bottom)
	}
	return boxes
}
