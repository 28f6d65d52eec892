package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"testing"

	"evidence-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// whitePage is a blank letter page; each call returns a new image.
type whitePage struct {
	pages int
	err   error
}

func (w whitePage) PageCount(string) (int, error) { return w.pages, w.err }

func (w whitePage) RenderPage(_ string, pageNumber int, zoom float64) (*image.RGBA, error) {
	if w.err != nil {
		return nil, w.err
	}
	if pageNumber < 1 || pageNumber > w.pages {
		return nil, fmt.Errorf("page %d out of range", pageNumber)
	}
	img := image.NewRGBA(image.Rect(0, 0, int(612*zoom), int(792*zoom)))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img, nil
}

type stubFinder struct {
	boxes []models.Box
	err   error
}

func (s stubFinder) FindText(string, int, string) ([]models.Box, error) { return s.boxes, s.err }

// markedBounds is the bounding rectangle of all non-white pixels.
func markedBounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	var out image.Rectangle
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r == 0xffff && g == 0xffff && bl == 0xffff {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if out.Empty() {
				out = px
			} else {
				out = out.Union(px)
			}
		}
	}
	return out
}

func TestRenderBoxScalesByZoom(t *testing.T) {
	r := NewRenderer(whitePage{pages: 1}, nil)
	box := models.Box{X0: 72.3, Y0: 100.5, X1: 240.2, Y1: 130, Confidence: 0.8}

	for _, zoom := range []float64{0.5, 1, 1.5, 2, 3} {
		t.Run(fmt.Sprintf("zoom %.1f", zoom), func(t *testing.T) {
			data, err := r.RenderBox("doc.pdf", 1, box, zoom)
			require.NoError(t, err)

			got := markedBounds(t, data)
			want := box.Scale(zoom)
			assert.InDelta(t, want.X0, float64(got.Min.X), 1)
			assert.InDelta(t, want.Y0, float64(got.Min.Y), 1)
			assert.InDelta(t, want.X1, float64(got.Max.X), 1)
			assert.InDelta(t, want.Y1, float64(got.Max.Y), 1)

			// unscaling the measured rectangle recovers the box
			assert.InDelta(t, box.X0, float64(got.Min.X)/zoom, 1/zoom)
			assert.InDelta(t, box.Y1, float64(got.Max.Y)/zoom, 1/zoom)
		})
	}
}

func TestRenderTextWithoutMatchIsPlainPage(t *testing.T) {
	raster := whitePage{pages: 2}
	plain, err := NewRenderer(raster, nil).RenderPage("doc.pdf", 2, 2)
	require.NoError(t, err)

	got, err := NewRenderer(raster, stubFinder{}).RenderText("doc.pdf", 2, "not on page", 2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, got))

	searchFailed, err := NewRenderer(raster, stubFinder{err: errors.New("bad stream")}).RenderText("doc.pdf", 2, "x", 2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, searchFailed))

	blank, err := NewRenderer(raster, stubFinder{boxes: []models.Box{{X0: 1, Y0: 1, X1: 9, Y1: 9}}}).RenderText("doc.pdf", 2, "  ", 2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, blank), "blank text skips the search")
}

func TestRenderTextHighlightsEveryMatch(t *testing.T) {
	finder := stubFinder{boxes: []models.Box{
		{X0: 10, Y0: 10, X1: 20, Y1: 20},
		{X0: 100, Y0: 200, X1: 150, Y1: 210},
	}}
	data, err := NewRenderer(whitePage{pages: 1}, finder).RenderText("doc.pdf", 1, "total", 2)
	require.NoError(t, err)

	got := markedBounds(t, data)
	assert.Equal(t, image.Rect(20, 20, 300, 420), got)
}

func TestRenderErrors(t *testing.T) {
	t.Run("out of range page", func(t *testing.T) {
		_, err := NewRenderer(whitePage{pages: 1}, nil).RenderPage("doc.pdf", 3, 2)
		var rerr *RenderError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, 3, rerr.Page)
	})

	t.Run("invalid zoom", func(t *testing.T) {
		for _, z := range []float64{0, -1, math.NaN()} {
			_, err := NewRenderer(whitePage{pages: 1}, nil).RenderBox("doc.pdf", 1, models.Box{X1: 1, Y1: 1}, z)
			var rerr *RenderError
			assert.True(t, errors.As(err, &rerr))
		}
	})

	t.Run("rasterizer failure", func(t *testing.T) {
		boom := errors.New("mupdf: cannot open")
		_, err := NewRenderer(whitePage{err: boom}, nil).RenderPage("/tmp/x.pdf", 1, 1)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "x.pdf page 1")
	})
}

func TestHighlight(t *testing.T) {
	t.Run("clipped to image", func(t *testing.T) {
		img := whiteImage(50, 50)
		Highlight(img, image.Rect(40, 40, 80, 80))
		assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.RGBAAt(39, 39))
		assert.NotEqual(t, img.RGBAAt(39, 39), img.RGBAAt(40, 40))
		assert.Equal(t, img.RGBAAt(40, 40), img.RGBAAt(49, 49))
	})

	t.Run("outline is amber over the fill", func(t *testing.T) {
		img := whiteImage(40, 40)
		Highlight(img, image.Rect(0, 0, 40, 40))

		edge, inner := img.RGBAAt(1, 20), img.RGBAAt(20, 20)
		assert.Equal(t, uint8(255), edge.R)
		assert.Equal(t, uint8(255), edge.A)
		assert.Less(t, edge.G, inner.G)
		assert.Less(t, edge.B, inner.B)
		assert.Greater(t, edge.B, uint8(0), "outline is not fully opaque")
	})

	t.Run("fill is translucent", func(t *testing.T) {
		img := whiteImage(40, 40)
		Highlight(img, image.Rect(0, 0, 40, 40))

		r, g, b, a := img.At(20, 20).RGBA()
		assert.Equal(t, uint32(0xffff), a)
		assert.Equal(t, uint32(0xffff), r)
		assert.Equal(t, uint32(0xffff), g)
		assert.Less(t, b, uint32(0xffff))
		assert.Greater(t, b, uint32(0))
	})

	t.Run("empty rect is a no-op", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 10, 10))
		Highlight(img, image.Rectangle{})
		assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
	})
}

func TestScaledRectRoundsOutward(t *testing.T) {
	got := ScaledRect(models.Box{X0: 1.2, Y0: 1.7, X1: 3.1, Y1: 4.01}, 2)
	assert.Equal(t, image.Rect(2, 3, 7, 9), got)

	swapped := ScaledRect(models.Box{X0: 10, Y0: 10, X1: 5, Y1: 5}, 1)
	assert.Equal(t, image.Rect(5, 5, 10, 10), swapped)
}

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}
