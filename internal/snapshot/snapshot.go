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
	"path/filepath"
	"strings"

	"evidence-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const outlineWidth = 3 // pixels

var (
	fillColor    = color.NRGBA{R: 255, G: 255, B: 0, A: 80}
	outlineColor = color.NRGBA{R: 255, G: 180, B: 0, A: 200}
)

// RenderError is a per-page rasterisation or drawing failure.
type RenderError struct {
	Source string
	Page   int
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s page %d: %v", filepath.Base(e.Source), e.Page, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// TextFinder locates literal text on a page in unscaled top-left page space.
type TextFinder interface {
	FindText(path string, pageNumber int, needle string) ([]models.Box, error)
}

type Renderer struct {
	raster Rasterizer
	finder TextFinder
}

// NewRenderer builds a renderer; finder may be nil when RenderText is unused.
func NewRenderer(raster Rasterizer, finder TextFinder) *Renderer {
	return &Renderer{raster: raster, finder: finder}
}

// RenderPage returns the page as PNG with no highlight.
func (r *Renderer) RenderPage(path string, pageNumber int, zoom float64) ([]byte, error) {
	img, err := r.page(path, pageNumber, zoom)
	if err != nil {
		return nil, err
	}
	return r.encode(path, pageNumber, img)
}

// RenderBox draws one highlight over box, given in unscaled page points.
func (r *Renderer) RenderBox(path string, pageNumber int, box models.Box, zoom float64) ([]byte, error) {
	img, err := r.page(path, pageNumber, zoom)
	if err != nil {
		return nil, err
	}
	Highlight(img, ScaledRect(box, zoom))
	return r.encode(path, pageNumber, img)
}

// RenderText highlights every occurrence of text. Blank text or no match
// yields the plain page.
func (r *Renderer) RenderText(path string, pageNumber int, text string, zoom float64) ([]byte, error) {
	img, err := r.page(path, pageNumber, zoom)
	if err != nil {
		return nil, err
	}

	if r.finder != nil && strings.TrimSpace(text) != "" {
		boxes, err := r.finder.FindText(path, pageNumber, text)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Int("page", pageNumber).Msg("Text search failed, rendering plain page")
		}
		for _, b := range boxes {
			Highlight(img, ScaledRect(b, zoom))
		}
	}
	return r.encode(path, pageNumber, img)
}

func (r *Renderer) page(path string, pageNumber int, zoom float64) (*image.RGBA, error) {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return nil, &RenderError{Source: path, Page: pageNumber, Err: fmt.Errorf("invalid zoom %v", zoom)}
	}
	img, err := r.raster.RenderPage(path, pageNumber, zoom)
	if err != nil {
		return nil, &RenderError{Source: path, Page: pageNumber, Err: err}
	}
	if img == nil {
		return nil, &RenderError{Source: path, Page: pageNumber, Err: errors.New("rasterizer returned no image")}
	}
	return img, nil
}

func (r *Renderer) encode(path string, pageNumber int, img image.Image) ([]byte, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return nil, &RenderError{Source: path, Page: pageNumber, Err: err}
	}
	return b, nil
}

// ScaledRect converts a page-space box into the pixel rectangle it covers at
// zoom. Edges round outward.
func ScaledRect(box models.Box, zoom float64) image.Rectangle {
	s := box.Scale(zoom)
	x0, x1 := math.Min(s.X0, s.X1), math.Max(s.X0, s.X1)
	y0, y1 := math.Min(s.Y0, s.Y1), math.Max(s.Y0, s.Y1)
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
}

// Highlight draws a translucent yellow fill and an amber outline inside
// rect, clipped to the image.
func Highlight(img draw.Image, rect image.Rectangle) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(img, rect, image.NewUniform(fillColor), image.Point{}, draw.Over)

	w := outlineWidth
	if half := min(rect.Dx(), rect.Dy()) / 2; w > half {
		w = max(half, 1)
	}
	outline := image.NewUniform(outlineColor)
	strips := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+w),
		image.Rect(rect.Min.X, rect.Max.Y-w, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y+w, rect.Min.X+w, rect.Max.Y-w),
		image.Rect(rect.Max.X-w, rect.Min.Y+w, rect.Max.X, rect.Max.Y-w),
	}
	for _, s := range strips {
		draw.Draw(img, s.Intersect(rect), outline, image.Point{}, draw.Over)
	}
}

// EncodePNG is deterministic: equal images give equal bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
