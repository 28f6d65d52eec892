package snapshot

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer turns PDF pages into bitmaps. Page numbers are 1-based and
// every RenderPage call returns a fresh image the caller may draw on.
type Rasterizer interface {
	PageCount(path string) (int, error)
	RenderPage(path string, pageNumber int, zoom float64) (*image.RGBA, error)
}

// FitzRasterizer renders with MuPDF. Each call opens its own document so
// concurrent calls never share MuPDF state.
type FitzRasterizer struct{}

func NewFitzRasterizer() *FitzRasterizer { return &FitzRasterizer{} }

func (FitzRasterizer) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func (FitzRasterizer) RenderPage(path string, pageNumber int, zoom float64) (*image.RGBA, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer doc.Close()

	if pageNumber < 1 || pageNumber > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (1-%d)", pageNumber, doc.NumPage())
	}
	// 72 dpi is one pixel per PDF point
	img, err := doc.ImageDPI(pageNumber-1, 72*zoom)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize page %d: %w", pageNumber, err)
	}
	return img, nil
}
