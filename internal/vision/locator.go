package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"

	"evidence-rag/internal/llmservice"
	"evidence-rag/internal/models"
	"evidence-rag/internal/snapshot"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

const locateMaxTokens = 200

// Locator asks a vision model where on a page the answer is shown.
type Locator struct {
	raster snapshot.Rasterizer
	llm    llmservice.Generator
	zoom   float64
}

func NewLocator(raster snapshot.Rasterizer, llm llmservice.Generator, zoom float64) *Locator {
	if zoom <= 0 {
		zoom = models.DefaultZoom
	}
	return &Locator{raster: raster, llm: llm, zoom: zoom}
}

// Locate returns the evidence box in unscaled page points. The caller scales
// it by the render zoom before drawing.
func (l *Locator) Locate(ctx context.Context, pdfPath string, pageNumber int, question, answer string) (models.Box, error) {
	if err := checkSource(l.raster, pdfPath, pageNumber); err != nil {
		return models.Box{}, err
	}

	img, err := l.raster.RenderPage(pdfPath, pageNumber, l.zoom)
	if err != nil {
		return models.Box{}, &LocatorError{Kind: KindRender, Err: err}
	}
	data, err := snapshot.EncodePNG(img)
	if err != nil {
		return models.Box{}, &LocatorError{Kind: KindRender, Err: err}
	}

	width := float64(img.Bounds().Dx()) / l.zoom
	height := float64(img.Bounds().Dy()) / l.zoom
	prompt := fmt.Sprintf(models.LocatePromptTemplate, width, height, question, answer)

	resp, err := l.llm.GenerateContent(ctx,
		[]llms.MessageContent{imageMessage(prompt, data)},
		llms.WithTemperature(0),
		llms.WithMaxTokens(locateMaxTokens),
	)
	if err != nil {
		return models.Box{}, &LocatorError{Kind: KindModel, Err: err}
	}
	reply, err := llmservice.Text(resp)
	if err != nil {
		return models.Box{}, &LocatorError{Kind: KindEmptyOutput}
	}

	box, err := ParseBox(reply)
	if err != nil {
		log.Debug().Str("reply", reply).Msg("Unparseable locator reply")
		return models.Box{}, err
	}
	box = clip(box, width, height)
	if box.X1 <= box.X0 || box.Y1 <= box.Y0 {
		return models.Box{}, &LocatorError{Kind: KindOffPage, Err: fmt.Errorf("box has no area within %.0fx%.0f page", width, height)}
	}
	log.Debug().Str("file", pdfPath).Int("page", pageNumber).Interface("box", box).Msg("Located evidence")
	return box, nil
}

// checkSource enforces that evidence only ever points at a readable PDF page.
func checkSource(raster snapshot.Rasterizer, pdfPath string, pageNumber int) error {
	info, err := os.Stat(pdfPath)
	if err != nil {
		return &LocatorError{Kind: KindInvalidSource, Err: err}
	}
	if info.IsDir() {
		return &LocatorError{Kind: KindInvalidSource, Err: fmt.Errorf("%s is a directory", pdfPath)}
	}
	pages, err := raster.PageCount(pdfPath)
	if err != nil {
		return &LocatorError{Kind: KindInvalidSource, Err: err}
	}
	if pageNumber < 1 || pageNumber > pages {
		return &LocatorError{Kind: KindInvalidSource, Err: fmt.Errorf("page %d out of range (1-%d)", pageNumber, pages)}
	}
	return nil
}

func imageMessage(prompt string, png []byte) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: prompt},
			llms.ImageURLContent{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)},
		},
	}
}

func clip(b models.Box, width, height float64) models.Box {
	b.X0 = math.Max(0, math.Min(b.X0, width))
	b.X1 = math.Max(0, math.Min(b.X1, width))
	b.Y0 = math.Max(0, math.Min(b.Y0, height))
	b.Y1 = math.Max(0, math.Min(b.Y1, height))
	return b
}
