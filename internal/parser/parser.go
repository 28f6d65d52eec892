package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"evidence-rag/internal/config"
	"evidence-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000 // runes
	defaultChunkOverlap = 150  // runes
)

// IngestionKind classifies why a file produced no chunks.
type IngestionKind int

const (
	KindUnreadable IngestionKind = iota
	KindEncrypted
	KindNoText
)

func (k IngestionKind) String() string {
	switch k {
	case KindEncrypted:
		return "encrypted"
	case KindNoText:
		return "no extractable text"
	default:
		return "unreadable"
	}
}

// IngestionError is a per-file failure; callers skip the file and continue.
type IngestionError struct {
	File string
	Kind IngestionKind
	Err  error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", filepath.Base(e.File), e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", filepath.Base(e.File), e.Kind)
}

func (e *IngestionError) Unwrap() error { return e.Err }

type Parser interface {
	Load(filePath string) ([]models.Chunk, error)
}

type ParserConfig struct {
	splitter textsplitter.RecursiveCharacter
}

func NewParser(cfg *config.Config) *ParserConfig {
	size, overlap := defaultChunkSize, defaultChunkOverlap
	// if config is nil, use default values
	if cfg != nil && cfg.RAG.ChunkSize > 0 {
		size = cfg.RAG.ChunkSize
		overlap = cfg.RAG.ChunkOverlap
	}
	return &ParserConfig{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

// Load extracts every page of a PDF and splits it into chunks tagged with
// the file path and 1-based page number.
func (p *ParserConfig) Load(filePath string) (chunks []models.Chunk, err error) {
	if ext := strings.ToLower(filepath.Ext(filePath)); ext != ".pdf" {
		return nil, &IngestionError{File: filePath, Kind: KindUnreadable, Err: fmt.Errorf("unsupported file format: %s", ext)}
	}

	// ledongthuc/pdf panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			chunks = nil
			err = &IngestionError{File: filePath, Kind: KindUnreadable, Err: fmt.Errorf("pdf reader panic: %v", r)}
		}
	}()

	f, reader, err := openPDF(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Str("file", filePath).Int("page", i).Msg("Skipping page without readable text")
			continue
		}
		pageChunks, err := p.getChunks(filePath, pageText, i)
		if err != nil {
			return nil, &IngestionError{File: filePath, Kind: KindUnreadable, Err: err}
		}
		chunks = append(chunks, pageChunks...)
	}

	if len(chunks) == 0 {
		return nil, &IngestionError{File: filePath, Kind: KindNoText}
	}
	log.Debug().Str("file", filePath).Int("pages", numPages).Int("chunks", len(chunks)).Msg("Parsed PDF")
	return chunks, nil
}

func openPDF(filePath string) (*os.File, *pdf.Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, &IngestionError{File: filePath, Kind: KindUnreadable, Err: err}
	}

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, &IngestionError{File: filePath, Kind: KindUnreadable, Err: err}
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		f.Close()
		kind := KindUnreadable
		if errors.Is(err, pdf.ErrInvalidPassword) {
			kind = KindEncrypted
		}
		return nil, nil, &IngestionError{File: filePath, Kind: kind, Err: err}
	}
	return f, reader, nil
}

// get chunks from page text and page number
func (p *ParserConfig) getChunks(source, content string, pageNumber int) ([]models.Chunk, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	// generate chunk strings from content
	chunkStrings, err := p.splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("failed to split page %d: %w", pageNumber, err)
	}

	var chunks []models.Chunk
	for _, chunkString := range chunkStrings {
		chunkString = strings.TrimSpace(chunkString)
		if chunkString == "" {
			continue
		}
		chunkID := len(chunks) + 1
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s#p%d-c%d", filepath.Base(source), pageNumber, chunkID),
			Content:    chunkString,
			Source:     source,
			PageNumber: pageNumber,
			ChunkID:    chunkID,
		})
	}
	return chunks, nil
}
