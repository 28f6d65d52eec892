package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"evidence-rag/internal/helper"
	"evidence-rag/internal/history"
	"evidence-rag/internal/metrics"
	"evidence-rag/internal/models"
	"evidence-rag/internal/parser"
	"evidence-rag/internal/rag"

	"github.com/rs/zerolog/log"
)

type State int

const (
	StateEmpty State = iota
	StateIndexed
	StateAnswering
	StateAnswered
)

func (s State) String() string {
	switch s {
	case StateIndexed:
		return "indexed"
	case StateAnswering:
		return "answering"
	case StateAnswered:
		return "answered"
	default:
		return "empty"
	}
}

var (
	ErrBlankQuestion = errors.New("question is blank")
	ErrNotIndexed    = errors.New("no documents indexed yet; upload a PDF first")
	ErrNoEvidence    = errors.New("evidence item not found")
	ErrNoDocument    = errors.New("document not indexed")
)

// IndexEmptyError means an upload left the session with nothing to search.
type IndexEmptyError struct {
	Causes []error
}

func (e *IndexEmptyError) Error() string {
	msg := fmt.Sprintf("no text could be indexed from %d file(s); likely causes: encrypted PDF, scanned image without a text layer, corrupt file", len(e.Causes))
	for _, c := range e.Causes {
		msg += "\n  - " + c.Error()
	}
	return msg
}

func (e *IndexEmptyError) Unwrap() []error { return e.Causes }

// IndexBuilder builds a fresh, immutable retriever over all chunks.
type IndexBuilder func(ctx context.Context, chunks []models.Chunk) (rag.Retriever, error)

type Answerer interface {
	Query(ctx context.Context, retriever rag.Retriever, query string, k int) (models.PromptResponse, error)
}

type Locator interface {
	Locate(ctx context.Context, pdfPath string, pageNumber int, question, answer string) (models.Box, error)
}

type Renderer interface {
	RenderBox(path string, pageNumber int, box models.Box, zoom float64) ([]byte, error)
	RenderText(path string, pageNumber int, text string, zoom float64) ([]byte, error)
}

type Verifier interface {
	Verify(ctx context.Context, highlighted []byte, question, answer string) (models.Verdict, error)
}

type Options struct {
	UploadDir string
	TopK      int
	Zoom      float64
	Workers   int
	Verify    bool
}

// Deps are the collaborators a session sequences. Verifier and Metrics are
// optional.
type Deps struct {
	Parser     parser.Parser
	BuildIndex IndexBuilder
	Answerer   Answerer
	Locator    Locator
	Renderer   Renderer
	Verifier   Verifier
	History    history.Store
	Metrics    *metrics.Metrics
}

type File struct {
	Name string
	Data []byte
}

// Document is an indexed upload.
type Document struct {
	Name       string    `json:"name"`
	StoredPath string    `json:"stored_path"`
	Chunks     int       `json:"chunks"`
	AddedAt    time.Time `json:"added_at"`
}

type FileReport struct {
	Name       string `json:"name"`
	StoredPath string `json:"stored_path,omitempty"`
	Chunks     int    `json:"chunks"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Err        error  `json:"-"`
}

type UploadReport struct {
	Files       []FileReport `json:"files"`
	Documents   int          `json:"documents"`
	TotalChunks int          `json:"total_chunks"`
	Rebuilt     bool         `json:"rebuilt"`
}

type snapshot struct {
	retriever rag.Retriever
	chunks    int
}

// Session owns one user's documents, index and history. Uploads are
// serialised; questions run concurrently against whichever index snapshot was
// current when they started.
type Session struct {
	opts Options
	deps Deps

	uploadMu  sync.Mutex
	mu        sync.RWMutex
	documents []Document
	chunks    []models.Chunk

	index    atomic.Pointer[snapshot]
	inflight atomic.Int64
	answered atomic.Int64
}

func New(opts Options, deps Deps) (*Session, error) {
	switch {
	case deps.Parser == nil:
		return nil, errors.New("session: parser is required")
	case deps.BuildIndex == nil:
		return nil, errors.New("session: index builder is required")
	case deps.Answerer == nil:
		return nil, errors.New("session: answerer is required")
	case deps.Locator == nil:
		return nil, errors.New("session: locator is required")
	case deps.Renderer == nil:
		return nil, errors.New("session: renderer is required")
	case deps.History == nil:
		return nil, errors.New("session: history store is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.Zoom <= 0 {
		opts.Zoom = models.DefaultZoom
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	return &Session{opts: opts, deps: deps}, nil
}

func (s *Session) State() State {
	if s.index.Load() == nil {
		return StateEmpty
	}
	if s.inflight.Load() > 0 {
		return StateAnswering
	}
	if s.answered.Load() > 0 {
		return StateAnswered
	}
	return StateIndexed
}

func (s *Session) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Document(nil), s.documents...)
}

// ChunkCount is the size of the current index.
func (s *Session) ChunkCount() int {
	if snap := s.index.Load(); snap != nil {
		return snap.chunks
	}
	return 0
}

// Upload stores and ingests files, then rebuilds the index from every
// document indexed so far. A file whose content was already uploaded under
// the same name is a no-op. Per-file failures are reported, not returned.
func (s *Session) Upload(ctx context.Context, files []File) (UploadReport, error) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	var report UploadReport
	if err := helper.CreateFolder(s.opts.UploadDir); err != nil {
		return report, err
	}

	s.mu.RLock()
	known := make(map[string]bool, len(s.documents))
	for _, d := range s.documents {
		known[d.StoredPath] = true
	}
	s.mu.RUnlock()

	start := time.Now()
	var added []Document
	var newChunks []models.Chunk
	var causes []error
	for _, f := range files {
		fr := FileReport{Name: f.Name}
		path := filepath.Join(s.opts.UploadDir, helper.StoredName(f.Name, f.Data))
		fr.StoredPath = path

		if known[path] {
			fr.Duplicate = true
			fr.Diagnostic = "already indexed"
			report.Files = append(report.Files, fr)
			s.deps.Metrics.CountUpload("duplicate")
			continue
		}

		chunks, err := s.ingest(path, f.Data)
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("Skipping file")
			fr.Err = err
			fr.Diagnostic = err.Error()
			fr.StoredPath = ""
			causes = append(causes, err)
			report.Files = append(report.Files, fr)
			s.deps.Metrics.CountUpload("rejected")
			continue
		}

		known[path] = true
		fr.Chunks = len(chunks)
		newChunks = append(newChunks, chunks...)
		added = append(added, Document{Name: f.Name, StoredPath: path, Chunks: len(chunks), AddedAt: time.Now().UTC()})
		report.Files = append(report.Files, fr)
	}
	s.deps.Metrics.ObserveStage(metrics.StageIngest, start)

	s.mu.RLock()
	cumulative := make([]models.Chunk, 0, len(s.chunks)+len(newChunks))
	cumulative = append(cumulative, s.chunks...)
	docCount := len(s.documents)
	s.mu.RUnlock()
	cumulative = append(cumulative, newChunks...)

	if len(newChunks) == 0 {
		report.Documents = docCount
		report.TotalChunks = len(cumulative)
		if s.index.Load() == nil {
			return report, &IndexEmptyError{Causes: causes}
		}
		return report, nil
	}

	start = time.Now()
	retriever, err := s.deps.BuildIndex(ctx, cumulative)
	s.deps.Metrics.ObserveStage(metrics.StageIndex, start)
	if err != nil {
		for _, d := range added {
			_ = os.Remove(d.StoredPath)
		}
		return report, fmt.Errorf("failed to build index: %w", err)
	}

	s.mu.Lock()
	s.documents = append(s.documents, added...)
	s.chunks = cumulative
	report.Documents = len(s.documents)
	s.mu.Unlock()

	s.index.Store(&snapshot{retriever: retriever, chunks: len(cumulative)})
	report.TotalChunks = len(cumulative)
	report.Rebuilt = true
	for range added {
		s.deps.Metrics.CountUpload("indexed")
	}
	s.deps.Metrics.SetIndexedChunks(len(cumulative))
	log.Info().Int("documents", report.Documents).Int("chunks", report.TotalChunks).Msg("Index rebuilt")
	return report, nil
}

// ingest writes the upload and parses it; failed files are removed again.
func (s *Session) ingest(path string, data []byte) ([]models.Chunk, error) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, &parser.IngestionError{File: path, Kind: parser.KindUnreadable, Err: err}
	}
	chunks, err := s.deps.Parser.Load(path)
	if err == nil && len(chunks) == 0 {
		err = &parser.IngestionError{File: path, Kind: parser.KindNoText}
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return chunks, nil
}

// Ask answers question from the current index, looks up evidence for each
// distinct candidate page and appends one history entry.
func (s *Session) Ask(ctx context.Context, question string) (models.Record, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		s.deps.Metrics.CountQuestion("rejected")
		return models.Record{}, ErrBlankQuestion
	}
	snap := s.index.Load()
	if snap == nil {
		s.deps.Metrics.CountQuestion("rejected")
		return models.Record{}, ErrNotIndexed
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	start := time.Now()
	resp, err := s.deps.Answerer.Query(ctx, snap.retriever, question, s.opts.TopK)
	s.deps.Metrics.ObserveStage(metrics.StageAnswer, start)
	if err != nil {
		s.deps.Metrics.CountQuestion("failed")
		return models.Record{}, err
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return models.Record{}, err
	}
	rec := models.Record{
		ID:         id,
		Question:   question,
		Answer:     resp.Content,
		Candidates: resp.Candidates,
		AskedAt:    time.Now().UTC(),
	}
	if isIDontKnow(resp.Content) {
		rec.Diagnostics = append(rec.Diagnostics, "no evidence lookup: the answer was not found in the documents")
	} else {
		rec.Evidence, rec.Diagnostics = s.collectEvidence(ctx, question, resp.Content, resp.Candidates)
	}

	if err := s.deps.History.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to record history")
		rec.Diagnostics = append(rec.Diagnostics, "history not saved: "+err.Error())
	}
	s.answered.Add(1)
	s.deps.Metrics.CountQuestion("answered")
	return rec, nil
}

func isIDontKnow(answer string) bool {
	a := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(answer), "."))
	return strings.EqualFold(a, models.IDontKnow)
}

func (s *Session) History(ctx context.Context) ([]models.Record, error) {
	return s.deps.History.List(ctx)
}

func (s *Session) Record(ctx context.Context, id string) (models.Record, error) {
	return s.deps.History.Get(ctx, id)
}

// EvidenceImage returns the highlighted PNG for the n-th evidence item of a
// history entry, rendering it again when the store kept no image.
func (s *Session) EvidenceImage(ctx context.Context, id string, n int) ([]byte, error) {
	rec, err := s.deps.History.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(rec.Evidence) {
		return nil, ErrNoEvidence
	}
	ev := rec.Evidence[n]
	if len(ev.Image) > 0 {
		return ev.Image, nil
	}
	start := time.Now()
	img, err := s.deps.Renderer.RenderBox(ev.Source, ev.PageNumber, ev.Box, s.opts.Zoom)
	s.deps.Metrics.ObserveStage(metrics.StageRender, start)
	return img, err
}

// PagePreview renders a page of an indexed document with every occurrence of
// text highlighted. name is either the uploaded file name or its stored name;
// the latest upload wins when two documents share a file name.
func (s *Session) PagePreview(name string, pageNumber int, text string) ([]byte, error) {
	path, ok := s.storedPath(name)
	if !ok {
		return nil, ErrNoDocument
	}
	start := time.Now()
	img, err := s.deps.Renderer.RenderText(path, pageNumber, text, s.opts.Zoom)
	s.deps.Metrics.ObserveStage(metrics.StageRender, start)
	return img, err
}

func (s *Session) storedPath(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.documents) - 1; i >= 0; i-- {
		doc := s.documents[i]
		if filepath.Base(doc.StoredPath) == name {
			return doc.StoredPath, true
		}
	}
	for i := len(s.documents) - 1; i >= 0; i-- {
		if s.documents[i].Name == name {
			return s.documents[i].StoredPath, true
		}
	}
	return "", false
}
