package main

import (
	"context"
	"fmt"
	"time"

	"evidence-rag/internal/chromemdb"
	"evidence-rag/internal/config"
	"evidence-rag/internal/db"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/history"
	"evidence-rag/internal/llmservice"
	"evidence-rag/internal/metrics"
	"evidence-rag/internal/models"
	"evidence-rag/internal/parser"
	"evidence-rag/internal/rag"
	"evidence-rag/internal/session"
	"evidence-rag/internal/snapshot"
	"evidence-rag/internal/vision"

	"github.com/rs/zerolog/log"
)

type application struct {
	session *session.Session
	metrics *metrics.Metrics
	store   *db.HistoryStore // nil with the memory driver
}

func (a *application) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

// buildApp constructs every collaborator once and injects it into the
// session.
func buildApp(ctx context.Context, cfg *config.Config, uploadDir string) (*application, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second

	embedder, err := embedding.NewEmbedder(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	chat, err := llmservice.NewChatClient(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	visionLLM, err := llmservice.NewVisionClient(&cfg.LLM)
	if err != nil {
		return nil, err
	}

	docParser := parser.NewParser(cfg)
	raster := snapshot.NewFitzRasterizer()
	m := metrics.New()
	app := &application{metrics: m}

	var store history.Store
	switch cfg.History.Driver {
	case config.HistoryPostgres:
		sqldb, err := db.ConnectDB(&cfg.History.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		bunDB := db.NewDB(sqldb, cfg.History.Database.Debug)
		app.store = db.NewHistoryStore(bunDB)
		if err := db.InitDB(ctx, bunDB); err != nil {
			app.Close()
			return nil, err
		}
		store = app.store
	default:
		store = history.NewMemory(cfg.History.Capacity)
	}

	sess, err := session.New(session.Options{
		UploadDir: uploadDir,
		TopK:      cfg.RAG.TopK,
		Zoom:      cfg.Evidence.Zoom,
		Workers:   cfg.Evidence.Workers,
		Verify:    cfg.Evidence.Verify,
	}, session.Deps{
		Parser: docParser,
		BuildIndex: func(ctx context.Context, chunks []models.Chunk) (rag.Retriever, error) {
			return chromemdb.Build(ctx, embedder, chunks, timeout)
		},
		Answerer: rag.NewRAG(chat, chat.Model(), &cfg.RAG, cfg.LLM.Temperature),
		Locator:  vision.NewLocator(raster, visionLLM, cfg.Evidence.Zoom),
		Renderer: snapshot.NewRenderer(raster, docParser),
		Verifier: vision.NewVerifier(visionLLM),
		History:  store,
		Metrics:  m,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.session = sess
	return app, nil
}
