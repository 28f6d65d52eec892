package rag

import (
	"context"
	"fmt"
	"strings"

	"evidence-rag/internal/config"
	"evidence-rag/internal/llmservice"
	"evidence-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// Retriever returns the k chunks nearest to a query, most similar first.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]models.Chunk, error)
}

// TokenCounter reports the token length of text.
type TokenCounter func(text string) int

// RAG answers questions strictly from retrieved context.
type RAG struct {
	llm              llmservice.Generator
	topK             int
	maxContextTokens int
	temperature      float64
	countTokens      TokenCounter
}

type Option func(*RAG)

// WithTokenCounter replaces the tiktoken-based counter.
func WithTokenCounter(fn TokenCounter) Option {
	return func(r *RAG) { r.countTokens = fn }
}

func NewRAG(llm llmservice.Generator, model string, cfg *config.RAGConfig, temperature float64, opts ...Option) *RAG {
	r := &RAG{
		llm:              llm,
		topK:             cfg.TopK,
		maxContextTokens: cfg.MaxContextTokens,
		temperature:      temperature,
		countTokens: func(text string) int {
			return llms.CountTokens(model, text)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Query retrieves the top-k chunks for query and answers from them with a
// single completion call. Candidates are exactly the chunks in the context.
// A k of zero or less uses the configured top_k.
func (r *RAG) Query(ctx context.Context, retriever Retriever, query string, k int) (models.PromptResponse, error) {
	response := models.PromptResponse{Query: query}
	if k <= 0 {
		k = r.topK
	}

	docs, err := retriever.Search(ctx, query, k)
	if err != nil {
		return response, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(docs) == 0 {
		log.Warn().Str("query", query).Msg("No context retrieved")
		response.Content = models.IDontKnow
		return response, nil
	}

	docs = r.fitContext(query, docs)
	contents := make([]string, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content
	}
	prompt := BuildPrompt(strings.Join(contents, models.ContextSeparator), query)

	resp, err := r.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(r.temperature),
	)
	if err != nil {
		return response, fmt.Errorf("failed to answer: %w", err)
	}
	answer, err := llmservice.Text(resp)
	if err != nil {
		return response, fmt.Errorf("failed to answer: %w", err)
	}

	response.Content = strings.TrimSpace(answer)
	response.Candidates = docs
	log.Debug().Int("candidates", len(docs)).Msg("Composed answer")
	return response, nil
}

// BuildPrompt fills the answer template.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(models.AnswerPromptTemplate, context, question)
}

// fitContext drops trailing chunks once the prompt would exceed the token
// budget. The top-ranked chunk is always kept.
func (r *RAG) fitContext(query string, docs []models.Chunk) []models.Chunk {
	if r.maxContextTokens <= 0 || r.countTokens == nil {
		return docs
	}
	used := r.countTokens(BuildPrompt("", query))
	sep := r.countTokens(models.ContextSeparator)
	for i, doc := range docs {
		cost := r.countTokens(doc.Content)
		if i > 0 {
			cost += sep
		}
		if i > 0 && used+cost > r.maxContextTokens {
			log.Warn().Int("kept", i).Int("dropped", len(docs)-i).Int("budget", r.maxContextTokens).Msg("Context truncated to fit token budget")
			return docs[:i]
		}
		used += cost
	}
	return docs
}
