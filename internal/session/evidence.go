package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"evidence-rag/internal/metrics"
	"evidence-rag/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type pageKey struct {
	source string
	page   int
}

type lookup struct {
	evidence *models.Evidence
	diags    []string
}

// distinctPages keeps the first candidate for every (source, page) pair, in
// rank order.
func distinctPages(candidates []models.Chunk) []pageKey {
	seen := make(map[pageKey]bool, len(candidates))
	var keys []pageKey
	for _, c := range candidates {
		k := pageKey{source: c.Source, page: c.PageNumber}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// collectEvidence runs one lookup per distinct candidate page on a bounded
// pool. A failed lookup only adds a diagnostic.
func (s *Session) collectEvidence(ctx context.Context, question, answer string, candidates []models.Chunk) ([]models.Evidence, []string) {
	keys := distinctPages(candidates)
	results := make([]lookup, len(keys))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, k := range keys {
		g.Go(func() error {
			results[i] = s.lookupEvidence(ctx, k, question, answer)
			return nil
		})
	}
	_ = g.Wait()

	var evidence []models.Evidence
	var diags []string
	for _, r := range results {
		if r.evidence != nil {
			evidence = append(evidence, *r.evidence)
		}
		diags = append(diags, r.diags...)
	}
	return evidence, diags
}

func (s *Session) lookupEvidence(ctx context.Context, k pageKey, question, answer string) lookup {
	label := fmt.Sprintf("%s p.%d", filepath.Base(k.source), k.page)
	logger := log.With().Str("file", k.source).Int("page", k.page).Logger()

	start := time.Now()
	box, err := s.deps.Locator.Locate(ctx, k.source, k.page, question, answer)
	s.deps.Metrics.ObserveStage(metrics.StageLocate, start)
	if err != nil {
		logger.Warn().Err(err).Msg("Evidence lookup failed")
		s.deps.Metrics.CountEvidence("locator_error")
		return lookup{diags: []string{label + ": " + err.Error()}}
	}

	ev := &models.Evidence{
		Source:     k.source,
		PageNumber: k.page,
		Box:        box,
		Confidence: box.Confidence,
	}
	res := lookup{evidence: ev}
	s.deps.Metrics.CountEvidence("located")

	start = time.Now()
	img, err := s.deps.Renderer.RenderBox(k.source, k.page, box, s.opts.Zoom)
	s.deps.Metrics.ObserveStage(metrics.StageRender, start)
	if err != nil {
		logger.Warn().Err(err).Msg("Highlight render failed")
		s.deps.Metrics.CountEvidence("render_error")
		res.diags = append(res.diags, label+": "+err.Error())
		return res
	}
	ev.Image = img

	if s.opts.Verify && s.deps.Verifier != nil {
		start = time.Now()
		verdict, err := s.deps.Verifier.Verify(ctx, img, question, answer)
		s.deps.Metrics.ObserveStage(metrics.StageVerify, start)
		if err != nil {
			logger.Warn().Err(err).Msg("Evidence verification failed")
			s.deps.Metrics.CountEvidence("verify_error")
			res.diags = append(res.diags, label+": verification failed: "+err.Error())
			return res
		}
		ev.Verdict = &verdict
		if verdict.Supported {
			s.deps.Metrics.CountEvidence("supported")
		} else {
			s.deps.Metrics.CountEvidence("not_supported")
		}
	}
	return res
}
