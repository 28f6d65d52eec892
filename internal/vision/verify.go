package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evidence-rag/internal/llmservice"
	"evidence-rag/internal/models"

	"github.com/tmc/langchaingo/llms"
)

const verifyMaxTokens = 150

var ErrUnrecognisedVerdict = errors.New("verdict is neither SUPPORTED nor NOT SUPPORTED")

// Verifier asks the vision model whether a highlighted snapshot backs the
// answer.
type Verifier struct {
	llm llmservice.Generator
}

func NewVerifier(llm llmservice.Generator) *Verifier {
	return &Verifier{llm: llm}
}

// Verify sends the highlighted PNG with the question and answer.
func (v *Verifier) Verify(ctx context.Context, highlighted []byte, question, answer string) (models.Verdict, error) {
	prompt := fmt.Sprintf(models.VerifyPromptTemplate, question, answer)
	resp, err := v.llm.GenerateContent(ctx,
		[]llms.MessageContent{imageMessage(prompt, highlighted)},
		llms.WithTemperature(0),
		llms.WithMaxTokens(verifyMaxTokens),
	)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to verify evidence: %w", err)
	}
	reply, err := llmservice.Text(resp)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to verify evidence: %w", err)
	}
	return ParseVerdict(reply)
}

// ParseVerdict reads "SUPPORTED: reason" or "NOT SUPPORTED: reason",
// tolerating case, markdown emphasis and a leading list marker.
func ParseVerdict(reply string) (models.Verdict, error) {
	s := strings.TrimSpace(reply)
	s = strings.TrimLeft(s, "-*• ")

	var supported bool
	var rest string
	switch {
	case hasPrefixFold(s, "NOT SUPPORTED"):
		rest = s[len("NOT SUPPORTED"):]
	case hasPrefixFold(s, "SUPPORTED"):
		supported = true
		rest = s[len("SUPPORTED"):]
	default:
		return models.Verdict{}, fmt.Errorf("%w: %q", ErrUnrecognisedVerdict, reply)
	}

	rest = strings.TrimLeft(rest, "*: \t")
	return models.Verdict{Supported: supported, Reason: strings.TrimSpace(rest)}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
