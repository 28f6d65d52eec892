package models

import "time"

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"` // 1-based
	ChunkID    int    `json:"chunk_id"`
}

// PromptResponse is what the answer composer hands back: the raw completion
// and the chunks that formed its context.
type PromptResponse struct {
	Query      string  `json:"query"`
	Content    string  `json:"answer"`
	Candidates []Chunk `json:"candidates"`
}

// Box is a rectangle in unscaled page space (PDF points, origin top-left).
type Box struct {
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	Confidence float64 `json:"confidence"`
}

// Scale returns the box scaled component-wise by zoom. Confidence is kept.
func (b Box) Scale(zoom float64) Box {
	return Box{
		X0:         b.X0 * zoom,
		Y0:         b.Y0 * zoom,
		X1:         b.X1 * zoom,
		Y1:         b.Y1 * zoom,
		Confidence: b.Confidence,
	}
}

// Verdict is the vision model's judgement of a highlighted snapshot.
type Verdict struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason"`
}

// Evidence is one located region that is claimed to support an answer.
type Evidence struct {
	Source     string   `json:"source"`
	PageNumber int      `json:"page_number"`
	Box        Box      `json:"box"`
	Confidence float64  `json:"confidence"`
	Verdict    *Verdict `json:"verdict,omitempty"`
	// Image is the highlighted PNG. It is only cached in memory.
	Image []byte `json:"-"`
}

// Record is one entry of the question history.
type Record struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Candidates  []Chunk    `json:"candidates"`
	Evidence    []Evidence `json:"evidence"`
	Diagnostics []string   `json:"diagnostics,omitempty"`
	AskedAt     time.Time  `json:"asked_at"`
}
