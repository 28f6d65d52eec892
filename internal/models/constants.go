package models

const (
	ContextSeparator = "\n\n"
	DefaultZoom      = 2.0
	IDontKnow        = "I don't know"

	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"
)

var (
	AnswerPromptTemplate = `You are a helpful assistant.
Answer the question using ONLY the context below.
If the answer is not in the context, say "` + IDontKnow + `".

Context:
%s

Question:
%s
`

	// page width, page height, question, answer
	LocatePromptTemplate = `You are an audit assistant.

The document page is %.0f points wide and %.0f points tall. Give every
coordinate in those page points, origin at the top-left corner.

The user asked:
%s

The system answered:
%s

Look at the document image and identify the EXACT visual region
that proves the answer.

Return ONLY a JSON object in this exact format:
{
  "x0": number,
  "y0": number,
  "x1": number,
  "y1": number,
  "confidence": number
}

Rules:
- Do NOT explain
- Do NOT add text
- Do NOT wrap in markdown
`

	VerifyPromptTemplate = `You are an audit verification assistant.

Question: %s
Answer given: %s

Check whether the highlighted document image visually supports the answer.

Reply strictly in one of the following formats:
- SUPPORTED: <short reason>
- NOT SUPPORTED: <short reason>`
)
