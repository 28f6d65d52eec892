package parser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"evidence-rag/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePDF builds a minimal single-font PDF with one page per entry. An
// empty entry yields a page with no text operators.
func writePDF(t *testing.T, dir, name string, pages []string) string {
	t.Helper()

	widths := strings.TrimSpace(strings.Repeat("500 ", 95))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled below
		fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths),
	}
	var kids []string
	for _, text := range pages {
		content := "q Q"
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
		contentRef := len(objects)
		objects = append(objects, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>", contentRef))
		kids = append(kids, fmt.Sprintf("%d 0 R", len(objects)))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := NewParser(nil)

	t.Run("text pages become chunks", func(t *testing.T) {
		path := writePDF(t, dir, "payslip.pdf", []string{"Gross salary 5000", "", "Net salary 4200"})

		chunks, err := p.Load(path)
		require.NoError(t, err)
		require.Len(t, chunks, 2)

		assert.Contains(t, chunks[0].Content, "Gross salary 5000")
		assert.Equal(t, 1, chunks[0].PageNumber)
		assert.Equal(t, path, chunks[0].Source)
		assert.Equal(t, 1, chunks[0].ChunkID)

		assert.Contains(t, chunks[1].Content, "Net salary 4200")
		assert.Equal(t, 3, chunks[1].PageNumber)
		assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
	})

	t.Run("no text layer", func(t *testing.T) {
		path := writePDF(t, dir, "scan.pdf", []string{"", ""})

		_, err := p.Load(path)
		var ierr *IngestionError
		require.True(t, errors.As(err, &ierr))
		assert.Equal(t, KindNoText, ierr.Kind)
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(dir, "junk.pdf")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a pdf"), 0o644))

		_, err := p.Load(path)
		var ierr *IngestionError
		require.True(t, errors.As(err, &ierr))
		assert.Equal(t, KindUnreadable, ierr.Kind)
	})

	t.Run("wrong extension", func(t *testing.T) {
		_, err := p.Load(filepath.Join(dir, "notes.docx"))
		var ierr *IngestionError
		require.True(t, errors.As(err, &ierr))
		assert.Contains(t, ierr.Error(), "unsupported file format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := p.Load(filepath.Join(dir, "gone.pdf"))
		var ierr *IngestionError
		require.True(t, errors.As(err, &ierr))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGetChunks(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.ChunkSize = 200
	cfg.RAG.ChunkOverlap = 30
	p := NewParser(cfg)

	text := strings.Repeat("The quarterly audit found no material misstatement. ", 20)
	chunks, err := p.getChunks("/tmp/audit.pdf", text, 7)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 200)
		assert.Equal(t, 7, c.PageNumber)
		assert.Equal(t, i+1, c.ChunkID)
		assert.Equal(t, fmt.Sprintf("audit.pdf#p7-c%d", i+1), c.ID)
	}

	t.Run("blank page", func(t *testing.T) {
		chunks, err := p.getChunks("/tmp/audit.pdf", "  \n\t ", 1)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestIngestionErrorMessage(t *testing.T) {
	err := &IngestionError{File: "/data/uploads/abc-report.pdf", Kind: KindEncrypted, Err: errors.New("bad password")}
	assert.Equal(t, "abc-report.pdf: encrypted: bad password", err.Error())
	assert.Equal(t, "scan.pdf: no extractable text", (&IngestionError{File: "scan.pdf", Kind: KindNoText}).Error())
}
