package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"slices"

	"evidence-rag/internal/models"
	"evidence-rag/internal/session"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html
var templateFS embed.FS

type renderer struct {
	templates *template.Template
}

func newRenderer() *renderer {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	funcs := template.FuncMap{
		"markdown": func(src string) template.HTML { return renderMarkdown(md, src) },
		"percent":  func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
		"base":     filepath.Base,
	}
	return &renderer{
		templates: template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")),
	}
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// renderMarkdown converts model output to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
func renderMarkdown(md goldmark.Markdown, src string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		log.Warn().Err(err).Msg("Markdown conversion failed")
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

type pageData struct {
	State     string
	CanAsk    bool
	Documents []session.Document
	Chunks    int
	Report    *session.UploadReport
	Current   *models.Record
	History   []models.Record
	Error     string
}

func (s *Server) page(c echo.Context, status int, data pageData) error {
	data.State = s.app.State().String()
	data.CanAsk = s.app.State() != session.StateEmpty
	data.Documents = s.app.Documents()
	data.Chunks = s.app.ChunkCount()

	list, err := s.app.History(c.Request().Context())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load history")
	}
	// newest first in the sidebar
	data.History = slices.Clone(list)
	slices.Reverse(data.History)
	return c.Render(status, "index.html", data)
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.page(c, http.StatusOK, pageData{})
}

func (s *Server) handleUploadForm(c echo.Context) error {
	files, err := s.readFiles(c)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return s.page(c, he.Code, pageData{Error: fmt.Sprint(he.Message)})
		}
		return err
	}
	report, err := s.app.Upload(c.Request().Context(), files)
	data := pageData{Report: &report}
	if err != nil {
		data.Error = err.Error()
		var empty *session.IndexEmptyError
		if errors.As(err, &empty) {
			return s.page(c, http.StatusUnprocessableEntity, data)
		}
		return s.page(c, http.StatusInternalServerError, data)
	}
	return s.page(c, http.StatusOK, data)
}

func (s *Server) handleAskForm(c echo.Context) error {
	question := c.FormValue("question")
	rec, err := s.app.Ask(c.Request().Context(), question)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(askError(err), &he) {
			return s.page(c, he.Code, pageData{Error: err.Error()})
		}
		return err
	}
	return s.page(c, http.StatusOK, pageData{Current: &rec})
}
