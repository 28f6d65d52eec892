package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"evidence-rag/internal/config"
	"evidence-rag/internal/history"
	"evidence-rag/internal/metrics"
	"evidence-rag/internal/models"
	"evidence-rag/internal/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// App is the session surface the server drives.
type App interface {
	Upload(ctx context.Context, files []session.File) (session.UploadReport, error)
	Ask(ctx context.Context, question string) (models.Record, error)
	History(ctx context.Context) ([]models.Record, error)
	Record(ctx context.Context, id string) (models.Record, error)
	EvidenceImage(ctx context.Context, id string, n int) ([]byte, error)
	PagePreview(name string, pageNumber int, text string) ([]byte, error)
	Documents() []session.Document
	State() session.State
	ChunkCount() int
}

// Pinger is implemented by backing stores the health check should probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo    *echo.Echo
	app     App
	metrics *metrics.Metrics
	pinger  Pinger
	cfg     *config.ServerConfig
}

type Option func(*Server)

// WithPinger adds a dependency to the health check.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

func NewServer(app App, m *metrics.Metrics, cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	if app == nil {
		return nil, errors.New("app cannot be nil")
	}
	if cfg == nil {
		cfg = &config.Default().Server
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()

	s := &Server{echo: e, app: app, metrics: m, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	}
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status

		log.Info().
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("http request")
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.POST("/upload", s.handleUploadForm)
	s.echo.POST("/ask", s.handleAskForm)

	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/documents", s.handleDocuments)
	v1.POST("/documents", s.handleUpload)
	v1.GET("/documents/:name/pages/:page", s.handlePagePreview)
	v1.POST("/questions", s.handleAsk)
	v1.GET("/history", s.handleHistory)
	v1.GET("/history/:id", s.handleRecord)
	v1.GET("/history/:id/evidence/:n", s.handleEvidence)
}

// ServeHTTP lets tests and other muxes drive the server directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", State: s.app.State().String()}
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type DocumentsResponse struct {
	State     string             `json:"state"`
	Chunks    int                `json:"chunks"`
	Documents []session.Document `json:"documents"`
}

func (s *Server) handleDocuments(c echo.Context) error {
	return c.JSON(http.StatusOK, DocumentsResponse{
		State:     s.app.State().String(),
		Chunks:    s.app.ChunkCount(),
		Documents: s.app.Documents(),
	})
}

type UploadResponse struct {
	session.UploadReport
	Error string `json:"error,omitempty"`
}

func (s *Server) handleUpload(c echo.Context) error {
	files, err := s.readFiles(c)
	if err != nil {
		return err
	}
	report, err := s.app.Upload(c.Request().Context(), files)
	var empty *session.IndexEmptyError
	switch {
	case errors.As(err, &empty):
		return c.JSON(http.StatusUnprocessableEntity, UploadResponse{UploadReport: report, Error: err.Error()})
	case err != nil:
		log.Error().Err(err).Msg("Upload failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, UploadResponse{UploadReport: report})
}

func (s *Server) readFiles(c echo.Context) ([]session.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "expected multipart form with one or more files")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}
	files := make([]session.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", fh.Filename, err))
		}
		files = append(files, session.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type AskRequest struct {
	Question string `json:"question" form:"question"`
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.app.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return askError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func askError(err error) error {
	switch {
	case errors.Is(err, session.ErrBlankQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotIndexed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	log.Error().Err(err).Msg("Question failed")
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func (s *Server) handleHistory(c echo.Context) error {
	list, err := s.app.History(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if list == nil {
		list = []models.Record{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleRecord(c echo.Context) error {
	rec, err := s.app.Record(c.Request().Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleEvidence(c echo.Context) error {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "evidence index must be a number")
	}
	img, err := s.app.EvidenceImage(c.Request().Context(), c.Param("id"), n)
	switch {
	case errors.Is(err, history.ErrNotFound), errors.Is(err, session.ErrNoEvidence):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		log.Warn().Err(err).Str("id", c.Param("id")).Int("n", n).Msg("Evidence render failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return c.Blob(http.StatusOK, "image/png", img)
}

// handlePagePreview renders a document page, highlighting ?text= when given.
func (s *Server) handlePagePreview(c echo.Context) error {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "page must be a positive number")
	}
	img, err := s.app.PagePreview(c.Param("name"), page, c.QueryParam("text"))
	switch {
	case errors.Is(err, session.ErrNoDocument):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		log.Warn().Err(err).Str("name", c.Param("name")).Int("page", page).Msg("Page preview failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "image/png", img)
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("Starting http server")
	return s.echo.Start(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down http server")
	return s.echo.Shutdown(ctx)
}
