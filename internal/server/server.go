// Package server exposes the conversion tools over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"bitgremlin/internal/config"
	"bitgremlin/internal/imagetool"
	"bitgremlin/internal/logging"
	"bitgremlin/internal/media"
	"bitgremlin/internal/pdftool"
	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/removebg"
	"bitgremlin/internal/youtube"
)

// statusClientClosed is logged for requests whose client went away.
const statusClientClosed = 499

// Server wires the tool services to their routes.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	acceptor *pipeline.Acceptor
	locator  *pipeline.Locator
	runner   *pipeline.Runner
	remover  removebg.Remover

	media   *media.Service
	images  *imagetool.Service
	pdf     *pdftool.Service
	youtube *youtube.Service
}

// Option customizes a Server.
type Option func(*Server)

// WithLocator replaces the tool locator.
func WithLocator(l *pipeline.Locator) Option {
	return func(s *Server) { s.locator = l }
}

// WithRunner replaces the process runner.
func WithRunner(r *pipeline.Runner) Option {
	return func(s *Server) { s.runner = r }
}

// WithRemover replaces the background-removal backend.
func WithRemover(r removebg.Remover) Option {
	return func(s *Server) { s.remover = r }
}

// New builds a server from cfg.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		acceptor: pipeline.NewAcceptor(pipeline.Limits{
			MaxUploadBytes: cfg.Limits.MaxUploadBytes,
			MaxParamLength: cfg.Limits.MaxParamLength,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.locator == nil {
		s.locator = pipeline.NewLocator(cfg.Tools, config.ToolEnv)
	}
	if s.runner == nil {
		s.runner = pipeline.NewRunner()
	}
	if s.remover == nil {
		r, err := removebg.New(removebg.Config{
			Backend:        cfg.RemoveBG.Backend,
			RembgURL:       cfg.RemoveBG.RembgURL,
			ReplicateToken: cfg.RemoveBG.ReplicateToken,
			ReplicateModel: cfg.RemoveBG.ReplicateModel,
			PollInterval:   cfg.RemoveBG.PollInterval,
			MaxPolls:       cfg.RemoveBG.MaxPolls,
		}, nil)
		if err != nil {
			return nil, err
		}
		s.remover = r
	}

	s.media = media.NewService(s.locator, s.runner, cfg.WorkDir)
	s.images = imagetool.NewService(imagetool.NewWebPEncoder(s.locator, s.runner, cfg.WorkDir))
	s.pdf = pdftool.NewService(s.locator, s.runner, cfg.WorkDir)
	s.youtube = youtube.NewService(s.locator, s.runner)
	return s, nil
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.Middleware(s.logger), logging.Recoverer(), noStore())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("/tools", s.handleTools)
	api.POST("/convert", s.handleConvert)
	api.POST("/process", s.handleProcess)
	api.POST("/image-tools", s.handleImageTools)
	api.POST("/remove-bg", s.handleRemoveBG)
	api.POST("/yt", s.handleYouTube)

	pdf := api.Group("/pdf")
	pdf.POST("/merge", s.handlePDFMerge)
	pdf.POST("/split", s.handlePDFSplit)
	pdf.POST("/compress", s.handlePDFCompress)
	pdf.POST("/text", s.handlePDFText)
	pdf.POST("/sign", s.handlePDFSign)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			"Content-Disposition",
			logging.RequestIDHeader,
			pdftool.WarningsHeader,
			removebg.BackendHeader,
		},
	})
	return c.Handler(r)
}

func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// withTimeout bounds the request context by the timeout of an operation class.
func withTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), d)
}

// fail answers with a plain-text error. Nothing is written for a client that went
// away.
func fail(c *gin.Context, err error) {
	status := logError(c, err)
	if status == statusClientClosed {
		c.Status(status)
		c.Abort()
		return
	}
	c.String(status, pipeline.Message(err))
}

// failJSON answers with {"error": "..."}.
func failJSON(c *gin.Context, err error) {
	status := logError(c, err)
	if status == statusClientClosed {
		c.Status(status)
		c.Abort()
		return
	}
	c.JSON(status, gin.H{"error": pipeline.Message(err)})
}

func logError(c *gin.Context, err error) int {
	status := pipeline.StatusCode(err)
	logger := zerolog.Ctx(c.Request.Context())
	evt := logger.Debug()
	if status >= http.StatusInternalServerError {
		evt = logger.Warn()
	}
	evt.Err(err).Int("status", status).Msg("request failed")
	return status
}

// send writes a result. A failure while copying can only be logged: the status is
// already out.
func send(c *gin.Context, res *pipeline.Result) {
	if err := res.Write(c.Writer); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("response interrupted")
	}
}

// multipart parses the request form. The caller closes it.
func (s *Server) multipart(c *gin.Context) (*pipeline.Form, bool) {
	form, err := s.acceptor.Multipart(c.Writer, c.Request)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return form, true
}
