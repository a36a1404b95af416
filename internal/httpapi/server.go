// Package httpapi exposes the outbound-delivery HTTP boundary: the
// send-message endpoint, the log viewer page, and the status view.
package httpapi

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/supervisor"
	"github.com/zulandar/switchboard/internal/transport"
)

//go:embed templates/*.html
var templatesFS embed.FS

// StatusFunc reports the current session status for the log page and
// status view.
type StatusFunc func() supervisor.Status

// Server is the gateway's HTTP boundary.
type Server struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
	status   StatusFunc
	adapter  transport.Adapter
	digest   config.DigestConfig
	logger   *zap.Logger
	logPath  string
	port     int
	out      io.Writer
	router   *gin.Engine
}

// Opts holds parameters for creating a Server.
type Opts struct {
	DB       *gorm.DB
	Pipeline *pipeline.Pipeline
	Status   StatusFunc // session status source; defaults to always-disconnected
	Adapter  transport.Adapter
	Digest   config.DigestConfig
	Logger   *zap.Logger
	LogPath  string // file served by GET /logs
	Port     int    // defaults to 8000
	Out      io.Writer
}

// New creates a Server with all routes registered.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("httpapi: db is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("httpapi: pipeline is required")
	}
	if opts.Status == nil {
		opts.Status = func() supervisor.Status { return supervisor.StatusDisconnected }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Port <= 0 {
		opts.Port = 8000
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	s := &Server{
		db:       opts.DB,
		pipeline: opts.Pipeline,
		status:   opts.Status,
		adapter:  opts.Adapter,
		digest:   opts.Digest,
		logger:   opts.Logger,
		logPath:  opts.LogPath,
		port:     opts.Port,
		out:      opts.Out,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

// Run launches the HTTP server and the digest scheduler. It blocks until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.runDigestScheduler(ctx)

	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Servidor rodando na porta %d\n", s.port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
