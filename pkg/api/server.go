// Package api provides the HTTP diagnostics API of the node
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/ZentaChain/gnutella-vmsg/pkg/proxy"
	"github.com/ZentaChain/gnutella-vmsg/pkg/stats"
	"github.com/ZentaChain/gnutella-vmsg/pkg/tsync"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Sources are the components the API reports on. Nil ones are skipped.
type Sources struct {
	Registry *vmsg.Registry
	Stats    *stats.Collector
	Pool     *network.Pool
	TimeSync *tsync.Estimator
	Clock    *tsync.Clock
	Proxies  *proxy.Table
	Gatherer prometheus.Gatherer
}

// Config holds server configuration
type Config struct {
	Listen       string
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the diagnostics HTTP server
type Server struct {
	src        Sources
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates the server and its routes
func NewServer(src Sources, config *Config, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if src.Registry == nil {
		src.Registry = vmsg.DefaultRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		src:    src,
		router: gin.New(),
		config: config,
		logger: logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	}
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/registry", s.handleRegistry)
		v1.GET("/infostr/:payload", s.handleInfoString)
		v1.GET("/stats", s.handleStats)
		v1.GET("/nodes", s.handleNodes)
		v1.GET("/nodes/:id", s.handleNode)
		v1.GET("/tsync", s.handleTimeSync)
		v1.GET("/proxies", s.handleProxies)
	}

	if s.src.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.src.Gatherer, promhttp.HandlerOpts{})))
	}

	s.router.GET("/health", s.handleHealth)
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API server starting", zap.String("listen", s.config.Listen))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
