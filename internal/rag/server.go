package ragsvc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/pkg/infra/middleware"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

// Server represents the RAG server.
type Server struct {
	cfg        *Config
	components *Components
	engine     *gin.Engine
	http       *http.Server
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	components, err := cfg.NewComponents(ctx)
	if err != nil {
		return nil, err
	}

	gin.SetMode(cfg.HTTPOptions.Mode)
	validator.InstallGin()
	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.Logger(),
		middleware.BodyLimit(cfg.HTTPOptions.MaxBodyBytes),
		middleware.Timeout(cfg.RAGOptions.RequestTimeout, "/metrics", "/healthz"),
	)

	h := handler.NewRAGHandler(components.Service, components.Metrics, components.Checks)
	router.Register(engine, h)

	return &Server{
		cfg:        cfg,
		components: components,
		engine:     engine,
		http: &http.Server{
			Addr:         cfg.HTTPOptions.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
			WriteTimeout: cfg.HTTPOptions.WriteTimeout,
			IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
		},
	}, nil
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server and blocks until ctx is cancelled or the listener fails.
// 退出前等待在途请求完成，然后释放全部组件。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		_ = s.components.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	s.http.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server started", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down RAG server...")
	case runErr = <-serveErr:
		logger.Errorw("HTTP server stopped unexpectedly", "error", runErr)
	}

	return s.shutdown(runErr)
}

func (s *Server) shutdown(runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTPOptions.ShutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.components.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	err := utilerrors.NewAggregate(errs)
	if err == nil {
		logger.Info("RAG server stopped")
	}
	return err
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  HTTP: %s (%s)\n", cfg.HTTPOptions.Addr, cfg.HTTPOptions.Mode)
	fmt.Printf("  Metadata: %s\n", cfg.DatabaseOptions.Driver)
	fmt.Printf("  Vectors: %s\n", cfg.VectorOptions.Backend)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
}
