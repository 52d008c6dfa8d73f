// Package app wires the vibewatch service together and manages its lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	grpcapi "github.com/vibewatch/vibewatch/internal/api/grpc"
	httpapi "github.com/vibewatch/vibewatch/internal/api/http"
	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/notify"
	"github.com/vibewatch/vibewatch/internal/observability"
	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/internal/retention"
	"github.com/vibewatch/vibewatch/internal/server"
	"github.com/vibewatch/vibewatch/internal/storage"
)

// App manages the vibewatch service lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// Shared resources
	storage   storage.ObjectStorage
	catalog   *manifest.SQLiteCatalog
	publisher notify.Publisher
	metrics   *observability.Metrics
	runner    *pipeline.Runner
	shutdown  *server.ShutdownManager

	// Surfaces
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	health       *health.Server
	daemon       *retention.Daemon

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}, nil
}

// Start initializes shared resources and starts the configured surfaces.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.Retention.ReconcileOnStart {
		if _, err := retention.Reconcile(ctx, a.runner, a.logger); err != nil {
			a.logger.Warn("startup reconciliation failed", zap.Error(err))
		}
	}
	if a.cfg.Retention.Interval > 0 {
		a.daemon = retention.NewDaemon(a.cfg.Retention, a.runner, a.logger)
		if err := a.daemon.Start(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start retention daemon: %w", err)
		}
	}

	if a.cfg.ShouldRunHTTP() {
		if err := a.startHTTP(); err != nil {
			a.Stop(context.Background())
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	if a.cfg.ShouldRunGRPC() {
		if err := a.startGRPC(); err != nil {
			a.Stop(context.Background())
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	a.logger.Info("vibewatch started",
		zap.String("mode", string(a.cfg.Mode)),
		zap.String("storage", a.cfg.Storage.Type),
		zap.String("data_dir", a.cfg.DataDir))
	return nil
}

// NewStorage creates the object store selected by cfg.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		if cfg.S3.Endpoint != "" {
			s3Cfg.Endpoint = cfg.S3.Endpoint
			s3Cfg.UsePathStyle = true
		}
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.storage, err = NewStorage(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath())
	if err != nil {
		return fmt.Errorf("failed to open run catalog: %w", err)
	}

	a.metrics = observability.NewMetrics()
	a.publisher = notify.New(a.cfg.Notify, a.logger)
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig(), a.logger)

	a.runner, err = pipeline.NewRunner(pipeline.Options{
		Storage:   a.storage,
		Catalog:   a.catalog,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Stats:     observability.NewProblemStats(a.cfg.Retention.StatsWindow),
		Logger:    a.logger,
		Config:    a.cfg.Pipeline,
	})
	if err != nil {
		return err
	}

	// Seed the gauges and problem statistics from the latest run.
	if latest, err := a.runner.Latest(ctx); err == nil {
		a.metrics.SetLatest(latest.Run.EmployeeCount, latest.Run.FlaggedCount)
		a.runner.Stats().Record(latest.Flagged)
	}
	return nil
}

func (a *App) startHTTP() error {
	router := httpapi.NewRouter(a.runner, a.metrics, httpapi.RouterConfig{
		MaxUploadBytes: a.cfg.HTTP.MaxUploadMB << 20,
	}, a.logger)

	a.httpServer = &http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(router),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	var err error
	a.httpListener, err = net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}

	a.shutdown.RegisterCloser("http", server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", zap.String("addr", a.httpListener.Addr().String()))
		if err := a.httpServer.Serve(a.httpListener); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// trackUnary counts gRPC calls as in flight for graceful shutdown.
func (a *App) trackUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !a.shutdown.TrackRequest() {
		return nil, status.Error(codes.Unavailable, "shutting down")
	}
	defer a.shutdown.UntrackRequest()
	return handler(ctx, req)
}

func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(a.trackUnary))
	grpcapi.RegisterPipelineServer(a.grpcServer, grpcapi.NewServer(a.runner, a.logger))

	a.health = health.NewServer()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, a.health)

	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.shutdown.OnShutdownStart(a.health.Shutdown)
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC server listening", zap.String("addr", a.grpcListener.Addr().String()))
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			a.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" when HTTP is not running.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is not running.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Stop drains in-flight requests, stops the surfaces and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	// No-op when a signal already triggered the shutdown.
	if a.shutdown != nil {
		if err := a.shutdown.Shutdown(ctx, "stop requested"); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}

	if a.daemon != nil {
		a.daemon.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()
	a.logger.Info("vibewatch stopped")
	return nil
}

func (a *App) cleanup() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("alert publisher close error", zap.Error(err))
		}
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}

// WaitForShutdown blocks until SIGTERM, SIGINT or ctx cancellation, then
// stops the app.
func (a *App) WaitForShutdown(ctx context.Context) error {
	if err := a.shutdown.ListenForSignals(ctx); err != nil {
		a.logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	return a.Stop(context.Background())
}
