// Package main implements the vibewatch service binary.
// It serves the pipeline over HTTP and gRPC, or over one of them based on
// the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/app"
	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		grpcAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, http, grpc")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vibewatch - employee distress detection service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: vibewatch [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vibewatch --data-dir /data/vibewatch\n")
		fmt.Fprintf(os.Stderr, "  vibewatch --mode http --http-addr :8080\n")
		fmt.Fprintf(os.Stderr, "  vibewatch --config /etc/vibewatch/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_MODE           Service mode (all, http, grpc)\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_HTTP_ADDR      HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_GRPC_ADDR      gRPC listen address\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_STORAGE_TYPE   Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  VIBEWATCH_KAFKA_BROKERS  Comma-separated brokers for alerts\n")
		fmt.Fprintf(os.Stderr, "\nVariables are also read from a .env file in the working directory.\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("vibewatch version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr, grpcAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting vibewatch",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("mode", string(cfg.Mode)),
		zap.String("data_dir", cfg.DataDir),
		zap.String("storage", cfg.Storage.Type),
		zap.Duration("retention_ttl", cfg.Retention.TTL))

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and finally
// command line flags.
func loadConfig(configFile, dataDir, mode, httpAddr, grpcAddr string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}

	return cfg, nil
}
