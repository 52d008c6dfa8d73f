// Package main implements vibewatch-detect, which scores a master feature
// table and writes the ranked distress summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/detect"
	"github.com/vibewatch/vibewatch/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("vibewatch-detect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vibewatch-detect [options] <input_csv> <output_csv>\n\n")
		fs.PrintDefaults()
	}

	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	timeout := fs.Duration("timeout", 10*time.Minute, "Abort detection after this long")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return 2
	}
	input, output := fs.Arg(0), fs.Arg(1)

	logger, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(stderr, "vibewatch-detect: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := detect.DetectFiles(ctx, input, output, logger)
	if err != nil {
		logger.Error("detection failed", zap.Error(err))
		return 1
	}
	logger.Info("distress summary written",
		zap.String("output", output),
		zap.Int("employees", len(res.EmployeeIDs)),
		zap.Int("flagged", len(res.Flagged)),
		zap.Float64("offset", res.Offset))
	return 0
}
