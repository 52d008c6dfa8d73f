// Package main implements vibewatch-merge, which turns the six HR extracts
// into the per-employee master feature table.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/features"
	"github.com/vibewatch/vibewatch/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("vibewatch-merge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var paths features.Paths
	var output, logLevel string
	fs.StringVar(&paths.Activity, "activity", "", "Path to activity dataset CSV")
	fs.StringVar(&paths.Leave, "leave", "", "Path to leave dataset CSV")
	fs.StringVar(&paths.Onboarding, "onboarding", "", "Path to onboarding dataset CSV")
	fs.StringVar(&paths.Performance, "performance", "", "Path to performance dataset CSV")
	fs.StringVar(&paths.Rewards, "rewards", "", "Path to rewards dataset CSV")
	fs.StringVar(&paths.Mood, "vibemeter", "", "Path to vibemeter dataset CSV")
	fs.StringVar(&output, "output", "", "Path to save the output master CSV file")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := paths.Validate(); err != nil {
		fmt.Fprintf(stderr, "vibewatch-merge: %v\n", err)
		fs.Usage()
		return 2
	}
	if output == "" {
		fmt.Fprintln(stderr, "vibewatch-merge: --output is required")
		fs.Usage()
		return 2
	}

	logger, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		fmt.Fprintf(stderr, "vibewatch-merge: %v\n", err)
		return 1
	}
	defer logger.Sync()

	start := time.Now()
	master, err := features.MergeFiles(context.Background(), paths, output)
	if err != nil {
		logger.Error("merge failed", zap.Error(err))
		return 1
	}
	logger.Info("master table written",
		zap.String("output", output),
		zap.Int("employees", master.Len()),
		zap.Int("columns", master.Width()),
		zap.Duration("elapsed", time.Since(start)))
	return 0
}
