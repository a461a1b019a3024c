package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/sitwell/internal/simulate"
	"github.com/okian/sitwell/pkg/logger"
)

// Default configuration constants.
const (
	defaultSessions = 20
	defaultFPS      = 15
	defaultTimeout  = 30 * time.Second
	defaultRunLimit = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		sessions   = flag.Int("sessions", defaultSessions, "Number of simulated users")
		workers    = flag.Int("workers", runtime.NumCPU(), "Number of concurrent workers")
		mode       = flag.String("mode", simulate.ModeUpload, "Submission mode: upload or stream")
		fps        = flag.Float64("fps", defaultFPS, "Frame rate of the recordings")
		seed       = flag.Uint64("seed", 1, "Seed of the first user")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Write per-session outcomes as JSON to this file")
		logFile    = flag.String("log", "", `Also log to this file; "auto" picks a timestamped name`)
		logFormat  = flag.String("log-format", "text", "Log format: text or json")
		verbose    = flag.Bool("verbose", false, "Log every session")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closeLog, err := simulate.SetupLogging(*logFile, *logFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	if *mode != simulate.ModeUpload && *mode != simulate.ModeStream {
		_, _ = os.Stderr.WriteString("Unknown mode: " + *mode + "\n")
		os.Exit(2)
	}
	if *sessions < 1 || *workers < 1 || *fps <= 0 {
		_, _ = os.Stderr.WriteString("sessions, workers and fps must be positive\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunLimit)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:    *baseURL,
		Sessions:   *sessions,
		Workers:    *workers,
		Mode:       *mode,
		FPS:        *fps,
		Seed:       *seed,
		Timeout:    *timeout,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	if _, _, err := simulate.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
}
