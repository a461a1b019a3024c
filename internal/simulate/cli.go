package simulate

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/sitwell/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging logs to stdout and, when logFile is set, to that file as well.
// "auto" picks a timestamped filename.
func SetupLogging(logFile, format string) (func() error, error) {
	if logFile == "" {
		return func() error { return nil }, logger.InitWriter(os.Stdout, format)
	}
	if logFile == "auto" {
		logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWriter(io.MultiWriter(os.Stdout, file), format); err != nil {
		_ = file.Close()
		return nil, err
	}
	return file.Close, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`sitwell simulator
=================

Plays scripted users (calibrate, slouch, stare, lean in, step away) against a
running service and checks that every expected alert shows up in the stored
session timeline.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -sessions int
        Number of simulated users (default 20)
  -workers int
        Number of concurrent workers (default CPU cores)
  -mode string
        upload or stream (default "upload")
  -fps float
        Frame rate of the recordings (default 15)
  -seed uint
        Seed of the first user (default 1)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Write per-session outcomes as JSON to this file
  -log string
        Also log to this file; "auto" picks a timestamped name
  -verbose
        Log every session
  -help
        Show this help message

Examples:
  go run ./cmd/simulate -sessions 100 -workers 16
  go run ./cmd/simulate -mode stream -sessions 5 -verbose
`)
}
