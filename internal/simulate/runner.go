package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// ErrMismatch reports that at least one session did not match its script.
var ErrMismatch = errors.New("sessions did not match the script")

// Run executes a complete simulation against a running service.
func Run(ctx context.Context, cfg *Config) (*Stats, []Outcome, error) {
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}
	script := DefaultScript()

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("workers", cfg.Workers),
		logger.String("mode", cfg.Mode),
		logger.Float64("fps", cfg.FPS))

	settings, err := script.SettingsFor(cfg.FPS)
	if err != nil {
		return stats, nil, fmt.Errorf("script settings: %w", err)
	}

	client := NewHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return stats, nil, fmt.Errorf("service health check failed: %w", err)
	}

	outcomes := make([]Outcome, cfg.Sessions)
	jobs := make(chan int, cfg.Workers)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = runOne(ctx, cfg, client, script, settings, uint64(i)) //nolint:gosec // i is non-negative
				if cfg.Verbose {
					log.Info(ctx, "session done",
						logger.String("session", outcomes[i].SessionID),
						logger.Bool("ok", outcomes[i].OK()))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Sessions; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	for _, o := range outcomes {
		if o.UploadID == "" {
			continue
		}
		stats.SessionsSubmitted++
		stats.FramesSent += o.Frames
		switch {
		case o.Err != "":
			stats.SessionsFailed++
			log.Warn(ctx, "session failed", logger.String("upload", o.UploadID), logger.String("error", o.Err))
		case len(o.Problems) > 0:
			stats.SessionsMismatch++
			log.Warn(ctx, "session mismatch", logger.String("session", o.SessionID), logger.Any("problems", o.Problems))
		default:
			stats.SessionsVerified++
		}
	}

	if cfg.OutputFile != "" {
		if err := saveOutcomes(cfg.OutputFile, outcomes); err != nil {
			log.Warn(ctx, "failed to save outcomes", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if err := ctx.Err(); err != nil {
		return stats, outcomes, err
	}
	if stats.SessionsFailed > 0 || stats.SessionsMismatch > 0 {
		return stats, outcomes, fmt.Errorf("%w: %d failed, %d mismatched", ErrMismatch, stats.SessionsFailed, stats.SessionsMismatch)
	}
	return stats, outcomes, nil
}

func runOne(ctx context.Context, cfg *Config, client *HTTPClient, script Script, settings json.RawMessage, i uint64) Outcome {
	rec := &Recording{
		UploadID:  uuid.NewString(),
		Settings:  settings,
		StartedAt: time.Now().UTC(),
		Frames:    script.Generate(cfg.FPS, cfg.Seed+i),
	}
	out := Outcome{UploadID: rec.UploadID, Frames: len(rec.Frames)}

	var sum model.Summary
	if cfg.Mode == ModeStream {
		id, streamed, err := client.Stream(ctx, rec)
		out.SessionID = id
		if err != nil {
			out.Err = err.Error()
			return out
		}
		sum = streamed
	} else {
		uploaded, _, err := client.Upload(ctx, rec)
		if err != nil {
			out.Err = err.Error()
			return out
		}
		out.SessionID = uploaded.ID
		sum = uploaded.Summary
	}
	out.Problems = Verify(script, cfg.FPS, sum)

	stored, err := client.Session(ctx, out.SessionID)
	if err != nil {
		out.Err = fmt.Sprintf("read back: %v", err)
		return out
	}
	if !stored.Finalized {
		out.Problems = append(out.Problems, "stored session is not finalized")
	}
	if diff := cmp.Diff(sum, stored.Summary); diff != "" {
		out.Problems = append(out.Problems, "stored summary differs (-returned +stored):\n"+diff)
	}
	return out
}

func saveOutcomes(filename string, outcomes []Outcome) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, filePermission)
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var framesPerSecond float64
	if stats.Duration > 0 {
		framesPerSecond = float64(stats.FramesSent) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("sessionsSubmitted", stats.SessionsSubmitted),
		logger.Int("sessionsVerified", stats.SessionsVerified),
		logger.Int("sessionsMismatch", stats.SessionsMismatch),
		logger.Int("sessionsFailed", stats.SessionsFailed),
		logger.Int("framesSent", stats.FramesSent),
		logger.Duration("duration", stats.Duration),
		logger.Float64("framesPerSecond", framesPerSecond))
}
