package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists session records in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// OpenSQLite opens (or creates) the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrateUp(db, o.log); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, log: o.log, stopChan: make(chan struct{})}
	go runMetricsUpdater(ctx, o.metricsUpdateInterval, s.stopChan, func() {
		metrics.UpdateStoredSessions(s.Count(ctx))
	})
	return s, nil
}

func migrateUp(db *sql.DB, log logger.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: closing it would close db.
	if log != nil {
		m.Log = &migrateLogger{log: log}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct {
	log logger.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }

const upsertSession = `
INSERT INTO sessions (id, started_at, updated_at, fps, finalized, total_frames, rejected_frames, baseline, timeline)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    updated_at      = excluded.updated_at,
    fps             = excluded.fps,
    finalized       = excluded.finalized,
    total_frames    = excluded.total_frames,
    rejected_frames = excluded.rejected_frames,
    baseline        = excluded.baseline,
    timeline        = excluded.timeline
WHERE NOT (sessions.finalized = 1 AND excluded.finalized = 0)
  AND excluded.total_frames >= sessions.total_frames`

const selectSession = `
SELECT id, started_at, updated_at, fps, finalized, total_frames, rejected_frames, baseline, timeline
FROM sessions`

// Save upserts rec unless it would regress the stored record.
func (s *SQLiteStore) Save(ctx context.Context, rec model.SessionRecord) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPersistLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	var baseline []byte
	if rec.Baseline != nil {
		b, err := json.Marshal(rec.Baseline)
		if err != nil {
			return false, fmt.Errorf("encode baseline: %w", err)
		}
		baseline = b
	}
	tl := rec.Timeline
	if tl == nil {
		tl = model.Timeline{}
	}
	timeline, err := json.Marshal(tl)
	if err != nil {
		return false, fmt.Errorf("encode timeline: %w", err)
	}

	res, err := s.db.ExecContext(ctx, upsertSession,
		rec.ID, rec.StartedAt.UnixNano(), rec.UpdatedAt.UnixNano(), rec.FPS, rec.Finalized,
		rec.TotalFrames, rec.RejectedFrames, nullable(baseline), string(timeline))
	if err != nil {
		metrics.RecordErrorByComponent("repository", "save_failed")
		return false, fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return n > 0, nil
}

// Get returns the record with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]model.SessionRecord, error) {
	if offset < 0 {
		metrics.RecordErrorByComponent("repository", "invalid_page")
		return nil, ErrInvalidPage
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, selectSession+` ORDER BY started_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []model.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored records, or 0 when the query fails.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		metrics.RecordErrorByComponent("repository", "count_failed")
		if s.log != nil {
			s.log.Warn(ctx, "count sessions failed", logger.Error(err))
		}
		return 0
	}
	return n
}

// Close stops the metrics updater and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		err = s.db.Close()
	})
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (model.SessionRecord, error) {
	var (
		rec              model.SessionRecord
		started, updated int64
		baseline         sql.NullString
		timeline         string
	)
	if err := sc.Scan(&rec.ID, &started, &updated, &rec.FPS, &rec.Finalized,
		&rec.TotalFrames, &rec.RejectedFrames, &baseline, &timeline); err != nil {
		return model.SessionRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	if baseline.Valid {
		rec.Baseline = &model.Baseline{}
		if err := json.Unmarshal([]byte(baseline.String), rec.Baseline); err != nil {
			return model.SessionRecord{}, fmt.Errorf("decode baseline: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(timeline), &rec.Timeline); err != nil {
		return model.SessionRecord{}, fmt.Errorf("decode timeline: %w", err)
	}
	return rec, nil
}

func nullable(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
