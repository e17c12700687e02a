package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"handbook-scraper/internal/models"
)

//go:embed schema.sql
var schema string

// Run is one successful crawl as recorded after its snapshot was written.
type Run struct {
	ID          string       `json:"id"`
	Version     string       `json:"version"`
	GeneratedAt string       `json:"generatedAt"`
	StudyPeriod string       `json:"studyPeriod"`
	Year        int          `json:"year"`
	Stats       models.Stats `json:"stats"`
	Output      string       `json:"output"`
	RecordedAt  time.Time    `json:"recordedAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the history database and creates the schema. driver is
// "sqlite" for a local file or "libsql" for a remote libsql/turso url.
func Open(driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("history dsn is empty")
	}
	switch driver {
	case "sqlite":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, err
			}
		}
	case "libsql":
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores a run for snap, written to output.
func (s *Store) Record(ctx context.Context, snap *models.Snapshot, output string) (Run, error) {
	run := Run{
		ID:          uuid.New().String(),
		Version:     snap.Version,
		GeneratedAt: snap.GeneratedAt,
		StudyPeriod: snap.Source.StudyPeriod,
		Year:        snap.Source.Year,
		Stats:       snap.Stats,
		Output:      output,
		RecordedAt:  s.now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx,
		`insert into runs (id, version, generated_at, study_period, year, total_found, total_saved, skipped, output, recorded_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Version, run.GeneratedAt, run.StudyPeriod, run.Year,
		run.Stats.TotalFound, run.Stats.TotalSaved, run.Stats.Skipped,
		run.Output, run.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, version, generated_at, study_period, year, total_found, total_saved, skipped, output, recorded_at
		from runs order by recorded_at desc, rowid desc limit ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run        Run
			recordedAt int64
		)
		err := rows.Scan(
			&run.ID, &run.Version, &run.GeneratedAt, &run.StudyPeriod, &run.Year,
			&run.Stats.TotalFound, &run.Stats.TotalSaved, &run.Stats.Skipped,
			&run.Output, &recordedAt,
		)
		if err != nil {
			return nil, err
		}
		run.RecordedAt = time.UnixMilli(recordedAt).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Latest returns the most recent run, or nil when none was recorded.
func (s *Store) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.List(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}
