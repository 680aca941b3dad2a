package launch

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hpcrun/hpcrun/pkg/api"
)

// Store is the SQLite-backed launch history.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// LaunchRecord is one row of launch history.
type LaunchRecord struct {
	ID           string
	StartedAt    time.Time
	Scheduler    string
	Nodes        int
	ProcsPerNode int
	WorldSize    int
	Command      string
	State        api.JobState
	ExitCode     int
}

func (s *Store) RecordLaunch(ctx context.Context, rec LaunchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (id, started_at, scheduler, nodes, procs_per_node, world_size, command, state, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UTC(), rec.Scheduler, rec.Nodes, rec.ProcsPerNode, rec.WorldSize, rec.Command, string(rec.State), rec.ExitCode)
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// RecentLaunches returns the newest records first.
func (s *Store) RecentLaunches(ctx context.Context, limit int) ([]LaunchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, scheduler, nodes, procs_per_node, world_size, command, state, exit_code
		 FROM launches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()
	var recs []LaunchRecord
	for rows.Next() {
		var rec LaunchRecord
		var state string
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.Scheduler, &rec.Nodes, &rec.ProcsPerNode, &rec.WorldSize, &rec.Command, &state, &rec.ExitCode); err != nil {
			return nil, fmt.Errorf("scan launch row: %w", err)
		}
		rec.State = api.JobState(state)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
